// Package manual bridges the automated pipeline and a human: it
// exports records that still need a hand-made application into a work
// queue file, and folds the human's processed flags back into the
// record store.
package manual

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/applypilot/applypilot/internal/filter"
	"github.com/applypilot/applypilot/internal/store"
)

// WorkItem is one entry of the manual queue: just enough to open the
// posting and judge it.
type WorkItem struct {
	ID                string   `json:"id"`
	FinalURL          string   `json:"final_url"`
	Processed         bool     `json:"processed"`
	DescriptionSample []string `json:"description_sample"`
}

// Export writes every unprocessed record into the work queue file,
// pretty-printed one object per block so the file is hand-editable.
// The previous queue is replaced.
func Export(records *store.Store, outPath string) (int, error) {
	rows, err := records.Rows()
	if err != nil {
		return 0, err
	}

	var buf strings.Builder
	count := 0
	for _, row := range rows {
		if processed, ok := row["processed"].(bool); !ok || processed {
			continue
		}
		item := WorkItem{
			ID:                str(row["id"]),
			FinalURL:          str(row["final_url"]),
			DescriptionSample: cleanSample(row["description_sample"]),
		}
		if item.FinalURL == "" {
			item.FinalURL = str(row["url"])
		}
		if item.DescriptionSample == nil {
			item.DescriptionSample = []string{}
		}
		raw, err := json.MarshalIndent(item, "", " ")
		if err != nil {
			return count, fmt.Errorf("encode work item %s: %w", item.ID, err)
		}
		buf.Write(raw)
		buf.WriteByte('\n')
		count++
	}

	if err := writeAtomic(outPath, []byte(buf.String())); err != nil {
		return count, err
	}
	slog.Info("manual work queue written", "path", outPath, "count", count)
	return count, nil
}

// ApplyFlags folds processed=true marks from the work queue back into
// the record store. Matching is by id and final_url together so a
// retried record with a different destination is not flipped by a
// stale mark. A missing queue file is a no-op.
func ApplyFlags(records *store.Store, manualPath string) (int, error) {
	if _, err := os.Stat(manualPath); os.IsNotExist(err) {
		slog.Info("no manual work queue, skipping flag merge", "path", manualPath)
		return 0, nil
	}
	manualRows, err := store.New(manualPath).Rows()
	if err != nil {
		return 0, err
	}

	type key struct{ id, finalURL string }
	targets := make(map[key]struct{})
	for _, m := range manualRows {
		if processed, ok := m["processed"].(bool); !ok || !processed {
			continue
		}
		id := strings.TrimSpace(str(m["id"]))
		finalURL := strings.TrimSpace(str(m["final_url"]))
		if id != "" && finalURL != "" {
			targets[key{id, finalURL}] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	rows, err := records.Rows()
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, row := range rows {
		k := key{
			strings.TrimSpace(str(row["id"])),
			strings.TrimSpace(str(row["final_url"])),
		}
		if _, hit := targets[k]; !hit {
			continue
		}
		if processed, ok := row["processed"].(bool); ok && processed {
			continue
		}
		row["processed"] = true
		updated++
	}
	if updated > 0 {
		if err := records.Rewrite(rows); err != nil {
			return 0, err
		}
	}
	slog.Info("manual flags applied", "updated", updated)
	return updated, nil
}

// cleanSample normalizes a stored description_sample (string or list
// of strings) into clean visible rows.
func cleanSample(v any) []string {
	switch t := v.(type) {
	case string:
		return filter.VisibleRows(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s := str(it); s != "" {
				parts = append(parts, s)
			}
		}
		return filter.VisibleRows(strings.Join(parts, "\n"))
	default:
		return []string{}
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
