package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/applypilot/applypilot/internal/model"
)

// Store persists job records in a JSONL file. Objects may be compact
// one-per-line or pretty-printed across multiple lines back to back;
// both forms are read transparently. Every mutation rewrites the whole
// file through a temp file and an atomic rename, so a killed process
// never leaves a partially written store behind.
//
// The store assumes a single writer. It is the only shared mutable
// resource of the pipeline.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Match selects the first record an upsert applies to. When both ID and
// URL are set, both must agree; FinalURL additionally pins the match for
// rows duplicated by retries that resolved different destinations.
type Match struct {
	ID       string
	URL      string
	FinalURL string
}

func (m Match) matches(row map[string]any) bool {
	switch {
	case m.ID != "" && m.URL != "":
		return stringField(row, "id") == m.ID && stringField(row, "url") == m.URL
	case m.ID != "" && m.FinalURL != "":
		return stringField(row, "id") == m.ID && stringField(row, "final_url") == m.FinalURL
	case m.ID != "":
		return stringField(row, "id") == m.ID
	case m.URL != "":
		return stringField(row, "url") == m.URL
	default:
		return false
	}
}

func stringField(row map[string]any, key string) string {
	v, _ := row[key].(string)
	return v
}

// Rows streams every JSON object out of the file. A missing file is an
// empty store. Trailing garbage after the last decodable object is
// logged and skipped rather than failing the run.
func (s *Store) Rows() ([]map[string]any, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	var rows []map[string]any
	dec := json.NewDecoder(f)
	for {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			if err == io.EOF {
				break
			}
			slog.Warn("skipping undecodable tail of record file",
				"path", s.path, "rows_read", len(rows), "error", err)
			break
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// All decodes every row into a typed record. Unknown keys are preserved
// on disk but invisible here; use Upsert for partial mutation.
func (s *Store) All() ([]model.JobRecord, error) {
	rows, err := s.Rows()
	if err != nil {
		return nil, err
	}
	recs := make([]model.JobRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			slog.Warn("skipping malformed record", "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Pending returns records the apply engine should visit:
// easy_apply == true and processed == false. limit <= 0 means all.
func (s *Store) Pending(limit int) ([]model.JobRecord, error) {
	return s.selectRecords(limit, model.JobRecord.Pending)
}

// NewLinks returns collector output not yet consumed by the filter.
func (s *Store) NewLinks(limit int) ([]model.JobRecord, error) {
	return s.selectRecords(limit, func(r model.JobRecord) bool { return r.NewHref })
}

// Unprocessed returns every record still awaiting a terminal outcome.
func (s *Store) Unprocessed() ([]model.JobRecord, error) {
	return s.selectRecords(0, func(r model.JobRecord) bool { return !r.Processed })
}

func (s *Store) selectRecords(limit int, keep func(model.JobRecord) bool) ([]model.JobRecord, error) {
	recs, err := s.All()
	if err != nil {
		return nil, err
	}
	var out []model.JobRecord
	for _, r := range recs {
		if !keep(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// URLSet returns the set of URLs already present, for collector dedupe.
func (s *Store) URLSet() (map[string]struct{}, error) {
	rows, err := s.Rows()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if u := stringField(row, "url"); u != "" {
			seen[u] = struct{}{}
		}
	}
	return seen, nil
}

// Append adds one record at the end of the file without rewriting it.
func (s *Store) Append(rec model.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := AsPatch(rec)
	if err != nil {
		return err
	}
	line, err := encodeRecord(row)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", s.path, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

// Upsert shallow-merges patch into the first record matching m,
// preserving keys the patch does not name, and rewrites the file
// atomically. Without a match the patch becomes a new record. Applying
// the same patch twice yields the same file as applying it once.
func (s *Store) Upsert(m Match, patch map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.Rows()
	if err != nil {
		return false, err
	}
	matched := false
	for _, row := range rows {
		if m.matches(row) {
			for k, v := range patch {
				row[k] = v
			}
			matched = true
			break
		}
	}
	if !matched {
		rows = append(rows, patch)
	}
	if err := s.writeAll(rows); err != nil {
		return matched, err
	}
	return matched, nil
}

// Rewrite replaces the whole file with the given rows, atomically.
func (s *Store) Rewrite(rows []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAll(rows)
}

func (s *Store) writeAll(rows []map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", s.path, err)
	}

	var buf bytes.Buffer
	for _, row := range rows {
		line, err := encodeRecord(row)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// AsPatch converts any JSON-taggable value into an upsert patch.
func AsPatch(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding patch: %w", err)
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	return row, nil
}

func decodeRecord(row map[string]any) (model.JobRecord, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return model.JobRecord{}, err
	}
	var rec model.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.JobRecord{}, err
	}
	return rec, nil
}

// Key order on disk is not semantically significant but is kept stable
// so reruns produce diffable files: identity and status keys first,
// everything unknown alphabetically in the middle, large text fields
// last.
var (
	prefixKeys = []string{
		"id", "data_index", "job_name", "location",
		"keyword_exists", "matched_keywords",
		"easy_apply", "outdated", "processed", "new_href", "processed_at",
		"last_attempt_at",
		"s4_form_found", "s4_introduce_filled", "s4_intro_verified",
		"s4_selects_set", "s4_consents_ticked",
		"s4_form_ready", "s4_form_ready_missing", "s4_form_required_total",
		"s4_submit_clicked", "s4_confirmation", "s4_error",
	}
	postfixKeys = []string{"url", "final_url", "description_sample"}
)

func encodeRecord(row map[string]any) ([]byte, error) {
	known := make(map[string]struct{}, len(prefixKeys)+len(postfixKeys))
	for _, k := range prefixKeys {
		known[k] = struct{}{}
	}
	for _, k := range postfixKeys {
		known[k] = struct{}{}
	}
	var middle []string
	for k := range row {
		if _, ok := known[k]; !ok {
			middle = append(middle, k)
		}
	}
	sort.Strings(middle)

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeKey := func(k string) error {
		v, ok := row[k]
		if !ok {
			return nil
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding field %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	for _, k := range prefixKeys {
		if err := writeKey(k); err != nil {
			return nil, err
		}
	}
	for _, k := range middle {
		if err := writeKey(k); err != nil {
			return nil, err
		}
	}
	for _, k := range postfixKeys {
		if err := writeKey(k); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
