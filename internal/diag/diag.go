// Package diag captures failure artifacts: a full-page screenshot and
// a text trace per failed attempt, named so a run's files sort
// together.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/applypilot/applypilot/internal/page"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeFilename flattens arbitrary IDs and URLs into a filesystem-safe
// name fragment.
func SafeFilename(s string) string {
	out := unsafeChars.ReplaceAllString(s, "_")
	if len(out) > 80 {
		out = out[:80]
	}
	if out == "" {
		out = "item"
	}
	return out
}

// Sink writes diagnostic artifacts under a single directory.
type Sink struct {
	dir string

	// now is swapped in tests for deterministic names.
	now func() time.Time
}

func New(dir string) *Sink {
	return &Sink{dir: dir, now: time.Now}
}

// Capture writes a screenshot (when the page is still usable) and a
// trace file describing the failure. Capture itself never fails the
// caller; problems are logged and swallowed.
func (s *Sink) Capture(ctx context.Context, stage, recordID string, pg page.Page, cause error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		slog.ErrorContext(ctx, "cannot create diagnostics dir", "dir", s.dir, "error", err)
		return
	}
	ts := s.now().UTC()
	base := fmt.Sprintf("%s_%s_%s", stage, SafeFilename(recordID), ts.Format("20060102_150405"))

	var screenshot string
	if pg != nil && !pg.Closed() {
		path := filepath.Join(s.dir, base+".png")
		if err := pg.Screenshot(path); err == nil {
			screenshot = path
		} else {
			slog.WarnContext(ctx, "screenshot failed", "error", err)
		}
	}

	url := ""
	if pg != nil {
		url = pg.URL()
	}
	trace := fmt.Sprintf("TIME: %s\nSTAGE: %s\nRECORD: %s\nURL: %s\n\nERROR:\n%v\n",
		ts.Format(time.RFC3339), stage, recordID, url, cause)
	tracePath := filepath.Join(s.dir, base+".txt")
	if err := os.WriteFile(tracePath, []byte(trace), 0o644); err != nil {
		slog.ErrorContext(ctx, "cannot write trace file", "path", tracePath, "error", err)
		return
	}
	slog.InfoContext(ctx, "diagnostics captured",
		"trace", tracePath, "screenshot", screenshot)
}
