// Package session handles the one manual step of the pipeline: logging
// into the job board in a headful browser and persisting the browser
// storage state so every later stage runs authenticated.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/applypilot/applypilot/internal/page"
)

// State is the pipeline-level session metadata, kept next to the
// browser storage state file.
type State struct {
	BaseURL          string `json:"base_url"`
	StorageStatePath string `json:"storage_state_path"`
	LastLoginAt      string `json:"last_login_at"`
	LoginMethod      string `json:"login_method"`
}

// LoadState reads the state file. A missing or corrupt file is an
// empty state, not an error; a corrupt file is logged.
func LoadState(path string) State {
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		slog.Warn("corrupt session state file, starting fresh", "path", path, "error", err)
		return State{}
	}
	return st
}

// SaveState writes the state file atomically.
func SaveState(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Signs of an authenticated session. Board markup shifts, so several
// candidates are probed.
var loggedInSelectors = []string{
	`[data-testid="user-menu"]`,
	`button:has-text("Log out")`,
	`[aria-label="My profile"]`,
}

// IsLoggedIn reports whether the page shows an authenticated UI.
func IsLoggedIn(pg page.Page) bool {
	for _, sel := range loggedInSelectors {
		loc := pg.CSS(sel)
		if loc.Count() > 0 && loc.First().Visible() {
			return true
		}
	}
	return false
}

// WaitForLogin polls until the user finishes logging in manually or
// the window runs out.
func WaitForLogin(ctx context.Context, pg page.Page, window time.Duration) bool {
	interval := 3 * time.Second
	if window < interval {
		interval = window
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(window)
	for {
		if IsLoggedIn(pg) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// Manager runs the login flow and owns the two session files.
type Manager struct {
	StatePath   string
	StoragePath string
	LoadTimeout time.Duration
}

// Login opens baseURL, waits up to wait for a manual login if needed,
// then persists the browser storage state and the session metadata.
func (m *Manager) Login(ctx context.Context, s page.Session, baseURL string, wait time.Duration) error {
	pg, err := s.NewPage()
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer pg.Close()

	if err := pg.Navigate(ctx, baseURL); err != nil {
		return fmt.Errorf("open %s: %w", baseURL, err)
	}
	pg.WaitLoaded(m.LoadTimeout)

	if !IsLoggedIn(pg) {
		slog.InfoContext(ctx, "waiting for manual login", "window", wait)
		if !WaitForLogin(ctx, pg, wait) {
			return fmt.Errorf("login not completed within %s", wait)
		}
	}

	if err := s.SaveState(m.StoragePath); err != nil {
		return fmt.Errorf("save storage state: %w", err)
	}
	st := LoadState(m.StatePath)
	st.BaseURL = baseURL
	st.StorageStatePath = m.StoragePath
	st.LastLoginAt = time.Now().UTC().Format(time.RFC3339)
	st.LoginMethod = "manual"
	if err := SaveState(m.StatePath, st); err != nil {
		return err
	}
	slog.InfoContext(ctx, "login state saved",
		"storage_state", m.StoragePath, "state", m.StatePath)
	return nil
}
