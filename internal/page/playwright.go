package page

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser owns the Playwright driver and one launched Chromium.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// LaunchChromium starts the Playwright driver and launches Chromium.
// The automation-controlled blink feature is disabled because several
// job boards degrade or block flagged sessions.
func LaunchChromium(headful bool) (*Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!headful),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-popup-blocking",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launching chromium: %w", err)
	}
	return &Browser{pw: pw, browser: browser}, nil
}

// NewSession opens a browsing context, restoring cookies and local
// storage from storageStatePath when that file exists.
func (b *Browser) NewSession(storageStatePath string) (Session, error) {
	opts := playwright.BrowserNewContextOptions{}
	if storageStatePath != "" {
		if _, err := os.Stat(storageStatePath); err == nil {
			opts.StorageStatePath = playwright.String(storageStatePath)
		}
	}
	ctx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}
	ctx.SetDefaultTimeout(15000)
	return &pwSession{ctx: ctx, wrapped: make(map[playwright.Page]*pwPage)}, nil
}

func (b *Browser) Close() {
	if err := b.browser.Close(); err != nil {
		slog.Warn("closing browser", "error", err)
	}
	if err := b.pw.Stop(); err != nil {
		slog.Warn("stopping playwright", "error", err)
	}
}

type pwSession struct {
	ctx playwright.BrowserContext

	mu      sync.Mutex
	wrapped map[playwright.Page]*pwPage
}

func (s *pwSession) NewPage() (Page, error) {
	p, err := s.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	return s.wrap(p), nil
}

// Pages returns stable wrappers: the same tab always yields the same
// Page value, so callers can diff page sets to spot popups.
func (s *pwSession) Pages() []Page {
	raw := s.ctx.Pages()
	out := make([]Page, 0, len(raw))
	for _, p := range raw {
		out = append(out, s.wrap(p))
	}
	return out
}

func (s *pwSession) wrap(p playwright.Page) *pwPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wrapped[p]; ok {
		return w
	}
	w := &pwPage{p: p}
	s.wrapped[p] = w
	return w
}

func (s *pwSession) SaveState(path string) error {
	if _, err := s.ctx.StorageState(path); err != nil {
		return fmt.Errorf("saving storage state: %w", err)
	}
	return nil
}

func (s *pwSession) Close() {
	if err := s.ctx.Close(); err != nil {
		slog.Warn("closing browser context", "error", err)
	}
}

type pwPage struct {
	p playwright.Page
}

func (w *pwPage) CSS(selector string) Locator {
	return pwLocator{l: w.p.Locator(selector)}
}

func (w *pwPage) ByRole(role Role, name *regexp.Regexp) Locator {
	opts := playwright.PageGetByRoleOptions{}
	if name != nil {
		opts.Name = name
	}
	return pwLocator{l: w.p.GetByRole(ariaRole(role), opts)}
}

func (w *pwPage) ByText(pattern *regexp.Regexp) Locator {
	return pwLocator{l: w.p.GetByText(pattern)}
}

func (w *pwPage) Eval(js string, args ...any) (any, error) {
	if len(args) > 0 {
		return w.p.Evaluate(js, args[0])
	}
	return w.p.Evaluate(js)
}

func (w *pwPage) URL() string { return w.p.URL() }

func (w *pwPage) Frames() []Scope {
	frames := w.p.Frames()
	out := make([]Scope, 0, len(frames))
	for _, f := range frames {
		out = append(out, pwFrame{f: f})
	}
	return out
}

func (w *pwPage) Navigate(ctx context.Context, url string) error {
	timeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	_, err := w.p.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (w *pwPage) WaitLoaded(timeout time.Duration) {
	// Network idle never happens on some pages; treat expiry as loaded.
	_ = w.p.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (w *pwPage) Press(key string) {
	if err := w.p.Keyboard().Press(key); err != nil {
		slog.Debug("key press failed", "key", key, "error", err)
	}
}

func (w *pwPage) Wheel(deltaY int) {
	if err := w.p.Mouse().Wheel(0, float64(deltaY)); err != nil {
		slog.Debug("mouse wheel failed", "error", err)
	}
}

func (w *pwPage) Screenshot(path string) error {
	_, err := w.p.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("taking screenshot: %w", err)
	}
	return nil
}

func (w *pwPage) Close() {
	if err := w.p.Close(); err != nil {
		slog.Debug("closing page", "error", err)
	}
}

func (w *pwPage) Closed() bool { return w.p.IsClosed() }

type pwFrame struct {
	f playwright.Frame
}

func (w pwFrame) CSS(selector string) Locator {
	return pwLocator{l: w.f.Locator(selector)}
}

func (w pwFrame) ByRole(role Role, name *regexp.Regexp) Locator {
	opts := playwright.FrameGetByRoleOptions{}
	if name != nil {
		opts.Name = name
	}
	return pwLocator{l: w.f.GetByRole(ariaRole(role), opts)}
}

func (w pwFrame) ByText(pattern *regexp.Regexp) Locator {
	return pwLocator{l: w.f.GetByText(pattern)}
}

func (w pwFrame) Eval(js string, args ...any) (any, error) {
	if len(args) > 0 {
		return w.f.Evaluate(js, args[0])
	}
	return w.f.Evaluate(js)
}

func (w pwFrame) URL() string { return w.f.URL() }

type pwLocator struct {
	l playwright.Locator
}

func (w pwLocator) Count() int {
	n, err := w.l.Count()
	if err != nil {
		return 0
	}
	return n
}

func (w pwLocator) First() Locator    { return pwLocator{l: w.l.First()} }
func (w pwLocator) Nth(i int) Locator { return pwLocator{l: w.l.Nth(i)} }

func (w pwLocator) Visible() bool {
	ok, err := w.l.IsVisible()
	return err == nil && ok
}

func (w pwLocator) Checked() bool {
	ok, err := w.l.IsChecked()
	return err == nil && ok
}

func (w pwLocator) Disabled() bool {
	disabled, err := w.l.IsDisabled()
	// A control we cannot interrogate is treated as untouchable.
	return err != nil || disabled
}

func (w pwLocator) Click(timeout time.Duration) error {
	return w.l.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (w pwLocator) ClickScript() error {
	_, err := w.l.Evaluate("el => el.click()", nil)
	return err
}

func (w pwLocator) Fill(text string, timeout time.Duration) error {
	return w.l.Fill(text, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (w pwLocator) Value() (string, error) {
	return w.l.InputValue()
}

func (w pwLocator) Text() (string, error) {
	return w.l.TextContent()
}

func (w pwLocator) Texts() []string {
	texts, err := w.l.AllTextContents()
	if err != nil {
		return nil
	}
	return texts
}

func (w pwLocator) Attr(name string) string {
	v, err := w.l.GetAttribute(name)
	if err != nil {
		return ""
	}
	return v
}

func (w pwLocator) SelectLabel(label string) error {
	_, err := w.l.SelectOption(playwright.SelectOptionValues{
		Labels: &[]string{label},
	})
	return err
}

func (w pwLocator) Check() error {
	return w.l.Check()
}

func (w pwLocator) ScrollIntoView() {
	if err := w.l.ScrollIntoViewIfNeeded(); err != nil {
		slog.Debug("scroll into view failed", "error", err)
	}
}

func (w pwLocator) Hover() {
	if err := w.l.Hover(); err != nil {
		slog.Debug("hover failed", "error", err)
	}
}

func (w pwLocator) Eval(js string) (any, error) {
	return w.l.Evaluate(js, nil)
}

func ariaRole(role Role) playwright.AriaRole {
	switch role {
	case RoleButton:
		return *playwright.AriaRoleButton
	case RoleLink:
		return *playwright.AriaRoleLink
	case RoleTextbox:
		return *playwright.AriaRoleTextbox
	case RoleCheckbox:
		return *playwright.AriaRoleCheckbox
	case RoleCombobox:
		return *playwright.AriaRoleCombobox
	default:
		return playwright.AriaRole(role)
	}
}
