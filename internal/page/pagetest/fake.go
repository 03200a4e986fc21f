// Package pagetest provides scriptable fakes for the page automation
// boundary. Zero values behave like an empty page: every lookup finds
// nothing, every action succeeds. Tests override the function fields
// they care about.
package pagetest

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/applypilot/applypilot/internal/page"
)

// Locator is a canned lookup result. Fields describe the first match;
// function fields override behavior per call.
type Locator struct {
	N          int
	IsVisible  bool
	IsChecked  bool
	IsDisabled bool
	InputValue string
	TextValue  string
	AllTexts   []string
	Attrs      map[string]string

	ClickErr  error
	FillErr   error
	SelectErr error
	CheckErr  error

	OnClick  func() error
	OnFill   func(text string) error
	OnCheck  func() error
	OnSelect func(label string) error
	EvalFn   func(js string) (any, error)
	NthFn    func(i int) page.Locator

	Clicks  int
	Fills   []string
	Checks  int
	Selects []string

	mu sync.Mutex
}

var _ page.Locator = (*Locator)(nil)

// None is a lookup that finds nothing.
func None() *Locator { return &Locator{} }

// Visible is a single visible match.
func Visible() *Locator { return &Locator{N: 1, IsVisible: true} }

func (l *Locator) Count() int { return l.N }

func (l *Locator) First() page.Locator { return l }

func (l *Locator) Nth(i int) page.Locator {
	if l.NthFn != nil {
		return l.NthFn(i)
	}
	return l
}

func (l *Locator) Visible() bool  { return l.IsVisible }
func (l *Locator) Checked() bool  { return l.IsChecked }
func (l *Locator) Disabled() bool { return l.IsDisabled }

func (l *Locator) Click(timeout time.Duration) error {
	l.mu.Lock()
	l.Clicks++
	l.mu.Unlock()
	if l.OnClick != nil {
		return l.OnClick()
	}
	return l.ClickErr
}

func (l *Locator) ClickScript() error {
	return l.Click(0)
}

func (l *Locator) Fill(text string, timeout time.Duration) error {
	l.mu.Lock()
	l.Fills = append(l.Fills, text)
	l.mu.Unlock()
	if l.OnFill != nil {
		return l.OnFill(text)
	}
	if l.FillErr == nil {
		l.InputValue = text
	}
	return l.FillErr
}

func (l *Locator) Value() (string, error) { return l.InputValue, nil }
func (l *Locator) Text() (string, error)  { return l.TextValue, nil }
func (l *Locator) Texts() []string        { return l.AllTexts }

func (l *Locator) Attr(name string) string { return l.Attrs[name] }

func (l *Locator) SelectLabel(label string) error {
	l.mu.Lock()
	l.Selects = append(l.Selects, label)
	l.mu.Unlock()
	if l.OnSelect != nil {
		return l.OnSelect(label)
	}
	return l.SelectErr
}

func (l *Locator) Check() error {
	l.mu.Lock()
	l.Checks++
	l.mu.Unlock()
	if l.OnCheck != nil {
		return l.OnCheck()
	}
	if l.CheckErr == nil {
		l.IsChecked = true
	}
	return l.CheckErr
}

func (l *Locator) ScrollIntoView() {}
func (l *Locator) Hover()          {}

func (l *Locator) Eval(js string) (any, error) {
	if l.EvalFn != nil {
		return l.EvalFn(js)
	}
	return nil, nil
}

// Page fakes one tab. Lookups dispatch to the function fields; absent
// ones find nothing.
type Page struct {
	CSSFn    func(selector string) page.Locator
	ByRoleFn func(role page.Role, name *regexp.Regexp) page.Locator
	ByTextFn func(pattern *regexp.Regexp) page.Locator
	EvalFn   func(js string, args ...any) (any, error)

	CurrentURL string
	FramesList []page.Scope

	NavigateErr   error
	ScreenshotErr error

	Navigations []string
	Screenshots []string
	Pressed     []string
	IsClosed    bool

	mu sync.Mutex
}

var _ page.Page = (*Page)(nil)

func (p *Page) CSS(selector string) page.Locator {
	if p.CSSFn != nil {
		return p.CSSFn(selector)
	}
	return None()
}

func (p *Page) ByRole(role page.Role, name *regexp.Regexp) page.Locator {
	if p.ByRoleFn != nil {
		return p.ByRoleFn(role, name)
	}
	return None()
}

func (p *Page) ByText(pattern *regexp.Regexp) page.Locator {
	if p.ByTextFn != nil {
		return p.ByTextFn(pattern)
	}
	return None()
}

func (p *Page) Eval(js string, args ...any) (any, error) {
	if p.EvalFn != nil {
		return p.EvalFn(js, args...)
	}
	return nil, nil
}

func (p *Page) URL() string { return p.CurrentURL }

func (p *Page) Frames() []page.Scope { return p.FramesList }

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	p.mu.Unlock()
	if p.NavigateErr == nil {
		p.CurrentURL = url
	}
	return p.NavigateErr
}

func (p *Page) WaitLoaded(timeout time.Duration) {}

func (p *Page) Press(key string) {
	p.mu.Lock()
	p.Pressed = append(p.Pressed, key)
	p.mu.Unlock()
}

func (p *Page) Wheel(deltaY int) {}

func (p *Page) Screenshot(path string) error {
	p.mu.Lock()
	p.Screenshots = append(p.Screenshots, path)
	p.mu.Unlock()
	return p.ScreenshotErr
}

func (p *Page) Close()       { p.IsClosed = true }
func (p *Page) Closed() bool { return p.IsClosed }

// Session fakes a browsing context. Pages opened through NewPage are
// tracked; tests append to Extra to simulate popups.
type Session struct {
	NewPageFn func() (page.Page, error)

	Opened []page.Page
	Extra  []page.Page

	SavedStates []string
	IsClosed    bool

	mu sync.Mutex
}

var _ page.Session = (*Session)(nil)

func (s *Session) NewPage() (page.Page, error) {
	var pg page.Page
	var err error
	if s.NewPageFn != nil {
		pg, err = s.NewPageFn()
	} else {
		pg = &Page{}
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.Opened = append(s.Opened, pg)
	s.mu.Unlock()
	return pg, nil
}

func (s *Session) Pages() []page.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]page.Page, 0, len(s.Opened)+len(s.Extra))
	out = append(out, s.Opened...)
	out = append(out, s.Extra...)
	return out
}

// AddPopup simulates a tab opened by the site.
func (s *Session) AddPopup(pg page.Page) {
	s.mu.Lock()
	s.Extra = append(s.Extra, pg)
	s.mu.Unlock()
}

func (s *Session) SaveState(path string) error {
	s.mu.Lock()
	s.SavedStates = append(s.SavedStates, path)
	s.mu.Unlock()
	return nil
}

func (s *Session) Close() { s.IsClosed = true }
