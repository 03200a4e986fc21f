// Package page defines the boundary to the browser-automation
// capability. The engine, collector and filter only see these
// interfaces; the Playwright adapter and the test fakes implement them.
//
// Query methods never fail loudly: a lookup on a page in a weird state
// reports "nothing there" (zero count, not visible) instead of an
// error, because every caller is a heuristic that treats absence and
// breakage the same way. Actions (click, fill, select) return errors so
// callers can fall back.
package page

import (
	"context"
	"regexp"
	"time"
)

// Role is an ARIA role used for accessible-name lookups.
type Role string

const (
	RoleButton   Role = "button"
	RoleLink     Role = "link"
	RoleTextbox  Role = "textbox"
	RoleCheckbox Role = "checkbox"
	RoleCombobox Role = "combobox"
)

// Locator is a lazy handle to zero or more matching controls, in
// document order.
type Locator interface {
	Count() int
	First() Locator
	Nth(i int) Locator

	Visible() bool
	Checked() bool
	Disabled() bool

	// Click performs a trusted click; ClickScript dispatches el.click()
	// for controls that intercept pointer events.
	Click(timeout time.Duration) error
	ClickScript() error

	Fill(text string, timeout time.Duration) error
	Value() (string, error)
	Text() (string, error)
	Texts() []string
	Attr(name string) string

	SelectLabel(label string) error
	Check() error

	ScrollIntoView()
	Hover()

	// Eval runs js against the first matching element, bound as `el`.
	Eval(js string) (any, error)
}

// Scope is a queryable DOM scope: a page or one of its frames.
type Scope interface {
	CSS(selector string) Locator
	ByRole(role Role, name *regexp.Regexp) Locator
	ByText(pattern *regexp.Regexp) Locator

	// Eval runs js in the scope's JS context.
	Eval(js string, args ...any) (any, error)

	URL() string
}

// Page is one browser tab.
type Page interface {
	Scope

	Frames() []Scope

	Navigate(ctx context.Context, url string) error
	// WaitLoaded waits best-effort for the page to settle (network
	// idle); it returns when the window elapses regardless.
	WaitLoaded(timeout time.Duration)

	Press(key string)
	Wheel(deltaY int)

	Screenshot(path string) error

	Close()
	Closed() bool
}

// Session is one authenticated browsing context owning its pages.
type Session interface {
	NewPage() (Page, error)
	Pages() []Page
	SaveState(path string) error
	Close()
}
