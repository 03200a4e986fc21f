package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/applypilot/applypilot/internal/engine"
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/page/pagetest"
	"github.com/applypilot/applypilot/internal/store"
)

const listingURL = "https://example.com/offers/senior-go-developer"

// fastConfig keeps every window tiny so timeout paths finish quickly.
func fastConfig() engine.Config {
	return engine.Config{
		IntroText:       "Hello, I am keen on this role.",
		PollInterval:    5 * time.Millisecond,
		ResolveWindow:   100 * time.Millisecond,
		FormWindow:      30 * time.Millisecond,
		ClickTimeout:    50 * time.Millisecond,
		LoadTimeout:     10 * time.Millisecond,
		CookieWindow:    10 * time.Millisecond,
		VerifyWindow:    30 * time.Millisecond,
		VerifyInterval:  5 * time.Millisecond,
		ConfirmWindow:   100 * time.Millisecond,
		ConfirmInterval: 5 * time.Millisecond,
		OneClickWindow:  60 * time.Millisecond,
		PauseMin:        time.Millisecond,
		PauseMax:        2 * time.Millisecond,
	}
}

// fakeSite scripts a listing page: an "Apply now" opener that, once
// clicked, shows a dialog with an intro textarea, an affirmative
// select, a consent checkbox and an Apply submit button. Tests mutate
// the flags to model the other affordance behaviors.
type fakeSite struct {
	pg      *pagetest.Page
	session *pagetest.Session

	opener  *pagetest.Locator
	submit  *pagetest.Locator
	intro   *pagetest.Locator
	selects *pagetest.Locator
	consent *pagetest.Locator

	dialogOpen bool
	auditOK    bool
	scopeGone  bool
	bodyText   string

	// confirmAfter > 0 makes the body show the thank-you text only
	// after that many body reads, to exercise the confirmation window.
	confirmAfter int
	bodyPolls    int
}

func newFakeSite() *fakeSite {
	s := &fakeSite{auditOK: true, bodyText: "Senior Go Developer at Acme"}

	notInForm := func(string) (any, error) { return false, nil }
	s.opener = &pagetest.Locator{N: 1, IsVisible: true, EvalFn: notInForm}
	s.opener.OnClick = func() error {
		s.dialogOpen = true
		return nil
	}
	s.submit = &pagetest.Locator{N: 1, IsVisible: true}
	s.submit.OnClick = func() error {
		s.bodyText = "Thank you for your application"
		return nil
	}
	s.intro = &pagetest.Locator{N: 1, IsVisible: true}
	s.selects = &pagetest.Locator{N: 1, IsVisible: true,
		EvalFn: func(string) (any, error) { return []any{"Choose...", "Yes", "No"}, nil }}
	s.consent = &pagetest.Locator{N: 1, IsVisible: true,
		EvalFn: func(string) (any, error) { return "I consent to the processing of my personal data", nil }}

	s.pg = &pagetest.Page{CurrentURL: listingURL}
	s.pg.CSSFn = func(sel string) page.Locator {
		if !s.dialogOpen {
			return pagetest.None()
		}
		switch {
		case strings.Contains(sel, `button:has-text("Apply")`):
			return s.submit
		case strings.Contains(sel, "textarea"):
			return s.intro
		case strings.HasSuffix(sel, " select"):
			return s.selects
		case strings.Contains(sel, "checkbox"):
			return s.consent
		case sel == "[role='dialog'] form" || sel == "[role='dialog']":
			return pagetest.Visible()
		}
		return pagetest.None()
	}
	s.pg.ByRoleFn = func(role page.Role, name *regexp.Regexp) page.Locator {
		switch {
		case role == page.RoleButton && !s.dialogOpen && name.MatchString("Apply now"):
			return s.opener
		case role == page.RoleTextbox && s.dialogOpen && name.MatchString("Message"):
			return s.intro
		}
		return pagetest.None()
	}
	s.pg.EvalFn = func(js string, args ...any) (any, error) {
		switch {
		case strings.Contains(js, "required_total"):
			scope := ""
			if len(args) > 0 {
				scope, _ = args[0].(string)
			}
			if !s.dialogOpen || s.scopeGone {
				return map[string]any{"ok": false, "required_total": float64(0),
					"missing": []any{}, "scope": "scope_not_found"}, nil
			}
			if s.auditOK {
				return map[string]any{"ok": true, "required_total": float64(2),
					"missing": []any{}, "scope": scope}, nil
			}
			return map[string]any{"ok": false, "required_total": float64(3),
				"missing": []any{map[string]any{"type": "file", "name": "CV", "reason": "no-file"}},
				"scope":   scope}, nil
		case strings.Contains(js, "document.body"):
			s.bodyPolls++
			if s.confirmAfter > 0 && s.bodyPolls >= s.confirmAfter {
				return "Thank you for your application", nil
			}
			return s.bodyText, nil
		}
		return "", nil
	}

	s.session = &pagetest.Session{NewPageFn: func() (page.Page, error) { return s.pg, nil }}
	return s
}

func newTestStore(recs ...model.JobRecord) *store.Store {
	dir, err := os.MkdirTemp("", "applypilot-engine")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { os.RemoveAll(dir) })
	st := store.New(filepath.Join(dir, "records.jsonl"))
	for _, r := range recs {
		Expect(st.Append(r)).To(Succeed())
	}
	return st
}

func rowByID(st *store.Store, id string) map[string]any {
	rows, err := st.Rows()
	Expect(err).NotTo(HaveOccurred())
	for _, row := range rows {
		if row["id"] == id {
			return row
		}
	}
	Fail("record " + id + " not found")
	return nil
}

var _ = Describe("Resolve", func() {
	var (
		site *fakeSite
		eng  *engine.Engine
		ctx  context.Context
	)

	BeforeEach(func() {
		site = newFakeSite()
		eng = engine.New(site.session, newTestStore(), nil, fastConfig())
		ctx = context.Background()
	})

	It("classifies an already-open form as modal without clicking", func() {
		site.dialogOpen = true

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeModal))
		Expect(out.EasyApply).To(BeTrue())
		Expect(out.Clicked).To(BeFalse())
		Expect(site.opener.Clicks).To(BeZero())
	})

	It("resolves a modal after exactly one opener click", func() {
		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeModal))
		Expect(out.EasyApply).To(BeTrue())
		Expect(out.FinalURL).To(Equal(listingURL))
		Expect(site.opener.Clicks).To(Equal(1))
	})

	It("prefers a modal over a popup that appears in the same tick", func() {
		popup := &pagetest.Page{CurrentURL: "https://ats.example.com/apply/42"}
		site.opener.OnClick = func() error {
			site.dialogOpen = true
			site.session.AddPopup(popup)
			return nil
		}

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeModal))
		Expect(out.EasyApply).To(BeTrue())
	})

	It("adopts a popup when no modal appears", func() {
		popup := &pagetest.Page{CurrentURL: "https://ats.example.com/apply/42"}
		site.opener.OnClick = func() error {
			site.session.AddPopup(popup)
			return nil
		}

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModePopup))
		Expect(out.EasyApply).To(BeFalse())
		Expect(out.FinalURL).To(Equal("https://ats.example.com/apply/42"))
		Expect(out.Popup).To(Equal(page.Page(popup)))
	})

	It("detects same-tab navigation", func() {
		site.opener.OnClick = func() error {
			site.pg.CurrentURL = "https://example.com/apply-form/42"
			return nil
		}

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeNav))
		Expect(out.EasyApply).To(BeFalse())
		Expect(out.FinalURL).To(Equal("https://example.com/apply-form/42"))
	})

	It("times out and records the opener's likely destination", func() {
		site.opener.OnClick = func() error { return nil }
		site.opener.Attrs = map[string]string{"href": "/apply/123"}

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeTimeout))
		Expect(out.Clicked).To(BeTrue())
		Expect(out.EasyApply).To(BeFalse())
		Expect(out.FinalURL).To(Equal("https://example.com/apply/123"))
	})

	It("reports no affordance when the listing offers none", func() {
		site.pg.ByRoleFn = nil

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeNone))
		Expect(out.ApplyFound).To(BeFalse())
	})

	It("completes a one-click application", func() {
		oneClick := &pagetest.Locator{N: 1, IsVisible: true,
			EvalFn: func(string) (any, error) { return false, nil }}
		oneClick.OnClick = func() error {
			site.bodyText = "Application submitted"
			return nil
		}
		site.pg.ByRoleFn = func(role page.Role, name *regexp.Regexp) page.Locator {
			if role == page.RoleButton && name.MatchString("1-click apply") {
				return oneClick
			}
			return pagetest.None()
		}

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeOneClickSuccess))
		Expect(out.EasyApply).To(BeTrue())
		Expect(oneClick.Clicks).To(Equal(1))
	})

	It("reports an unconfirmed one-click attempt", func() {
		oneClick := &pagetest.Locator{N: 1, IsVisible: true,
			EvalFn: func(string) (any, error) { return false, nil }}
		site.pg.ByRoleFn = func(role page.Role, name *regexp.Regexp) page.Locator {
			if role == page.RoleButton && name.MatchString("1-click apply") {
				return oneClick
			}
			return pagetest.None()
		}

		out := eng.Resolve(ctx, site.pg)

		Expect(out.Mode).To(Equal(model.ModeOneClickTimeout))
		Expect(out.EasyApply).To(BeTrue())
	})
})

var _ = Describe("ProcessRecord", func() {
	var (
		site *fakeSite
		st   *store.Store
		eng  *engine.Engine
		ctx  context.Context
		rec  model.JobRecord
	)

	BeforeEach(func() {
		site = newFakeSite()
		rec = model.JobRecord{ID: "101", URL: listingURL, EasyApply: true}
		st = newTestStore(rec)
		eng = engine.New(site.session, st, nil, fastConfig())
		ctx = context.Background()
	})

	It("fills, audits, submits and marks the record processed on confirmation", func() {
		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.intro.Fills).To(ConsistOf("Hello, I am keen on this role."))
		Expect(site.selects.Selects).To(ConsistOf("Yes"))
		Expect(site.consent.Checks).To(Equal(1))
		Expect(site.submit.Clicks).To(Equal(1))

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(true))
		Expect(row["s4_form_found"]).To(Equal(true))
		Expect(row["s4_intro_verified"]).To(Equal(true))
		Expect(row["s4_submit_clicked"]).To(Equal(true))
		Expect(row["s4_confirmation"]).To(Equal(true))
		Expect(row["s4_error"]).To(BeNil())
		Expect(row["last_attempt_at"]).NotTo(BeEmpty())
	})

	It("never clicks submit when the audit reports missing fields", func() {
		site.auditOK = false

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.submit.Clicks).To(BeZero())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(false))
		Expect(row["s4_form_ready"]).To(Equal(false))
		Expect(row["s4_submit_clicked"]).To(Equal(false))
		Expect(row["s4_error"]).To(BeNil())
		Expect(row["s4_form_ready_missing"]).To(ContainElement(HaveKeyWithValue("reason", "no-file")))
	})

	It("records a confirmation even when the submit was blocked", func() {
		site.auditOK = false
		site.bodyText = "Thank you for your application"

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.submit.Clicks).To(BeZero())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(true))
		Expect(row["s4_confirmation"]).To(Equal(true))
		Expect(row["s4_submit_clicked"]).To(Equal(false))
	})

	It("does not submit when the intro text could not be verified", func() {
		site.intro.N = 0

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.submit.Clicks).To(BeZero())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(false))
		Expect(row["s4_intro_verified"]).To(Equal(false))
		Expect(row["s4_error"]).To(BeNil())
	})

	It("submits without intro verification when no intro text is configured", func() {
		site.intro.N = 0
		cfg := fastConfig()
		cfg.IntroText = ""
		eng = engine.New(site.session, st, nil, cfg)

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.submit.Clicks).To(Equal(1))
		Expect(rowByID(st, "101")["processed"]).To(Equal(true))
	})

	It("waits the full confirmation window when the form scope disappears", func() {
		site.scopeGone = true
		site.confirmAfter = 10
		cfg := fastConfig()
		cfg.ConfirmWindow = 500 * time.Millisecond
		eng = engine.New(site.session, st, nil, cfg)

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.submit.Clicks).To(BeZero())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(true))
		Expect(row["s4_confirmation"]).To(Equal(true))
	})

	It("leaves a vanished-scope attempt pending when nothing confirms", func() {
		site.scopeGone = true

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(false))
		Expect(row["s4_error"]).To(BeNil())
	})

	It("sees a confirmation rendered inside a frame", func() {
		frameBody := ""
		frame := &pagetest.Page{EvalFn: func(js string, args ...any) (any, error) {
			if strings.Contains(js, "document.body") {
				return frameBody, nil
			}
			return "", nil
		}}
		site.pg.FramesList = []page.Scope{frame}
		site.submit.OnClick = func() error {
			frameBody = "Thank you for your application"
			return nil
		}

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(true))
		Expect(row["s4_confirmation"]).To(Equal(true))
	})

	It("prefers the labeled apply button over generic submit candidates", func() {
		generic := &pagetest.Locator{N: 1, IsVisible: true}
		orig := site.pg.CSSFn
		site.pg.CSSFn = func(sel string) page.Locator {
			if strings.Contains(sel, "button[type='submit']") && site.dialogOpen {
				return generic
			}
			return orig(sel)
		}

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.submit.Clicks).To(Equal(1))
		Expect(generic.Clicks).To(BeZero())
	})

	It("picks the affirmative option from a custom dropdown widget", func() {
		site.selects.N = 0
		combo := &pagetest.Locator{N: 1, IsVisible: true}
		option := &pagetest.Locator{N: 1, IsVisible: true, TextValue: "Yes"}
		orig := site.pg.CSSFn
		site.pg.CSSFn = func(sel string) page.Locator {
			switch {
			case strings.Contains(sel, "combobox"):
				if site.dialogOpen {
					return combo
				}
				return pagetest.None()
			case strings.Contains(sel, "[role='option']"):
				if site.dialogOpen {
					return option
				}
				return pagetest.None()
			}
			return orig(sel)
		}

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(combo.Clicks).To(Equal(1))
		Expect(option.Clicks).To(Equal(1))
		Expect(rowByID(st, "101")["s4_selects_set"]).To(Equal(float64(1)))
	})

	It("ticks a consent checkbox that has no resolvable label", func() {
		site.consent.EvalFn = func(string) (any, error) { return "", nil }

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.consent.Checks).To(Equal(1))
	})

	It("leaves checkboxes with unrelated labels alone", func() {
		site.consent.EvalFn = func(string) (any, error) { return "Subscribe to the newsletter", nil }

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(site.consent.Checks).To(BeZero())
	})

	It("ticks consent widgets exposed only through their ARIA role", func() {
		aria := &pagetest.Locator{N: 1, IsVisible: true,
			EvalFn: func(string) (any, error) { return "I agree to the terms", nil }}
		site.consent.N = 0
		orig := site.pg.ByRoleFn
		site.pg.ByRoleFn = func(role page.Role, name *regexp.Regexp) page.Locator {
			if role == page.RoleCheckbox && site.dialogOpen {
				return aria
			}
			return orig(role, name)
		}

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		Expect(aria.Checks).To(Equal(1))
	})

	It("marks a listing without an affordance outdated and processed", func() {
		site.pg.ByRoleFn = nil

		Expect(eng.ProcessRecord(ctx, rec)).To(Succeed())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(true))
		Expect(row["outdated"]).To(Equal(true))
		Expect(row["easy_apply"]).To(Equal(false))
		Expect(row["s4_form_found"]).To(Equal(false))
	})

	It("fails with form-not-found when the affordance opens a popup", func() {
		popup := &pagetest.Page{CurrentURL: "https://ats.example.com/apply/42"}
		site.opener.OnClick = func() error {
			site.session.AddPopup(popup)
			return nil
		}

		err := eng.ProcessRecord(ctx, rec)

		Expect(errors.Is(err, engine.ErrFormNotFound)).To(BeTrue())
		Expect(popup.IsClosed).To(BeTrue())

		row := rowByID(st, "101")
		Expect(row["processed"]).To(Equal(false))
		Expect(row["final_url"]).To(Equal("https://ats.example.com/apply/42"))
	})

	It("skips records that are not pending", func() {
		done := model.JobRecord{ID: "102", URL: listingURL, EasyApply: true, Processed: true}

		Expect(eng.ProcessRecord(ctx, done)).To(Succeed())

		Expect(site.session.Opened).To(BeEmpty())
	})
})

var _ = Describe("Run", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("is a no-op once every record is processed", func() {
		site := newFakeSite()
		st := newTestStore(model.JobRecord{ID: "201", URL: listingURL, EasyApply: true})
		eng := engine.New(site.session, st, nil, fastConfig())

		Expect(eng.Run(ctx)).To(Succeed())
		Expect(eng.Run(ctx)).To(Succeed())

		Expect(site.session.Opened).To(HaveLen(1))
		Expect(rowByID(st, "201")["processed"]).To(Equal(true))
	})

	It("stops on the first failure under fail-fast", func() {
		site := newFakeSite()
		site.pg.NavigateErr = errors.New("net::ERR_CONNECTION_RESET")
		st := newTestStore(
			model.JobRecord{ID: "301", URL: listingURL, EasyApply: true},
			model.JobRecord{ID: "302", URL: listingURL, EasyApply: true},
		)
		cfg := fastConfig()
		cfg.FailFast = true
		eng := engine.New(site.session, st, nil, cfg)

		err := eng.Run(ctx)

		Expect(err).To(HaveOccurred())
		Expect(site.session.Opened).To(HaveLen(1))
	})

	It("keeps going past failures by default", func() {
		site := newFakeSite()
		site.pg.NavigateErr = errors.New("net::ERR_CONNECTION_RESET")
		st := newTestStore(
			model.JobRecord{ID: "301", URL: listingURL, EasyApply: true},
			model.JobRecord{ID: "302", URL: listingURL, EasyApply: true},
		)
		eng := engine.New(site.session, st, nil, fastConfig())

		Expect(eng.Run(ctx)).To(Succeed())

		Expect(site.session.Opened).To(HaveLen(2))
		Expect(rowByID(st, "301")["s4_error"]).NotTo(BeNil())
		Expect(rowByID(st, "302")["s4_error"]).NotTo(BeNil())
	})
})
