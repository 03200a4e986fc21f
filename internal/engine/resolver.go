package engine

import (
	"context"
	"log/slog"

	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
)

// Outcome is the result of resolving a listing's apply affordance.
type Outcome struct {
	Mode       model.ResolutionMode
	ApplyFound bool
	Clicked    bool
	EasyApply  bool
	FinalURL   string

	// Scope is set for modal resolutions (and listings whose form was
	// already open): the scope the fill phase operates in.
	Scope page.Scope
	// Popup is the adopted page for popup resolutions. The caller owns
	// closing it.
	Popup page.Page
}

// Resolve classifies how a listing's apply affordance behaves. The
// opener is clicked exactly once; after that, detectors race within
// the resolve window and the first to fire decides the mode. Priority
// within a tick is modal, then popup, then nav.
func (e *Engine) Resolve(ctx context.Context, pg page.Page) Outcome {
	if sc, ok := FormScope(pg); ok {
		return Outcome{
			Mode:       model.ModeModal,
			ApplyFound: true,
			EasyApply:  true,
			FinalURL:   pg.URL(),
			Scope:      sc,
		}
	}

	if oc := findOneClick(pg); oc != nil {
		return e.resolveOneClick(ctx, pg, oc)
	}

	opener := FindOpener(pg)
	if opener == nil {
		// Some boards render the form lazily; give it a short grace
		// window before declaring the listing has no affordance.
		var sc page.Scope
		found := Await(ctx, e.cfg.FormWindow, e.cfg.PollInterval, func() bool {
			var ok bool
			sc, ok = FormScope(pg)
			return ok
		})
		if found {
			return Outcome{
				Mode:       model.ModeModal,
				ApplyFound: true,
				EasyApply:  true,
				FinalURL:   pg.URL(),
				Scope:      sc,
			}
		}
		return Outcome{Mode: model.ModeNone, FinalURL: pg.URL()}
	}

	origURL := pg.URL()
	detectors := []Detector{
		&modalDetector{pg: pg},
		newPopupDetector(e.session),
		&navDetector{pg: pg, origURL: origURL},
	}

	opener.ScrollIntoView()
	clicked := true
	if err := opener.Click(e.cfg.ClickTimeout); err != nil {
		if serr := opener.ClickScript(); serr != nil {
			slog.WarnContext(ctx, "opener click failed", "error", err)
			clicked = false
		}
	}
	if !clicked {
		return Outcome{Mode: model.ModeError, ApplyFound: true, FinalURL: origURL}
	}

	var sig *Signal
	Await(ctx, e.cfg.ResolveWindow, e.cfg.PollInterval, func() bool {
		sig = detectFirst(detectors)
		return sig != nil
	})

	if sig == nil {
		final := probableHref(pg, opener)
		if final == "" {
			final = pg.URL()
		}
		return Outcome{Mode: model.ModeTimeout, ApplyFound: true, Clicked: true, FinalURL: final}
	}

	out := Outcome{
		Mode:       sig.Mode,
		ApplyFound: true,
		Clicked:    true,
		FinalURL:   sig.URL,
		Scope:      sig.Scope,
		Popup:      sig.Popup,
	}
	switch sig.Mode {
	case model.ModeModal:
		out.EasyApply = true
	case model.ModePopup:
		sig.Popup.WaitLoaded(e.cfg.LoadTimeout)
		if e.cfg.AllowCookieClick {
			acceptCookies(ctx, sig.Popup, e.cfg.CookieWindow)
		}
		out.FinalURL = sig.Popup.URL()
	case model.ModeNav:
		pg.WaitLoaded(e.cfg.LoadTimeout)
		out.FinalURL = pg.URL()
	}
	slog.DebugContext(logger.WithLogFields(ctx, logger.LogFields{"mode": string(out.Mode)}), "affordance resolved")
	return out
}

// resolveOneClick handles the dedicated one-click affordance: a single
// click, then a confirmation wait. No form is involved either way.
func (e *Engine) resolveOneClick(ctx context.Context, pg page.Page, oc page.Locator) Outcome {
	oc.ScrollIntoView()
	if err := oc.Click(e.cfg.ClickTimeout); err != nil {
		if serr := oc.ClickScript(); serr != nil {
			return Outcome{Mode: model.ModeError, ApplyFound: true, FinalURL: pg.URL()}
		}
	}
	mode := model.ModeOneClickTimeout
	if waitForConfirmation(ctx, pg, e.cfg.OneClickWindow, e.cfg.ConfirmInterval) {
		mode = model.ModeOneClickSuccess
	}
	return Outcome{
		Mode:       mode,
		ApplyFound: true,
		Clicked:    true,
		EasyApply:  true,
		FinalURL:   pg.URL(),
	}
}
