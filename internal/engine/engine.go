// Package engine drives the apply attempt for records already
// classified as easy-apply: it resolves the listing's affordance,
// fills and audits the form, and submits only when the audit passes,
// writing attempt telemetry back into the record store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/internal/await"
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/store"
)

// ErrFormNotFound means the affordance resolved, but no fillable
// application form materialized in any scope we control.
var ErrFormNotFound = errors.New("application form not found")

// Diagnostics captures failure context. Implemented by the diag sink;
// a nil Diagnostics disables capture.
type Diagnostics interface {
	Capture(ctx context.Context, stage, recordID string, pg page.Page, cause error)
}

// Config tunes the engine's windows and pacing. Zero values fall back
// to the defaults below.
type Config struct {
	IntroText        string
	FailFast         bool
	Limit            int
	AllowCookieClick bool

	PollInterval    time.Duration
	ResolveWindow   time.Duration
	FormWindow      time.Duration
	ClickTimeout    time.Duration
	LoadTimeout     time.Duration
	CookieWindow    time.Duration
	VerifyWindow    time.Duration
	VerifyInterval  time.Duration
	ConfirmWindow   time.Duration
	ConfirmInterval time.Duration
	OneClickWindow  time.Duration

	PauseMin time.Duration
	PauseMax time.Duration
}

func (c Config) withDefaults() Config {
	def := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.PollInterval, 200*time.Millisecond)
	def(&c.ResolveWindow, 10*time.Second)
	def(&c.FormWindow, 5*time.Second)
	def(&c.ClickTimeout, 5*time.Second)
	def(&c.LoadTimeout, 15*time.Second)
	def(&c.CookieWindow, 12*time.Second)
	def(&c.VerifyWindow, 2500*time.Millisecond)
	def(&c.VerifyInterval, 300*time.Millisecond)
	def(&c.ConfirmWindow, 90*time.Second)
	def(&c.ConfirmInterval, 500*time.Millisecond)
	def(&c.OneClickWindow, 20*time.Second)
	def(&c.PauseMin, 2*time.Second)
	def(&c.PauseMax, 5*time.Second)
	return c
}

// Engine is the apply-resolution engine for one session.
type Engine struct {
	session page.Session
	records *store.Store
	diag    Diagnostics
	cfg     Config
}

func New(session page.Session, records *store.Store, diag Diagnostics, cfg Config) *Engine {
	return &Engine{session: session, records: records, diag: diag, cfg: cfg.withDefaults()}
}

// Run processes every pending record once, in store order, with a
// randomized pause between attempts. A failed attempt stops the run
// only under FailFast; otherwise the error is recorded and the run
// moves on.
func (e *Engine) Run(ctx context.Context) error {
	pending, err := e.records.Pending(e.cfg.Limit)
	if err != nil {
		return fmt.Errorf("load pending records: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "no pending records")
		return nil
	}
	slog.InfoContext(ctx, "processing pending records", "count", len(pending))
	for i, rec := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.ProcessRecord(ctx, rec); err != nil {
			if e.cfg.FailFast {
				return err
			}
			slog.ErrorContext(ctx, "apply attempt failed", "record_id", rec.ID, "error", err)
		}
		if i < len(pending)-1 {
			await.Pause(ctx, e.cfg.PauseMin, e.cfg.PauseMax)
		}
	}
	return nil
}

// ProcessRecord runs one apply attempt end to end and persists the
// resulting telemetry. Re-running a processed record is a no-op.
func (e *Engine) ProcessRecord(ctx context.Context, rec model.JobRecord) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		"record_id": rec.ID,
		"url":       rec.URL,
		"stage":     "apply",
	})
	if !rec.Pending() {
		slog.DebugContext(ctx, "record not pending, skipping")
		return nil
	}

	tel := model.Telemetry{
		LastAttemptAt:    time.Now().UTC().Format(time.RFC3339),
		FormReadyMissing: []model.MissingField{},
	}

	pg, err := e.session.NewPage()
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer pg.Close()

	target := rec.FinalURL
	if target == "" {
		target = rec.URL
	}
	if err := pg.Navigate(ctx, target); err != nil {
		return e.fail(ctx, rec, &tel, pg, nil, fmt.Errorf("navigate %s: %w", target, err))
	}
	pg.WaitLoaded(e.cfg.LoadTimeout)
	if e.cfg.AllowCookieClick {
		acceptCookies(ctx, pg, e.cfg.CookieWindow)
	}

	out := e.Resolve(ctx, pg)
	if out.Popup != nil {
		defer out.Popup.Close()
	}

	switch out.Mode {
	case model.ModeOneClickSuccess:
		tel.Confirmation = true
		slog.InfoContext(ctx, "one-click application confirmed")
		return e.persist(ctx, rec, &tel, map[string]any{
			"processed": true,
			"final_url": out.FinalURL,
		})
	case model.ModeOneClickTimeout:
		slog.WarnContext(ctx, "one-click attempt unconfirmed")
		return e.persist(ctx, rec, &tel, map[string]any{"final_url": out.FinalURL})
	case model.ModeNone:
		// The affordance the filter saw is gone: the posting expired.
		slog.InfoContext(ctx, "apply affordance gone, marking outdated")
		return e.persist(ctx, rec, &tel, map[string]any{
			"outdated":   true,
			"processed":  true,
			"easy_apply": false,
		})
	case model.ModeModal:
		// fall through to the fill phase
	default:
		return e.fail(ctx, rec, &tel, pg, map[string]any{"final_url": out.FinalURL},
			fmt.Errorf("%w: resolved to %s", ErrFormNotFound, out.Mode))
	}

	sc := out.Scope
	root, ok := activeFormRoot(sc)
	if !ok {
		return e.fail(ctx, rec, &tel, pg, nil, ErrFormNotFound)
	}
	tel.FormFound = true

	tel.IntroduceFilled, tel.IntroVerified = e.fillIntro(ctx, sc, root)
	tel.SelectsSet = setAffirmativeSelects(sc, root)
	tel.ConsentsTicked = tickConsents(sc, root)

	rep := auditForm(sc, root)
	tel.FormReady = rep.OK
	tel.RequiredTotal = rep.RequiredTotal
	if rep.Missing != nil {
		tel.FormReadyMissing = rep.Missing
	}

	if scopeLost(rep) {
		// The form vanished before submit. Either it auto-submitted or
		// the dialog collapsed; confirmation decides which.
		slog.InfoContext(ctx, "form scope gone before submit")
		return e.finish(ctx, rec, &tel, pg)
	}

	// An unset intro text needs no verification.
	introOK := tel.IntroVerified || strings.TrimSpace(e.cfg.IntroText) == ""
	switch {
	case !rep.OK:
		// A blocked submit is an expected outcome, not a failure: the
		// record stays pending for a manual pass.
		slog.WarnContext(ctx, "submit blocked, form not ready",
			"missing", describeMissing(rep.Missing))
		return e.finish(ctx, rec, &tel, pg)
	case !introOK:
		slog.WarnContext(ctx, "submit blocked, introduction text not verified")
		return e.finish(ctx, rec, &tel, pg)
	}

	if clickSubmit(sc, root, e.cfg.ClickTimeout) {
		tel.SubmitClicked = true
	} else {
		slog.WarnContext(ctx, "submit button not found or not clickable")
	}
	return e.finish(ctx, rec, &tel, pg)
}

// finish waits out the confirmation window and persists the outcome.
// Only a detected confirmation marks the record processed.
func (e *Engine) finish(ctx context.Context, rec model.JobRecord, tel *model.Telemetry, pg page.Page) error {
	if waitForConfirmation(ctx, pg, e.cfg.ConfirmWindow, e.cfg.ConfirmInterval) {
		tel.Confirmation = true
		slog.InfoContext(ctx, "application confirmed")
		return e.persist(ctx, rec, tel, map[string]any{"processed": true})
	}
	slog.WarnContext(ctx, "no confirmation detected")
	return e.persist(ctx, rec, tel, nil)
}

// persist merges telemetry and extra fields into the record.
func (e *Engine) persist(ctx context.Context, rec model.JobRecord, tel *model.Telemetry, extra map[string]any) error {
	patch, err := store.AsPatch(tel)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	for k, v := range extra {
		patch[k] = v
	}
	m := store.Match{ID: rec.ID}
	if rec.ID == "" {
		m = store.Match{URL: rec.URL}
	}
	if _, err := e.records.Upsert(m, patch); err != nil {
		return fmt.Errorf("persist record %s: %w", rec.Key(), err)
	}
	slog.DebugContext(ctx, "record updated",
		"confirmation", tel.Confirmation, "submit_clicked", tel.SubmitClicked)
	return nil
}

// fail records the error in telemetry, captures diagnostics, persists,
// and returns the error for the driver's fail-fast decision.
func (e *Engine) fail(ctx context.Context, rec model.JobRecord, tel *model.Telemetry, pg page.Page, extra map[string]any, cause error) error {
	msg := cause.Error()
	tel.Error = &msg
	if e.diag != nil {
		e.diag.Capture(ctx, "apply", rec.Key(), pg, cause)
	}
	if perr := e.persist(ctx, rec, tel, extra); perr != nil {
		slog.ErrorContext(ctx, "failed to persist error telemetry", "error", perr)
	}
	return cause
}
