// Package filter consumes freshly collected links: it extracts the job
// description, matches it against the keyword list, probes how the
// listing's apply affordance behaves, and writes the enriched record
// into the filtered store.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/internal/await"
	"github.com/applypilot/applypilot/internal/engine"
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/store"
)

// Prober classifies a listing's apply affordance. Satisfied by the
// apply engine so the filter and the engine agree on what counts as
// easy apply.
type Prober interface {
	Resolve(ctx context.Context, pg page.Page) engine.Outcome
}

// Config tunes one filter run.
type Config struct {
	Keywords []string
	Limit    int
	FailFast bool

	ScrollStep    int
	MaxScrolls    int
	ScrollPause   time.Duration
	LoadTimeout   time.Duration
	ItemPauseMin  time.Duration
	ItemPauseMax  time.Duration
	BatchPauseMin time.Duration
	BatchPauseMax time.Duration
}

func (c Config) withDefaults() Config {
	c.Keywords = NormalizeKeywords(c.Keywords)
	if c.ScrollStep <= 0 {
		c.ScrollStep = 400
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 120
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 3600 * time.Millisecond
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 15 * time.Second
	}
	if c.ItemPauseMin <= 0 {
		c.ItemPauseMin = 60 * time.Second
	}
	if c.ItemPauseMax < c.ItemPauseMin {
		c.ItemPauseMax = 180 * time.Second
	}
	if c.BatchPauseMin <= 0 {
		c.BatchPauseMin = 300 * time.Second
	}
	if c.BatchPauseMax < c.BatchPauseMin {
		c.BatchPauseMax = 660 * time.Second
	}
	return c
}

// Filter turns raw links into filtered records.
type Filter struct {
	session page.Session
	links   *store.Store
	records *store.Store
	prober  Prober
	diag    engine.Diagnostics
	cfg     Config
}

func New(session page.Session, links, records *store.Store, prober Prober, diag engine.Diagnostics, cfg Config) *Filter {
	return &Filter{
		session: session,
		links:   links,
		records: records,
		prober:  prober,
		diag:    diag,
		cfg:     cfg.withDefaults(),
	}
}

// Run drains the link store in batches until no new links remain.
func (f *Filter) Run(ctx context.Context) error {
	for batch := 1; ; batch++ {
		rows, err := f.links.NewLinks(f.cfg.Limit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if batch == 1 {
				slog.InfoContext(ctx, "no new links to filter")
			}
			return nil
		}
		slog.InfoContext(ctx, "filtering batch", "batch", batch, "count", len(rows))
		for i, row := range rows {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := f.ProcessOne(ctx, row); err != nil {
				if f.cfg.FailFast {
					return err
				}
				slog.ErrorContext(ctx, "filtering link failed", "url", row.URL, "error", err)
			}
			if i < len(rows)-1 {
				await.Pause(ctx, f.cfg.ItemPauseMin, f.cfg.ItemPauseMax)
			}
		}
		more, err := f.links.NewLinks(1)
		if err != nil {
			return err
		}
		if len(more) == 0 {
			slog.InfoContext(ctx, "all new links filtered")
			return nil
		}
		await.Pause(ctx, f.cfg.BatchPauseMin, f.cfg.BatchPauseMax)
	}
}

// ProcessOne filters a single link and marks it consumed. Keyword
// rejection and a missing affordance are terminal; every other outcome
// leaves the record for the apply engine or the manual queue.
func (f *Filter) ProcessOne(ctx context.Context, link model.JobRecord) error {
	if link.URL == "" {
		return f.consume(link)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		"stage": "filter", "record_id": link.ID, "url": link.URL,
	})
	slog.InfoContext(ctx, "processing new link")

	pg, err := f.session.NewPage()
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer pg.Close()

	if err := pg.Navigate(ctx, link.URL); err != nil {
		return f.fail(ctx, link, pg, fmt.Errorf("navigate %s: %w", link.URL, err))
	}
	pg.WaitLoaded(f.cfg.LoadTimeout)
	f.scrollToBottom(ctx, pg)

	desc := DescriptionText(pg)
	keywordExists, matched := FindKeywords(desc, f.cfg.Keywords)

	rec := model.JobRecord{
		ID:                link.ID,
		DataIndex:         link.DataIndex,
		JobName:           link.JobName,
		Location:          link.Location,
		URL:               link.URL,
		FinalURL:          link.URL,
		KeywordExists:     keywordExists,
		MatchedKeywords:   matched,
		DescriptionSample: VisibleRows(desc),
		ProcessedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	if !keywordExists {
		rec.Processed = true
		slog.InfoContext(ctx, "rejected by keyword filter")
		return f.save(rec, link)
	}

	out := f.prober.Resolve(ctx, pg)
	if out.Popup != nil {
		out.Popup.Close()
	}
	rec.EasyApply = out.EasyApply
	if out.FinalURL != "" {
		rec.FinalURL = out.FinalURL
	}
	if !out.ApplyFound {
		rec.Outdated = true
		rec.Processed = true
		slog.InfoContext(ctx, "no apply affordance, marking outdated")
	} else {
		slog.InfoContext(ctx, "affordance resolved",
			"mode", string(out.Mode), "easy_apply", out.EasyApply)
	}
	return f.save(rec, link)
}

func (f *Filter) save(rec model.JobRecord, link model.JobRecord) error {
	if err := f.records.Append(rec); err != nil {
		return fmt.Errorf("save filtered record: %w", err)
	}
	return f.consume(link)
}

// consume flips new_href off so reruns skip the link.
func (f *Filter) consume(link model.JobRecord) error {
	m := store.Match{URL: link.URL}
	if link.URL == "" {
		m = store.Match{ID: link.ID}
	}
	if _, err := f.links.Upsert(m, map[string]any{"new_href": false}); err != nil {
		return fmt.Errorf("mark link consumed: %w", err)
	}
	return nil
}

func (f *Filter) fail(ctx context.Context, link model.JobRecord, pg page.Page, cause error) error {
	if f.diag != nil {
		f.diag.Capture(ctx, "filter", link.Key(), pg, cause)
	}
	return cause
}

const scrollByScript = `step => {
  const el = document.scrollingElement || document.documentElement;
  el.scrollBy(0, step || 400);
  return Math.ceil(el.scrollTop + window.innerHeight) >= el.scrollHeight - 2;
}`

// scrollToBottom walks the page down slowly so lazy-rendered
// description sections mount before extraction.
func (f *Filter) scrollToBottom(ctx context.Context, pg page.Page) {
	for i := 0; i < f.cfg.MaxScrolls; i++ {
		v, err := pg.Eval(scrollByScript, f.cfg.ScrollStep)
		done, _ := v.(bool)
		if err != nil || done || ctx.Err() != nil {
			return
		}
		await.Sleep(ctx, f.cfg.ScrollPause)
	}
}

// Selectors likely to hold the job description, most specific first.
var descriptionSelectors = []string{
	`[data-testid="job-description"]`,
	`[data-test="job-description"]`,
	`[data-testid="offer-description"]`,
	`[data-testid="sections"]`,
	`section:has(h2:has-text("Job Description"))`,
	`section:has(h2:has-text("Opis"))`,
	`section:has(h2:has-text("Description"))`,
	"article",
	"main",
}

// DescriptionText extracts the listing's description: the longest
// substantial text among the candidate containers, falling back to the
// whole page body.
func DescriptionText(pg page.Page) string {
	best := ""
	for _, sel := range descriptionSelectors {
		loc := pg.CSS(sel)
		n := loc.Count()
		if n > 6 {
			n = 6
		}
		for i := 0; i < n; i++ {
			t, err := loc.Nth(i).Text()
			if err != nil {
				continue
			}
			t = strings.TrimSpace(t)
			if len(t) > 50 && len(t) > len(best) {
				best = t
			}
		}
		if best != "" {
			return best
		}
	}
	for _, sel := range []string{"div[role='main']", "#__next main", "body"} {
		if t, err := pg.CSS(sel).First().Text(); err == nil {
			if t = strings.TrimSpace(t); t != "" {
				return t
			}
		}
	}
	return ""
}
