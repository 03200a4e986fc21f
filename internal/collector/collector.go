// Package collector walks the board's infinite-scroll search results
// and appends every previously unseen listing link to the link store.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/applypilot/applypilot/common/id"
	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/internal/await"
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/store"
)

// anchorSelector matches one search-result card link.
const anchorSelector = "ul li[data-index] a[href]"

const atBottomScript = `() => {
  const el = document.scrollingElement || document.documentElement;
  return Math.ceil(el.scrollTop + el.clientHeight) >= el.scrollHeight - 2;
}`

const scrollStepScript = `() => {
  const el = document.scrollingElement || document.documentElement;
  const before = el.scrollTop;
  window.scrollBy(0, 100);
  return (el.scrollTop - before) > 0;
}`

// Config tunes one collection run.
type Config struct {
	BaseURL   string
	JobNames  []string
	Locations []string

	// Limit caps new links per search; a run that collects strictly
	// more than Limit reports limitHit. Zero means unlimited.
	Limit int
	// TargetIndex stops a search once the run-local ordinal reaches it.
	TargetIndex int

	MaxLoopTime    time.Duration
	ScrollPauseMin time.Duration
	ScrollPauseMax time.Duration
	AnchorWait     time.Duration
	LoadTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxLoopTime <= 0 {
		c.MaxLoopTime = 320 * time.Second
	}
	if c.ScrollPauseMin <= 0 {
		c.ScrollPauseMin = 60 * time.Millisecond
	}
	if c.ScrollPauseMax < c.ScrollPauseMin {
		c.ScrollPauseMax = 160 * time.Millisecond
	}
	if c.AnchorWait <= 0 {
		c.AnchorWait = 4 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 15 * time.Second
	}
	return c
}

// Collector appends new listing links for each job name and location
// pair.
type Collector struct {
	session page.Session
	links   *store.Store
	cfg     Config
}

func New(session page.Session, links *store.Store, cfg Config) *Collector {
	return &Collector{session: session, links: links, cfg: cfg.withDefaults()}
}

// BuildSearchURL composes the search page URL for one job and location.
func BuildSearchURL(base, job, location string) string {
	b := strings.TrimRight(base, "/")
	loc := strings.Trim(location, "/")
	q := url.Values{"keyword": []string{job}}
	return fmt.Sprintf("%s/job-offers/%s?%s", b, loc, q.Encode())
}

// Result summarizes one search's collection.
type Result struct {
	Added    int
	LimitHit bool
}

// Run collects every job name and location pair once and reports
// whether any search hit its limit.
func (c *Collector) Run(ctx context.Context) (Result, error) {
	var total Result
	for _, loc := range c.cfg.Locations {
		for _, job := range c.cfg.JobNames {
			res, err := c.Collect(ctx, job, loc)
			if err != nil {
				return total, err
			}
			total.Added += res.Added
			total.LimitHit = total.LimitHit || res.LimitHit
		}
	}
	return total, nil
}

// Collect walks one search's results: hover to activate the list,
// scroll in small steps (keyboard fallback when scrolling sticks), and
// scan the visible cards after each step. Stops at the bottom, at the
// limit, or when the loop budget runs out.
func (c *Collector) Collect(ctx context.Context, job, loc string) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		"stage": "collect", "job": job, "location": loc,
	})

	pg, err := c.session.NewPage()
	if err != nil {
		return Result{}, fmt.Errorf("open page: %w", err)
	}
	defer pg.Close()

	searchURL := BuildSearchURL(c.cfg.BaseURL, job, loc)
	slog.InfoContext(ctx, "opening search", "url", searchURL)
	if err := pg.Navigate(ctx, searchURL); err != nil {
		return Result{}, fmt.Errorf("open search %s: %w", searchURL, err)
	}
	pg.WaitLoaded(c.cfg.LoadTimeout)

	if !c.hoverFirstCard(ctx, pg) {
		slog.WarnContext(ctx, "no result cards found")
		return Result{}, nil
	}

	seen, err := c.links.URLSet()
	if err != nil {
		return Result{}, err
	}

	run := &searchRun{c: c, ctx: ctx, pg: pg, job: job, loc: loc, seen: seen}
	if err := run.scan(); err != nil {
		return Result{Added: run.added}, err
	}

	start := time.Now()
	for !run.done() {
		if time.Since(start) > c.cfg.MaxLoopTime {
			slog.WarnContext(ctx, "collection loop budget exhausted")
			break
		}
		if ctx.Err() != nil {
			return Result{Added: run.added, LimitHit: run.limitHit()}, ctx.Err()
		}
		if evalBool(pg, atBottomScript) {
			slog.DebugContext(ctx, "reached bottom of results")
			break
		}
		if !evalBool(pg, scrollStepScript) {
			c.nudgeWithKeyboard(pg)
		}
		await.Pause(ctx, c.cfg.ScrollPauseMin, c.cfg.ScrollPauseMax)
		if err := run.scan(); err != nil {
			return Result{Added: run.added}, err
		}
	}

	slog.InfoContext(ctx, "search finished", "added", run.added, "limit_hit", run.limitHit())
	return Result{Added: run.added, LimitHit: run.limitHit()}, nil
}

// hoverFirstCard activates the result list so scrolling affects it.
func (c *Collector) hoverFirstCard(ctx context.Context, pg page.Page) bool {
	found := await.Until(ctx, c.cfg.AnchorWait, 200*time.Millisecond, func() bool {
		return pg.CSS(anchorSelector).Count() > 0
	})
	if !found {
		return false
	}
	pg.CSS(anchorSelector).First().Hover()
	return true
}

// nudgeWithKeyboard is the fallback when programmatic scrolling makes
// no progress: dismiss any focus trap, then arrow down the list.
func (c *Collector) nudgeWithKeyboard(pg page.Page) {
	pg.Press("Escape")
	for i := 0; i < 10; i++ {
		pg.Press("ArrowDown")
	}
}

// searchRun holds one search's scan state.
type searchRun struct {
	c    *Collector
	ctx  context.Context
	pg   page.Page
	job  string
	loc  string
	seen map[string]struct{}

	added   int
	ordinal int
	target  bool
}

func (r *searchRun) limitHit() bool {
	return r.c.cfg.Limit > 0 && r.added > r.c.cfg.Limit
}

func (r *searchRun) done() bool {
	return r.limitHit() || r.target
}

// scan reads the currently rendered cards and appends unseen links.
func (r *searchRun) scan() error {
	anchors := r.pg.CSS(anchorSelector)
	n := anchors.Count()
	for i := 0; i < n; i++ {
		href := strings.TrimSpace(anchors.Nth(i).Attr("href"))
		if href == "" {
			continue
		}
		abs := resolveURL(r.pg.URL(), href)
		if _, dup := r.seen[abs]; dup {
			continue
		}
		r.ordinal++
		rec := model.JobRecord{
			ID:        "jj-" + id.NewBase36(),
			DataIndex: "u" + strconv.Itoa(r.ordinal),
			JobName:   r.job,
			Location:  r.loc,
			URL:       abs,
			NewHref:   true,
		}
		if err := r.c.links.Append(rec); err != nil {
			return fmt.Errorf("append link: %w", err)
		}
		r.seen[abs] = struct{}{}
		r.added++
		slog.InfoContext(r.ctx, "collected new link", "url", abs, "data_index", rec.DataIndex)
		if r.c.cfg.TargetIndex > 0 && r.ordinal >= r.c.cfg.TargetIndex {
			r.target = true
			return nil
		}
		if r.limitHit() {
			return nil
		}
	}
	return nil
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func evalBool(pg page.Page, script string) bool {
	v, err := pg.Eval(script)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}
