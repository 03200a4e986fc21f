// Package pipeline sequences the stages of an application run: flag
// merge, login, link collection, description filtering, automated
// apply and manual export. Stages are registered by name so the
// runner stays ignorant of what each one does.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/applypilot/applypilot/common/logger"
	"github.com/applypilot/applypilot/internal/await"
)

// Step is one runnable pipeline stage.
type Step func(ctx context.Context) error

// Options controls how a sequence executes.
type Options struct {
	// Seq is the comma-separated stage list, e.g. "s0,s1,s2,s3,s5".
	// A token may carry a repeat count: "s4x3" or "s4*3".
	Seq string
	// Sleep is the pause inserted after each stage.
	Sleep time.Duration
	// KeepGoing continues past a failed stage instead of aborting.
	KeepGoing bool
	// ForceLogin runs the login stage even when a saved browser
	// session already exists.
	ForceLogin bool
	// StatePath is the saved session file checked by the login skip.
	StatePath string
}

// Runner executes registered stages in sequence order.
type Runner struct {
	steps map[string]Step
	opts  Options
}

func New(opts Options) *Runner {
	return &Runner{steps: make(map[string]Step), opts: opts}
}

// Register binds a stage name to its implementation. Registering the
// same name twice replaces the earlier binding.
func (r *Runner) Register(name string, step Step) {
	r.steps[name] = step
}

// ParseSeq expands a sequence string into the ordered stage list.
// A token may carry a repeat count ("s4x3", "s4*3").
func ParseSeq(seq string) ([]string, error) {
	var out []string
	for _, tok := range strings.Split(seq, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		name, count := tok, 1
		for _, sep := range []string{"x", "*"} {
			if base, n, found := strings.Cut(tok, sep); found && base != "" && n != "" {
				parsed, err := strconv.Atoi(n)
				if err != nil || parsed < 1 {
					return nil, fmt.Errorf("bad repeat count in %q", tok)
				}
				name, count = base, parsed
				break
			}
		}
		for i := 0; i < count; i++ {
			out = append(out, name)
		}
	}
	return out, nil
}

// normalize moves the manual flag merge to the front of the sequence.
// Records marked processed by hand must be excluded before any stage
// re-attempts them, so s0 always runs first and only once up front.
func normalize(steps []string) []string {
	if len(steps) > 0 && steps[0] == "s0" {
		return steps
	}
	out := []string{"s0"}
	for _, s := range steps {
		if s != "s0" {
			out = append(out, s)
		}
	}
	return out
}

// Run executes the configured sequence once. Unknown stage names fail
// before anything runs, so a typo in the sequence aborts loudly
// instead of silently dropping a stage.
func (r *Runner) Run(ctx context.Context) error {
	steps, err := ParseSeq(r.opts.Seq)
	if err != nil {
		return err
	}
	steps = normalize(steps)
	for _, name := range steps {
		if _, ok := r.steps[name]; !ok {
			return fmt.Errorf("unknown pipeline stage %q", name)
		}
	}

	for _, name := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.skipLogin(ctx, name) {
			continue
		}
		sc := logger.StartSpan(ctx, "pipeline."+name)
		stageCtx := logger.WithLogFields(sc.Context(), logger.LogFields{"stage": name})
		slog.InfoContext(stageCtx, "pipeline stage starting")
		started := time.Now()
		err := r.steps[name](stageCtx)
		sc.RecordError(err)
		sc.End()
		if err != nil {
			slog.ErrorContext(stageCtx, "pipeline stage failed",
				"duration", time.Since(started), "error", err)
			if !r.opts.KeepGoing {
				return fmt.Errorf("stage %s: %w", name, err)
			}
		} else {
			slog.InfoContext(stageCtx, "pipeline stage finished",
				"duration", time.Since(started))
		}
		if r.opts.Sleep > 0 {
			await.Sleep(ctx, r.opts.Sleep)
		}
	}
	return nil
}

func (r *Runner) skipLogin(ctx context.Context, name string) bool {
	if name != "s1" || r.opts.ForceLogin || r.opts.StatePath == "" {
		return false
	}
	if _, err := os.Stat(r.opts.StatePath); err != nil {
		return false
	}
	slog.InfoContext(ctx, "skipping login, saved session exists", "path", r.opts.StatePath)
	return true
}

// RunOnSchedule runs the sequence on a cron schedule until the context
// is cancelled. The first run waits for the first matching tick.
func (r *Runner) RunOnSchedule(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := r.Run(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "scheduled pipeline run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("bad cron spec %q: %w", spec, err)
	}
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return ctx.Err()
}
