// Package stages wires configuration into runnable pipeline stages.
// Each constructor returns a pipeline.Step so the same wiring serves
// both the pipeline runner and the standalone stage binaries.
package stages

import (
	"context"
	"time"

	"github.com/applypilot/applypilot/core/config"
	"github.com/applypilot/applypilot/internal/collector"
	"github.com/applypilot/applypilot/internal/diag"
	"github.com/applypilot/applypilot/internal/engine"
	"github.com/applypilot/applypilot/internal/filter"
	"github.com/applypilot/applypilot/internal/manual"
	"github.com/applypilot/applypilot/internal/page"
	"github.com/applypilot/applypilot/internal/pipeline"
	"github.com/applypilot/applypilot/internal/session"
	"github.com/applypilot/applypilot/internal/store"
)

// loginWait bounds the manual login: a human has to click through the
// board's auth flow in a headful browser.
const loginWait = 5 * time.Minute

// FlagMerge folds hand-made processed marks from the manual work queue
// back into the filtered records.
func FlagMerge(cfg config.Config) pipeline.Step {
	return func(ctx context.Context) error {
		_, err := manual.ApplyFlags(store.New(cfg.Paths.Filtered), cfg.Paths.Manual)
		return err
	}
}

// Login opens the board and waits for a manual login, then saves the
// browser storage state for the later stages.
func Login(cfg config.Config, browser *page.Browser) pipeline.Step {
	return func(ctx context.Context) error {
		sess, err := browser.NewSession(cfg.Paths.StorageFile)
		if err != nil {
			return err
		}
		defer sess.Close()

		m := &session.Manager{
			StatePath:   cfg.Paths.StateFile,
			StoragePath: cfg.Paths.StorageFile,
			LoadTimeout: cfg.Browser.LoadTimeout,
		}
		return m.Login(ctx, sess, cfg.Browser.BaseURL, loginWait)
	}
}

// Collect scans the job board search pages and appends fresh offer
// links to the links store.
func Collect(cfg config.Config, browser *page.Browser) pipeline.Step {
	return func(ctx context.Context) error {
		sess, err := browser.NewSession(cfg.Paths.StorageFile)
		if err != nil {
			return err
		}
		defer sess.Close()

		c := collector.New(sess, store.New(cfg.Paths.Links), collector.Config{
			BaseURL:        cfg.Browser.BaseURL,
			JobNames:       cfg.Collector.JobNames,
			Locations:      cfg.Collector.Locations,
			Limit:          cfg.Collector.Limit,
			TargetIndex:    cfg.Collector.TargetIndex,
			MaxLoopTime:    cfg.Collector.MaxLoopTime,
			ScrollPauseMin: cfg.Collector.SleepMin,
			ScrollPauseMax: cfg.Collector.SleepMax,
			LoadTimeout:    cfg.Browser.LoadTimeout,
		})
		_, err = c.Run(ctx)
		return err
	}
}

// Filter reads collected links, matches descriptions against the
// configured keywords and classifies the apply affordance of keepers.
func Filter(cfg config.Config, browser *page.Browser) pipeline.Step {
	return func(ctx context.Context) error {
		sess, err := browser.NewSession(cfg.Paths.StorageFile)
		if err != nil {
			return err
		}
		defer sess.Close()

		records := store.New(cfg.Paths.Filtered)
		sink := diag.New(cfg.Paths.ErrorsDir)
		prober := engine.New(sess, records, sink, engineConfig(cfg))
		f := filter.New(sess, store.New(cfg.Paths.Links), records, prober, sink, filter.Config{
			Keywords:      cfg.Filter.Keywords,
			Limit:         cfg.Filter.Limit,
			FailFast:      cfg.Filter.FailFast,
			LoadTimeout:   cfg.Browser.LoadTimeout,
			ItemPauseMin:  cfg.Filter.ShortMin,
			ItemPauseMax:  cfg.Filter.ShortMax,
			BatchPauseMin: cfg.Filter.LongMin,
			BatchPauseMax: cfg.Filter.LongMax,
		})
		return f.Run(ctx)
	}
}

// Apply runs the automated apply engine over pending filtered records.
func Apply(cfg config.Config, browser *page.Browser) pipeline.Step {
	return func(ctx context.Context) error {
		sess, err := browser.NewSession(cfg.Paths.StorageFile)
		if err != nil {
			return err
		}
		defer sess.Close()

		records := store.New(cfg.Paths.Filtered)
		e := engine.New(sess, records, diag.New(cfg.Paths.ErrorsDir), engineConfig(cfg))
		return e.Run(ctx)
	}
}

// ManualExport writes the still-unprocessed records into the manual
// work queue for a human to take over.
func ManualExport(cfg config.Config) pipeline.Step {
	return func(ctx context.Context) error {
		_, err := manual.Export(store.New(cfg.Paths.Filtered), cfg.Paths.Manual)
		return err
	}
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		IntroText:        cfg.Engine.IntroText,
		FailFast:         cfg.Engine.FailFast,
		Limit:            cfg.Engine.Limit,
		AllowCookieClick: cfg.Engine.AllowCookieClick,
		LoadTimeout:      cfg.Browser.LoadTimeout,
		PauseMin:         cfg.Engine.ShortMin,
		PauseMax:         cfg.Engine.ShortMax,
	}
}

// Runner builds the pipeline runner with every stage registered under
// its sequence name.
func Runner(cfg config.Config, browser *page.Browser) *pipeline.Runner {
	r := pipeline.New(pipeline.Options{
		Seq:        cfg.Pipeline.Seq,
		Sleep:      cfg.Pipeline.Sleep,
		KeepGoing:  cfg.Pipeline.KeepGoing,
		ForceLogin: cfg.Pipeline.ForceLogin,
		StatePath:  cfg.Paths.StorageFile,
	})
	r.Register("s0", FlagMerge(cfg))
	r.Register("s1", Login(cfg, browser))
	r.Register("s2", Collect(cfg, browser))
	r.Register("s3", Filter(cfg, browser))
	r.Register("s4", Apply(cfg, browser))
	r.Register("s5", ManualExport(cfg))
	return r
}
