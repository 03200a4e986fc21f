package engine

import (
	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
)

// Signal is one detector firing: which outcome it saw and the
// artifacts that came with it.
type Signal struct {
	Mode  model.ResolutionMode
	Scope page.Scope
	Popup page.Page
	URL   string
}

// Detector is one strategy in the resolution race. Detect returns nil
// until its condition holds. Detectors are polled in a fixed priority
// order, so within a tick an earlier detector beats a later one.
type Detector interface {
	Name() string
	Detect() *Signal
}

// modalDetector fires when a true application form becomes visible on
// the original page or one of its frames.
type modalDetector struct {
	pg page.Page
}

func (d *modalDetector) Name() string { return "modal" }

func (d *modalDetector) Detect() *Signal {
	sc, ok := FormScope(d.pg)
	if !ok {
		return nil
	}
	return &Signal{Mode: model.ModeModal, Scope: sc, URL: d.pg.URL()}
}

// popupDetector fires when the session gains a page that was not open
// before the opener click.
type popupDetector struct {
	session page.Session
	before  map[page.Page]struct{}
}

func newPopupDetector(session page.Session) *popupDetector {
	before := make(map[page.Page]struct{})
	for _, p := range session.Pages() {
		before[p] = struct{}{}
	}
	return &popupDetector{session: session, before: before}
}

func (d *popupDetector) Name() string { return "popup" }

func (d *popupDetector) Detect() *Signal {
	for _, p := range d.session.Pages() {
		if _, seen := d.before[p]; seen {
			continue
		}
		return &Signal{Mode: model.ModePopup, Popup: p, URL: p.URL()}
	}
	return nil
}

// navDetector fires when the original page navigates away from the
// listing URL.
type navDetector struct {
	pg      page.Page
	origURL string
}

func (d *navDetector) Name() string { return "nav" }

func (d *navDetector) Detect() *Signal {
	u := d.pg.URL()
	if u == "" || u == d.origURL {
		return nil
	}
	return &Signal{Mode: model.ModeNav, URL: u}
}

// detectFirst runs one tick over detectors in order and returns the
// first signal, if any.
func detectFirst(detectors []Detector) *Signal {
	for _, d := range detectors {
		if sig := d.Detect(); sig != nil {
			return sig
		}
	}
	return nil
}
