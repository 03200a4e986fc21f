package engine

import (
	"fmt"

	"github.com/applypilot/applypilot/internal/page"
)

// Probes for "this container actually collects input", used to tell a
// real application form from decorative dialogs (newsletter banners,
// share sheets).
var formInputProbes = []string{
	"textarea",
	"input[type='text']",
	"input[type='email']",
	"input[type='file']",
	"select",
	"[role='combobox']",
	"input[type='checkbox']",
}

func hasVisibleInputs(sc page.Scope, rootCSS string) bool {
	for _, probe := range formInputProbes {
		loc := sc.CSS(rootCSS + " " + probe)
		if loc.Count() > 0 && loc.First().Visible() {
			return true
		}
	}
	return false
}

// hasTrueForm reports whether sc currently shows an application form:
// a dialog or <form> that both offers a submit affordance and collects
// input.
func hasTrueForm(sc page.Scope) bool {
	for _, root := range dialogRoots {
		for _, txt := range formSubmitTexts {
			btn := sc.CSS(fmt.Sprintf("%s button:has-text(%q)", root, txt))
			if btn.Count() > 0 && btn.First().Visible() && hasVisibleInputs(sc, root) {
				return true
			}
		}
	}
	for _, txt := range formSubmitTexts {
		root := fmt.Sprintf("form:has(button:has-text(%q))", txt)
		loc := sc.CSS(root)
		if loc.Count() > 0 && loc.First().Visible() && hasVisibleInputs(sc, root) {
			return true
		}
	}
	return false
}

// FormScope returns the first scope (main page, then each frame) that
// shows a true application form.
func FormScope(pg page.Page) (page.Scope, bool) {
	if hasTrueForm(pg) {
		return pg, true
	}
	for _, fr := range pg.Frames() {
		if hasTrueForm(fr) {
			return fr, true
		}
	}
	return nil, false
}

// Candidate roots for the active form, most specific first. Audit and
// fill operations stay inside the first one that resolves.
var activeScopeRoots = []string{
	"[role='dialog'] form",
	"[role='dialog']",
	"form",
}

// activeFormRoot picks the CSS root the fill/audit phase operates in.
func activeFormRoot(sc page.Scope) (string, bool) {
	for _, root := range activeScopeRoots {
		loc := sc.CSS(root)
		if loc.Count() > 0 && loc.First().Visible() {
			return root, true
		}
	}
	return "", false
}
