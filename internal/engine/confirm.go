package engine

import (
	"context"
	"strings"
	"time"

	"github.com/applypilot/applypilot/internal/page"
)

const dialogTitleScript = `() => {
  const dlg = document.querySelector("[role='dialog']");
  if (!dlg) return '';
  const h = dlg.querySelector('h1, h2, h3, [role="heading"]');
  return h ? h.innerText : '';
}`

const bodyTextScript = `() => document.body ? document.body.innerText : ''`

func evalString(sc page.Scope, script string) string {
	v, err := sc.Eval(script)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func rootText(sc page.Scope, rootCSS string) string {
	loc := sc.CSS(rootCSS)
	if loc.Count() == 0 || !loc.First().Visible() {
		return ""
	}
	return strings.Join(loc.Texts(), "\n")
}

// confirmationVisible checks the main page first, then every frame:
// ATS widgets routinely render the thank-you screen inside an iframe.
func confirmationVisible(pg page.Page) bool {
	if confirmationIn(pg) {
		return true
	}
	for _, fr := range pg.Frames() {
		if confirmationIn(fr) {
			return true
		}
	}
	return false
}

// confirmationIn checks one scope's confirmation signals in order of
// strength: dialog title, dialog body, toasts, the URL, then the whole
// body as a last resort.
func confirmationIn(sc page.Scope) bool {
	if textConfirmed(evalString(sc, dialogTitleScript)) {
		return true
	}
	for _, root := range dialogRoots {
		if textConfirmed(rootText(sc, root)) {
			return true
		}
	}
	for _, root := range toastRoots {
		if textConfirmed(rootText(sc, root)) {
			return true
		}
	}
	saved := sc.ByText(wordBoundaryRx("Application saved"))
	if saved.Count() > 0 && saved.First().Visible() {
		return true
	}
	if urlConfirmed(sc.URL()) {
		return true
	}
	return textConfirmed(evalString(sc, bodyTextScript))
}

func urlConfirmed(u string) bool {
	lu := strings.ToLower(u)
	for _, hint := range confirmURLHints {
		if strings.Contains(lu, hint) {
			return true
		}
	}
	return false
}

// waitForConfirmation polls for any confirmation signal until the
// window runs out.
func waitForConfirmation(ctx context.Context, pg page.Page, window, interval time.Duration) bool {
	return Await(ctx, window, interval, func() bool {
		if pg.Closed() {
			return false
		}
		return confirmationVisible(pg)
	})
}
