package engine

import (
	"context"
	"time"

	"github.com/applypilot/applypilot/internal/page"
)

var cookieSelectors = []string{
	"#onetrust-accept-btn-handler",
	"button#cookiescript_accept",
	"[data-testid='cookie-accept']",
	"button[aria-label*='accept' i]",
}

var cookieButtonTexts = []string{
	"Accept all", "Accept", "Agree", "I agree",
	"Akceptuję", "Zgadzam się", "Zaakceptuj wszystkie",
}

// acceptCookies dismisses a consent banner if one shows up within the
// window. Best effort: failures are swallowed, the banner either goes
// away or the run proceeds under it.
func acceptCookies(ctx context.Context, pg page.Page, window time.Duration) bool {
	clicked := false
	Await(ctx, window, 400*time.Millisecond, func() bool {
		for _, sel := range cookieSelectors {
			loc := pg.CSS(sel)
			if loc.Count() > 0 && loc.First().Visible() {
				if err := loc.First().Click(2 * time.Second); err == nil {
					clicked = true
					return true
				}
			}
		}
		for _, txt := range cookieButtonTexts {
			loc := pg.ByRole(page.RoleButton, exactRx(txt))
			if loc.Count() > 0 && loc.First().Visible() {
				if err := loc.First().Click(2 * time.Second); err == nil {
					clicked = true
					return true
				}
			}
		}
		return false
	})
	return clicked
}
