package engine

import (
	"net/url"
	"strings"

	"github.com/applypilot/applypilot/internal/page"
)

const insideFormOrDialogScript = `el => !!el.closest("form, [role='dialog'], .modal, .dialog, .MuiDialog-root, .chakra-modal__content")`

const submitLikeScript = `el => {
  const t = (el.getAttribute('type') || '').toLowerCase();
  if (t === 'submit') return true;
  const txt = (el.innerText || el.value || '').trim().toLowerCase();
  return ['apply', 'aplikuj', 'wyślij', 'send', 'submit'].includes(txt);
}`

func evalBool(loc page.Locator, script string) bool {
	v, err := loc.Eval(script)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// insideFormOrDialog reports whether the element already sits inside a
// form or dialog. Those are submit buttons, not openers.
func insideFormOrDialog(loc page.Locator) bool {
	return evalBool(loc, insideFormOrDialogScript)
}

func looksLikeSubmit(loc page.Locator) bool {
	return evalBool(loc, submitLikeScript)
}

var openerCSSFallbacks = []string{
	"a[href*='apply']",
	"button[data-test*='apply']",
	"a[data-test*='apply']",
	"[data-testid*='apply'] button",
	"[data-testid*='apply'] a",
}

// FindOpener locates the visible apply affordance outside any form or
// dialog. Role lookups by accessible name come first, CSS fallbacks
// after. Returns nil when the listing has no opener.
func FindOpener(pg page.Page) page.Locator {
	for _, role := range []page.Role{page.RoleButton, page.RoleLink} {
		for _, txt := range applyOpenerTexts {
			cands := pg.ByRole(role, exactRx(txt))
			n := cands.Count()
			for i := 0; i < n; i++ {
				c := cands.Nth(i)
				if !c.Visible() || insideFormOrDialog(c) || looksLikeSubmit(c) {
					continue
				}
				return c
			}
		}
	}
	for _, sel := range openerCSSFallbacks {
		cands := pg.CSS(sel)
		n := cands.Count()
		for i := 0; i < n; i++ {
			c := cands.Nth(i)
			if !c.Visible() || insideFormOrDialog(c) {
				continue
			}
			return c
		}
	}
	return nil
}

// findOneClick looks for a dedicated one-click affordance, which skips
// the form entirely.
func findOneClick(pg page.Page) page.Locator {
	for _, role := range []page.Role{page.RoleButton, page.RoleLink} {
		cands := pg.ByRole(role, oneClickRx)
		n := cands.Count()
		for i := 0; i < n; i++ {
			c := cands.Nth(i)
			if c.Visible() && !insideFormOrDialog(c) {
				return c
			}
		}
	}
	return nil
}

// probableHref extracts the destination an opener would have navigated
// to, resolved against the current page URL. Used to record a best
// guess when resolution times out.
func probableHref(pg page.Page, opener page.Locator) string {
	if opener == nil {
		return ""
	}
	for _, attr := range []string{"href", "data-href", "data-url"} {
		raw := opener.Attr(attr)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		base, err := url.Parse(pg.URL())
		if err != nil {
			return raw
		}
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		return base.ResolveReference(ref).String()
	}
	return ""
}
