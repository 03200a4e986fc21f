package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/applypilot/applypilot/internal/page"
)

const (
	maxSelects  = 5
	maxConsents = 3

	comboTimeout = 2 * time.Second
)

// findIntroField locates the free-text field inside the form root: by
// accessible label first, placeholder second, then the first visible
// textarea.
func findIntroField(sc page.Scope, root string) page.Locator {
	for _, rx := range introLabelRxs {
		loc := sc.ByRole(page.RoleTextbox, rx)
		n := loc.Count()
		for i := 0; i < n; i++ {
			if loc.Nth(i).Visible() {
				return loc.Nth(i)
			}
		}
	}
	for _, ph := range introPlaceholders {
		loc := sc.CSS(root + ` textarea[placeholder*="` + ph + `" i]`)
		if loc.Count() > 0 && loc.First().Visible() {
			return loc.First()
		}
	}
	loc := sc.CSS(root + " textarea")
	n := loc.Count()
	for i := 0; i < n; i++ {
		if loc.Nth(i).Visible() {
			return loc.Nth(i)
		}
	}
	return nil
}

// fillIntro writes the introduction text and verifies it landed by
// reading the value back under whitespace-tolerant comparison. On a
// mismatch it retries the fill exactly once.
func (e *Engine) fillIntro(ctx context.Context, sc page.Scope, root string) (filled, verified bool) {
	if strings.TrimSpace(e.cfg.IntroText) == "" {
		return false, false
	}
	field := findIntroField(sc, root)
	if field == nil {
		return false, false
	}
	want := normWS(e.cfg.IntroText)
	attempt := func() bool {
		if err := field.Fill(e.cfg.IntroText, e.cfg.ClickTimeout); err != nil {
			return false
		}
		filled = true
		return Await(ctx, e.cfg.VerifyWindow, e.cfg.VerifyInterval, func() bool {
			got, err := field.Value()
			return err == nil && normWS(got) == want
		})
	}
	if attempt() {
		return filled, true
	}
	slog.DebugContext(ctx, "intro verify failed, refilling once")
	if attempt() {
		return filled, true
	}
	return filled, false
}

const selectOptionTextsScript = `el => Array.from(el.options || []).map(o => (o.textContent || '').trim())`

func optionTexts(sel page.Locator) []string {
	v, err := sel.Eval(selectOptionTextsScript)
	if err != nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, it := range raw {
		if s, ok := it.(string); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// setAffirmativeSelects picks the affirmative option on selects whose
// option list offers one, then does the same for ARIA comboboxes.
// Selects already holding an affirmative value are left alone. Capped
// so a pathological form cannot stall the run.
func setAffirmativeSelects(sc page.Scope, root string) int {
	set := 0
	selects := sc.CSS(root + " select")
	n := selects.Count()
	for i := 0; i < n && set < maxSelects; i++ {
		sel := selects.Nth(i)
		if !sel.Visible() || sel.Disabled() {
			continue
		}
		if cur, err := sel.Value(); err == nil && affirmativeRx.MatchString(strings.TrimSpace(cur)) {
			continue
		}
		for _, opt := range optionTexts(sel) {
			if affirmativeRx.MatchString(opt) {
				if err := sel.SelectLabel(opt); err == nil {
					set++
				}
				break
			}
		}
	}
	if set < maxSelects {
		set += setAffirmativeComboboxes(sc, root, maxSelects-set)
	}
	return set
}

// setAffirmativeComboboxes opens custom dropdown widgets and clicks
// the affirmative option in the list they spawn. The option list
// usually portals outside the form root, so it is scanned scope-wide.
func setAffirmativeComboboxes(sc page.Scope, root string, budget int) int {
	set := 0
	combos := sc.CSS(root + " [role='combobox']")
	n := combos.Count()
	for i := 0; i < n && set < budget; i++ {
		cb := combos.Nth(i)
		if !cb.Visible() || cb.Disabled() {
			continue
		}
		if cb.Click(comboTimeout) != nil {
			continue
		}
		items := sc.CSS("[role='option'], li[role='option'], div[role='option']")
		m := items.Count()
		for j := 0; j < m; j++ {
			it := items.Nth(j)
			txt, err := it.Text()
			if err != nil {
				continue
			}
			if affirmativeRx.MatchString(strings.TrimSpace(txt)) {
				if it.Click(comboTimeout) == nil {
					set++
				}
				break
			}
		}
	}
	return set
}

const checkboxLabelScript = `el => {
  const id = el.getAttribute('id');
  if (id) {
    const lab = document.querySelector('label[for="' + CSS.escape(id) + '"]');
    if (lab) return lab.innerText;
  }
  const wrap = el.closest('label');
  if (wrap) return wrap.innerText;
  const aria = el.getAttribute('aria-label');
  return aria || '';
}`

// tickConsents checks unchecked consent checkboxes whose label text
// mentions consent, terms, privacy or the Polish equivalents. A box
// with no resolvable label still counts: consent rows often keep the
// text outside any label element. ARIA checkboxes go first because
// custom widgets hide the native input.
func tickConsents(sc page.Scope, root string) int {
	ticked := 0
	passes := []page.Locator{
		sc.ByRole(page.RoleCheckbox, nil),
		sc.CSS(root + " input[type='checkbox']"),
	}
	for _, boxes := range passes {
		n := boxes.Count()
		for i := 0; i < n && ticked < maxConsents; i++ {
			box := boxes.Nth(i)
			if !box.Visible() || box.Disabled() || box.Checked() {
				continue
			}
			if label := checkboxLabel(box); label != "" && !consentHintRx.MatchString(label) {
				continue
			}
			if err := box.Check(); err == nil {
				ticked++
			}
		}
	}
	return ticked
}

func checkboxLabel(box page.Locator) string {
	v, err := box.Eval(checkboxLabelScript)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
