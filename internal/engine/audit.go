package engine

import (
	"strings"
	"time"

	"github.com/applypilot/applypilot/internal/model"
	"github.com/applypilot/applypilot/internal/page"
)

// auditFormScript inventories required controls inside the given root
// selector and reports which are still unsatisfied. Runs entirely in
// the page so one round trip covers the whole form.
const auditFormScript = `rootSel => {
  const root = document.querySelector(rootSel);
  if (!root) return { ok: false, required_total: 0, missing: [], scope: 'scope_not_found' };

  const visible = el => {
    const r = el.getBoundingClientRect();
    const st = getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
  };
  const labelText = el => {
    const id = el.getAttribute('id');
    if (id) {
      const lab = root.querySelector('label[for="' + CSS.escape(id) + '"]');
      if (lab && lab.innerText.trim()) return lab.innerText.trim();
    }
    const wrap = el.closest('label');
    if (wrap && wrap.innerText.trim()) return wrap.innerText.trim();
    return '';
  };
  const nameOf = el =>
    labelText(el) || el.getAttribute('aria-label') || el.getAttribute('placeholder') || el.getAttribute('name') || el.tagName.toLowerCase();
  const marker = /(\*|required|wymagane|obowiązkowe)/i;
  const required = el => {
    if (el.disabled) return false;
    if (el.required || el.getAttribute('aria-required') === 'true' || el.hasAttribute('data-required')) return true;
    return marker.test(labelText(el));
  };
  const placeholderText = /^(select|choose|wybierz|--|)$/i;

  const missing = [];
  const radioGroups = {};
  let total = 0;
  for (const el of root.querySelectorAll('input, textarea, select')) {
    if (!required(el)) continue;
    total += 1;
    const type = (el.getAttribute('type') || el.tagName).toLowerCase();
    if (type === 'hidden') continue;
    if (!visible(el)) continue;
    const name = nameOf(el);
    if (type === 'radio') {
      if (!el.name) { missing.push({ type, name, reason: 'no-name' }); continue; }
      const g = radioGroups[el.name] || (radioGroups[el.name] = { name, checked: false });
      if (el.checked) g.checked = true;
    } else if (type === 'checkbox') {
      if (!el.checked) missing.push({ type, name, reason: 'unchecked' });
    } else if (type === 'file') {
      if (!el.files || el.files.length === 0) missing.push({ type, name, reason: 'no-file' });
    } else if (el.tagName === 'SELECT') {
      const opt = el.selectedOptions && el.selectedOptions[0];
      const optText = opt ? (opt.textContent || '').trim() : '';
      if (!el.value || placeholderText.test(optText)) missing.push({ type: 'select', name, reason: 'empty' });
    } else if (!el.value || !el.value.trim()) {
      missing.push({ type, name, reason: 'empty' });
    }
  }
  for (const key of Object.keys(radioGroups)) {
    const g = radioGroups[key];
    if (!g.checked) missing.push({ type: 'radio', name: g.name, reason: 'none-checked' });
  }
  return { ok: missing.length === 0, required_total: total, missing, scope: rootSel };
}`

func parseAuditReport(v any) model.AuditReport {
	rep := model.AuditReport{}
	m, ok := v.(map[string]any)
	if !ok {
		return rep
	}
	if b, ok := m["ok"].(bool); ok {
		rep.OK = b
	}
	if n, ok := m["required_total"].(float64); ok {
		rep.RequiredTotal = int(n)
	}
	if s, ok := m["scope"].(string); ok {
		rep.Scope = s
	}
	if raw, ok := m["missing"].([]any); ok {
		for _, it := range raw {
			im, ok := it.(map[string]any)
			if !ok {
				continue
			}
			mf := model.MissingField{}
			mf.Type, _ = im["type"].(string)
			mf.Name, _ = im["name"].(string)
			mf.Reason, _ = im["reason"].(string)
			rep.Missing = append(rep.Missing, mf)
		}
	}
	return rep
}

// auditForm runs the readiness inventory in the form's scope.
func auditForm(sc page.Scope, root string) model.AuditReport {
	v, err := sc.Eval(auditFormScript, root)
	if err != nil {
		return model.AuditReport{Scope: "audit_error"}
	}
	return parseAuditReport(v)
}

func scopeLost(rep model.AuditReport) bool {
	return rep.Scope == "scope_not_found"
}

// clickSubmit finds the submit affordance inside the form root and
// clicks it. The first selector with any matches wins; within it the
// matches are tried in reverse document order so the final "Apply"
// beats earlier "Next"-style buttons that share text. Falls back to a
// scripted click when the trusted click is intercepted.
func clickSubmit(sc page.Scope, root string, timeout time.Duration) bool {
	var selectors []string
	for _, txt := range formSubmitTexts {
		selectors = append(selectors,
			root+` button:has-text("`+txt+`")`,
			root+` [role='button']:has-text("`+txt+`")`,
		)
	}
	selectors = append(selectors,
		root+` button[type='submit']`,
		root+` [data-testid*='submit']`,
		root+` button[class*='MuiButton-root']`,
	)

	var matches page.Locator
	var total int
	for _, sel := range selectors {
		loc := sc.CSS(sel)
		if n := loc.Count(); n > 0 {
			matches, total = loc, n
			break
		}
	}
	if matches == nil {
		return false
	}
	for i := total - 1; i >= 0; i-- {
		btn := matches.Nth(i)
		if !btn.Visible() || btn.Disabled() {
			continue
		}
		btn.ScrollIntoView()
		if err := btn.Click(timeout); err == nil {
			return true
		}
		if err := btn.ClickScript(); err == nil {
			return true
		}
	}
	return false
}

// describeMissing renders an audit's missing list for logs.
func describeMissing(missing []model.MissingField) string {
	parts := make([]string, 0, len(missing))
	for _, mf := range missing {
		parts = append(parts, mf.Type+":"+mf.Name+"("+mf.Reason+")")
	}
	return strings.Join(parts, ", ")
}
