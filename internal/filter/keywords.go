package filter

import (
	"regexp"
	"strings"
)

var defaultKeywords = []string{"python", "playwright", "javascript", "typescript"}

var keywordSplitRx = regexp.MustCompile(`[,\s/]+`)

// NormalizeKeywords flattens user-supplied keyword tokens: each token
// may carry several keywords separated by commas, slashes or
// whitespace. Lowercased, deduplicated, order-preserving. An empty
// source falls back to the default set.
func NormalizeKeywords(src []string) []string {
	var toks []string
	for _, t := range src {
		for _, p := range keywordSplitRx.Split(t, -1) {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				toks = append(toks, p)
			}
		}
	}
	if len(toks) == 0 {
		return append([]string(nil), defaultKeywords...)
	}
	seen := make(map[string]struct{}, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FindKeywords reports which keywords occur in text (substring match,
// case-insensitive).
func FindKeywords(text string, keywords []string) (bool, []string) {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return len(matched) > 0, matched
}

var invisibleRx = regexp.MustCompile("[\u200b-\u200d\ufeff]")

// VisibleRows cleans raw description text into display rows: invisible
// characters stripped, newlines normalized, and the text sliced from
// the first "All offers" nav marker (inclusive) up to before the next
// "Apply" marker, when both are present. Empty rows are dropped.
func VisibleRows(text string) []string {
	if text == "" {
		return nil
	}
	t := invisibleRx.ReplaceAllString(text, "")
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	lines := strings.Split(t, "\n")
	lines = sliceBetweenMarkers(lines)

	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if s := strings.TrimSpace(ln); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sliceBetweenMarkers(lines []string) []string {
	isMarker := func(ln string, markers ...string) bool {
		n := strings.ToLower(strings.TrimSpace(ln))
		for _, m := range markers {
			if n == m {
				return true
			}
		}
		return false
	}
	start := -1
	for i, ln := range lines {
		if isMarker(ln, "all offers", "wszystkie oferty") {
			start = i
			break
		}
	}
	if start < 0 {
		return lines
	}
	for j := start + 1; j < len(lines); j++ {
		if isMarker(lines[j], "apply", "aplikuj") {
			return lines[start:j]
		}
	}
	return lines[start:]
}
