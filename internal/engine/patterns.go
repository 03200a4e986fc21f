package engine

import (
	"regexp"
	"strings"
)

// The heuristics below are ordered: earlier entries are more specific
// and win over later generic ones. They cover English plus the Polish
// variants the source boards use.

var applyOpenerTexts = []string{
	"Apply now", "Apply", "Send application", "Submit application",
	"Aplikuj", "Wyślij", "Wyślij aplikację", "Zgłoś kandydaturę",
	"I'm interested", "I’m interested",
}

var formSubmitTexts = []string{"Apply", "Aplikuj", "Wyślij", "Send", "Submit"}

var oneClickRx = regexp.MustCompile(`(?i)\b(1-click apply|one click apply)\b`)

// Containers that count as dialog/modal scopes across the UI kits the
// boards are built with.
var dialogRoots = []string{
	"[role='dialog']", ".modal", ".dialog", ".popup",
	".MuiDialog-root", ".chakra-modal__content",
}

var toastRoots = []string{
	".toast", ".Toastify__toast", ".chakra-toast", "[class*='toast']",
	".MuiSnackbar-root", ".ant-message", ".ant-notification",
}

var confirmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bapplication confirmation\b`),
	regexp.MustCompile(`(?i)your application has been sent`),
	regexp.MustCompile(`(?i)\bhas been sent to\b`),
	regexp.MustCompile(`(?i)\bapplication saved!?\b`),
	regexp.MustCompile(`(?i)view application history`),
	regexp.MustCompile(`(?i)application (sent|submitted|completed|received)`),
	regexp.MustCompile(`(?i)thank you(\s+for (your )?application)?`),
	regexp.MustCompile(`(?i)we('|’)ve received your application`),
	regexp.MustCompile(`(?i)your application has been (sent|submitted|received)`),
	regexp.MustCompile(`(?i)we will contact you`),
	regexp.MustCompile(`(?i)\ball set\b`),
	regexp.MustCompile(`(?i)\bsubmitted\b`),
	regexp.MustCompile(`(?i)\bapplied\b`),
	regexp.MustCompile(`(?i)\bconfirmation\b`),
	regexp.MustCompile(`(?i)dziękujemy( za (twoją )?aplikacj[ęe])?`),
	regexp.MustCompile(`(?i)\baplikacj[ae] wysłan[aeao]\b`),
	regexp.MustCompile(`(?i)twoja aplikacja (została )?wysłan[aeao]`),
	regexp.MustCompile(`(?i)zgłoszenie (zostało )?wysłan[aeao]`),
	regexp.MustCompile(`(?i)przyjęliśmy twoją aplikacj[ęe]`),
}

// "success" needs an exclusion (RE2 has no lookahead): a bare success
// phrase counts unless the same text talks about payments or orders.
var (
	successRx        = regexp.MustCompile(`(?i)\bsuccess\b`)
	successExcludeRx = regexp.MustCompile(`(?i)payment|order`)
)

var confirmURLHints = []string{
	"applied", "application-sent", "application_submitted",
	"submitted", "thanks", "thank-you", "confirmation",
}

var introLabelRxs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)introduce yourself`),
	regexp.MustCompile(`(?i)message`),
	regexp.MustCompile(`(?i)cover letter`),
	regexp.MustCompile(`(?i)tell.*yourself`),
	regexp.MustCompile(`(?i)notes?`),
	regexp.MustCompile(`(?i)wiadomość|list motywacyjny`),
}

var introPlaceholders = []string{
	"Introduce yourself", "Message", "Cover letter", "Tell us",
	"Notes", "Wiadomość", "List motywacyjny",
}

var affirmativeRx = regexp.MustCompile(`(?i)^(yes|tak|agree|zgadzam|accept|consent|true)$`)

var consentHintRx = regexp.MustCompile(`(?i)consent|agree|accept|privacy|terms|rodo|gdpr`)

var whitespaceRx = regexp.MustCompile(`\s+`)

// normWS collapses runs of whitespace and lowercases, for tolerant
// read-back comparison of filled values.
func normWS(s string) string {
	return strings.ToLower(strings.TrimSpace(whitespaceRx.ReplaceAllString(s, " ")))
}

// textConfirmed reports whether s matches the confirmation phrase set.
func textConfirmed(s string) bool {
	if s == "" {
		return false
	}
	for _, rx := range confirmPatterns {
		if rx.MatchString(s) {
			return true
		}
	}
	if successRx.MatchString(s) && !successExcludeRx.MatchString(s) {
		return true
	}
	return false
}

func wordBoundaryRx(text string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(text) + `\b`)
}

func exactRx(text string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(text) + `$`)
}
