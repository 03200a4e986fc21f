package model

// JobRecord is one entry per discovered posting. It is created by the
// collector, enriched by the filter, and mutated in place by the apply
// engine across runs. Records are persisted as JSON objects in a JSONL
// file and are never deleted by this code.
type JobRecord struct {
	ID        string `json:"id"`
	DataIndex string `json:"data_index,omitempty"`
	JobName   string `json:"job_name,omitempty"`
	Location  string `json:"location,omitempty"`

	// Set by the filter stage.
	KeywordExists   bool     `json:"keyword_exists"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	ProcessedAt     string   `json:"processed_at,omitempty"`

	// EasyApply is true only when the apply flow resolves to an instant
	// confirmation or an in-page modal. Popup and same-tab navigation
	// outcomes keep it false even when the destination contains a form.
	EasyApply bool `json:"easy_apply"`

	// Outdated marks postings with no reachable apply affordance.
	Outdated bool `json:"outdated,omitempty"`

	// Processed is terminal and monotonic: filter rejection, no
	// affordance, or a detected confirmation after submission.
	Processed bool `json:"processed"`

	// NewHref marks collector output not yet consumed by the filter.
	NewHref bool `json:"new_href,omitempty"`

	URL               string   `json:"url"`
	FinalURL          string   `json:"final_url,omitempty"`
	DescriptionSample []string `json:"description_sample,omitempty"`
}

// Key returns the primary record key, falling back to the URL for rows
// that predate ID assignment.
func (r JobRecord) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.URL
}

// Pending reports whether the apply engine should visit this record.
func (r JobRecord) Pending() bool {
	return r.EasyApply && !r.Processed
}

// Telemetry is the per-attempt diagnostic state the apply engine writes
// back into the record. Every attempt overwrites the previous values.
type Telemetry struct {
	LastAttemptAt    string         `json:"last_attempt_at"`
	FormFound        bool           `json:"s4_form_found"`
	IntroduceFilled  bool           `json:"s4_introduce_filled"`
	IntroVerified    bool           `json:"s4_intro_verified"`
	SelectsSet       int            `json:"s4_selects_set"`
	ConsentsTicked   int            `json:"s4_consents_ticked"`
	FormReady        bool           `json:"s4_form_ready"`
	FormReadyMissing []MissingField `json:"s4_form_ready_missing"`
	RequiredTotal    int            `json:"s4_form_required_total"`
	SubmitClicked    bool           `json:"s4_submit_clicked"`
	Confirmation     bool           `json:"s4_confirmation"`
	Error            *string        `json:"s4_error"`
}

// MissingField describes one required form field that blocks submission.
type MissingField struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AuditReport is the completeness auditor's verdict for a form scope.
type AuditReport struct {
	OK            bool
	RequiredTotal int
	Missing       []MissingField
	Scope         string
}

// ResolutionMode classifies how an apply attempt completed (or failed to).
type ResolutionMode string

const (
	ModeOneClickSuccess ResolutionMode = "oneclick_success"
	ModeOneClickTimeout ResolutionMode = "oneclick_timeout"
	ModeModal           ResolutionMode = "modal"
	ModePopup           ResolutionMode = "popup"
	ModeNav             ResolutionMode = "nav"
	ModeTimeout         ResolutionMode = "timeout"
	ModeNone            ResolutionMode = "none"
	ModeError           ResolutionMode = "error"
)
