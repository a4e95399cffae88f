package models

import "time"

// SearchStatus is the top-level outcome of a search.
type SearchStatus string

const (
	StatusFound    SearchStatus = "found"
	StatusNotFound SearchStatus = "not_found"
	StatusError    SearchStatus = "error"
	StatusPartial  SearchStatus = "partial"
)

// RequestKind labels an outbound request for pacing and obfuscation.
type RequestKind string

const (
	RequestFormFetch  RequestKind = "form_fetch"
	RequestFormSubmit RequestKind = "form_submit"
	RequestNavigation RequestKind = "navigation"
	RequestRetry      RequestKind = "retry"
)

// ResponseClass is the deterministic classification of an upstream
// response page. It drives both the pipeline state machine and the
// anti-detection coordinator's threat ladder.
type ResponseClass string

const (
	ClassResults     ResponseClass = "results"
	ClassNotFound    ResponseClass = "not_found"
	ClassBlocked     ResponseClass = "blocked"
	ClassCaptcha     ResponseClass = "captcha"
	ClassRateLimited ResponseClass = "rate_limited"
	ClassUnknown     ResponseClass = "unknown"
)

// ThreatLevel is the coordinator-maintained ordinal summarizing recent
// block and CAPTCHA evidence.
type ThreatLevel int

const (
	ThreatGreen ThreatLevel = iota
	ThreatYellow
	ThreatOrange
	ThreatRed
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatGreen:
		return "green"
	case ThreatYellow:
		return "yellow"
	case ThreatOrange:
		return "orange"
	case ThreatRed:
		return "red"
	default:
		return "unknown"
	}
}

// ProxyKind categorizes proxy endpoints.
type ProxyKind string

const (
	ProxyResidential ProxyKind = "residential"
	ProxyDatacenter  ProxyKind = "datacenter"
	ProxySOCKS5      ProxyKind = "socks5"
)

// Record is a single detainee row extracted from the upstream results
// table. Absent values are explicit empty strings, never sentinels.
type Record struct {
	AlienNumber      string   `json:"alien_number"`
	FullName         string   `json:"full_name"`
	DateOfBirth      string   `json:"date_of_birth"`
	CountryOfBirth   string   `json:"country_of_birth"`
	FacilityName     string   `json:"facility_name"`
	FacilityLocation string   `json:"facility_location"`
	CustodyStatus    string   `json:"custody_status"`
	LastUpdated      string   `json:"last_updated"`
	Confidence       *float64 `json:"confidence,omitempty"` // set only when ranking ran
}

// SearchMetadata is the per-invocation diagnostics block.
type SearchMetadata struct {
	Timestamp          time.Time `json:"timestamp"`
	DurationMS         int64     `json:"duration_ms"`
	Language           string    `json:"language"`
	CorrectionsApplied []string  `json:"corrections_applied,omitempty"`
	TotalCandidates    int       `json:"total_candidates"`
	Attempts           int       `json:"attempts"`
	ThreatLevelFinal   string    `json:"threat_level_final,omitempty"`
	ProxyKind          string    `json:"proxy_kind,omitempty"`
	Cached             bool      `json:"cached,omitempty"`
	CorrelationID      string    `json:"correlation_id"`
}

// SearchResult is the consumed-once product of one search.
type SearchResult struct {
	Status   SearchStatus   `json:"status"`
	Records  []Record       `json:"results"`
	Metadata SearchMetadata `json:"search_metadata"`
}

// WithConfidence returns a copy of the record carrying a ranking score.
func (r Record) WithConfidence(c float64) Record {
	r.Confidence = &c
	return r
}
