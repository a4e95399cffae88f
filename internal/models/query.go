package models

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	internalerrors "github.com/detloc/detloc/internal/errors"
)

// QueryKind selects which identifying field set a SearchQuery carries.
type QueryKind string

const (
	KindByName        QueryKind = "by_name"
	KindByAlienNumber QueryKind = "by_alien_number"
	KindByFacility    QueryKind = "by_facility"
	KindNatural       QueryKind = "natural"
)

// Language codes accepted by the upstream form.
const (
	LanguageEN = "en"
	LanguageES = "es"
)

const Redacted = "[REDACTED]"

var alienNumberRe = regexp.MustCompile(`^[Aa]?\d{8,9}$`)

// SearchQuery is the immutable value constructed at orchestrator entry.
// Exactly one identifying field set is populated, determined by Kind.
type SearchQuery struct {
	Kind QueryKind `json:"kind" validate:"required,oneof=by_name by_alien_number by_facility natural"`

	// by_name
	FirstName      string `json:"first_name,omitempty" validate:"required_if=Kind by_name,omitempty,min=2,max=100"`
	LastName       string `json:"last_name,omitempty" validate:"required_if=Kind by_name,omitempty,min=2,max=100"`
	MiddleName     string `json:"middle_name,omitempty" validate:"omitempty,max=100"`
	DateOfBirth    string `json:"date_of_birth,omitempty" validate:"required_if=Kind by_name,omitempty,datetime=2006-01-02"`
	CountryOfBirth string `json:"country_of_birth,omitempty" validate:"required_if=Kind by_name,omitempty,min=2,max=100"`

	// by_alien_number
	AlienNumber string `json:"alien_number,omitempty" validate:"required_if=Kind by_alien_number,omitempty,alien_number"`

	// by_facility
	FacilityName string `json:"facility_name,omitempty" validate:"omitempty,max=200"`
	City         string `json:"city,omitempty" validate:"omitempty,max=100"`
	State        string `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
	ZipCode      string `json:"zip_code,omitempty" validate:"omitempty,numeric,len=5"`
	FacilityType string `json:"facility_type,omitempty" validate:"omitempty,max=50"`
	ActiveOnly   bool   `json:"active_only,omitempty"`

	// natural; parsed into one of the structured kinds before execution
	RawQuery string `json:"raw_query,omitempty" validate:"required_if=Kind natural,omitempty,min=3,max=500"`

	Language            string  `json:"language,omitempty" validate:"omitempty,oneof=en es"`
	Fuzzy               bool    `json:"fuzzy,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	DateToleranceDays   int     `json:"date_tolerance_days,omitempty" validate:"gte=0,lte=3650"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Tag errors are programming mistakes; panic at init like the
	// library recommends.
	if err := v.RegisterValidation("alien_number", func(fl validator.FieldLevel) bool {
		return alienNumberRe.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	v.RegisterStructValidation(validateFacilityFields, SearchQuery{})
	return v
}

// validateFacilityFields enforces that a by_facility query carries at
// least one of: facility name, city+state pair, or zip code.
func validateFacilityFields(sl validator.StructLevel) {
	q := sl.Current().Interface().(SearchQuery)
	if q.Kind != KindByFacility {
		return
	}
	hasName := strings.TrimSpace(q.FacilityName) != ""
	hasCityState := strings.TrimSpace(q.City) != "" && strings.TrimSpace(q.State) != ""
	hasZip := strings.TrimSpace(q.ZipCode) != ""
	if !hasName && !hasCityState && !hasZip {
		sl.ReportError(q.FacilityName, "FacilityName", "facility_name", "facility_locator", "")
	}
	if strings.TrimSpace(q.City) != "" && strings.TrimSpace(q.State) == "" {
		sl.ReportError(q.State, "State", "state", "required_with_city", "")
	}
}

// Validate checks the structural invariants. Well-formed queries
// validate idempotently; callers may re-validate defensively.
func (q SearchQuery) Validate() error {
	trimmed := q.trimmedCopy()
	if err := validate.Struct(trimmed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			detail := fmt.Errorf("field %s fails %s constraint", first.Field(), first.Tag())
			return internalerrors.New(internalerrors.KindValidation, "validate_query", detail).
				WithRedactedQuery(trimmed.Redacted())
		}
		return internalerrors.New(internalerrors.KindValidation, "validate_query", err).
			WithRedactedQuery(trimmed.Redacted())
	}
	return nil
}

func (q SearchQuery) trimmedCopy() SearchQuery {
	q.FirstName = collapseSpaces(q.FirstName)
	q.LastName = collapseSpaces(q.LastName)
	q.MiddleName = collapseSpaces(q.MiddleName)
	q.CountryOfBirth = collapseSpaces(q.CountryOfBirth)
	q.AlienNumber = strings.TrimSpace(q.AlienNumber)
	q.FacilityName = collapseSpaces(q.FacilityName)
	q.City = collapseSpaces(q.City)
	q.State = strings.ToUpper(strings.TrimSpace(q.State))
	q.ZipCode = strings.TrimSpace(q.ZipCode)
	q.RawQuery = collapseSpaces(q.RawQuery)
	return q
}

// Normalized returns the canonical form used for fingerprinting and
// upstream submission: whitespace collapsed, casing folded where the
// upstream is case-insensitive, the alien number reduced to digits,
// and language defaulted. Original glyphs stay untouched so responses
// can present them verbatim.
func (q SearchQuery) Normalized() SearchQuery {
	n := q.trimmedCopy()
	n.AlienNumber = NormalizeAlienNumber(n.AlienNumber)
	if n.Language == "" {
		n.Language = LanguageEN
	}
	return n
}

// NormalizeAlienNumber strips the optional letter marker, keeping the
// 8-9 digit payload. "A12345678" and "12345678" normalize equal.
func NormalizeAlienNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if s[0] == 'A' || s[0] == 'a' {
		return s[1:]
	}
	return s
}

// Fingerprint derives the anonymized cache key from the normalized
// query. The keyed hash keeps raw PII out of cache filenames; the salt
// is generated per installation and persisted with the config.
func (q SearchQuery) Fingerprint(salt string) string {
	n := q.Normalized()
	parts := []string{
		string(n.Kind),
		strings.ToLower(FoldAccents(n.FirstName)),
		strings.ToLower(FoldAccents(n.LastName)),
		strings.ToLower(FoldAccents(n.MiddleName)),
		n.DateOfBirth,
		NormalizeCountry(n.CountryOfBirth),
		n.AlienNumber,
		strings.ToLower(FoldAccents(n.FacilityName)),
		strings.ToLower(n.City),
		n.State,
		n.ZipCode,
		strings.ToLower(n.FacilityType),
		fmt.Sprintf("%t", n.ActiveOnly),
		strings.ToLower(FoldAccents(n.RawQuery)),
		n.Language,
		fmt.Sprintf("%t", n.Fuzzy),
		fmt.Sprintf("%.3f", n.ConfidenceThreshold),
		fmt.Sprintf("%d", n.DateToleranceDays),
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Redacted renders the query as JSON with PII fields replaced by
// placeholders. Attached to surfaced errors and log lines; never
// contains names, dates of birth, or identifiers.
func (q SearchQuery) Redacted() string {
	c := q
	if c.FirstName != "" {
		c.FirstName = Redacted
	}
	if c.LastName != "" {
		c.LastName = Redacted
	}
	if c.MiddleName != "" {
		c.MiddleName = Redacted
	}
	if c.DateOfBirth != "" {
		c.DateOfBirth = Redacted
	}
	if c.CountryOfBirth != "" {
		c.CountryOfBirth = Redacted
	}
	if c.AlienNumber != "" {
		c.AlienNumber = Redacted
	}
	if c.RawQuery != "" {
		c.RawQuery = Redacted
	}
	out, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf(`{"kind":%q}`, c.Kind)
	}
	return string(out)
}

// ParseDOB parses the query's date of birth. Validation guarantees the
// format, so errors here indicate a query that skipped Validate.
func (q SearchQuery) ParseDOB() (time.Time, error) {
	return time.Parse("2006-01-02", q.DateOfBirth)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
