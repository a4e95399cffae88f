package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/detloc/detloc/internal/errors"
)

func validNameQuery() SearchQuery {
	return SearchQuery{
		Kind:                KindByName,
		FirstName:           "John",
		LastName:            "Doe",
		DateOfBirth:         "1990-01-15",
		CountryOfBirth:      "Mexico",
		ConfidenceThreshold: 0.7,
	}
}

func TestValidate_NameQuery(t *testing.T) {
	require.NoError(t, validNameQuery().Validate())

	// Idempotent on well-formed input
	q := validNameQuery()
	require.NoError(t, q.Validate())
	require.NoError(t, q.Validate())
}

func TestValidate_RejectsSingleCharacterNames(t *testing.T) {
	q := validNameQuery()
	q.FirstName = "J"
	err := q.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, internalerrors.ErrInvalidInput))
}

func TestValidate_RejectsWhitespaceOnlyName(t *testing.T) {
	q := validNameQuery()
	q.LastName = "   "
	assert.Error(t, q.Validate())
}

func TestValidate_RejectsBadDate(t *testing.T) {
	q := validNameQuery()
	q.DateOfBirth = "15/01/1990"
	assert.Error(t, q.Validate())

	q.DateOfBirth = "1990-13-40"
	assert.Error(t, q.Validate())
}

func TestValidate_AlienNumberShapes(t *testing.T) {
	good := []string{"A12345678", "a12345678", "12345678", "123456789", "A123456789"}
	for _, num := range good {
		q := SearchQuery{Kind: KindByAlienNumber, AlienNumber: num, ConfidenceThreshold: 0.5}
		assert.NoError(t, q.Validate(), "alien number %q", num)
	}

	bad := []string{"B12345678", "1234567", "1234567890", "A1234", "ABC"}
	for _, num := range bad {
		q := SearchQuery{Kind: KindByAlienNumber, AlienNumber: num, ConfidenceThreshold: 0.5}
		assert.Error(t, q.Validate(), "alien number %q", num)
	}
}

func TestValidate_FacilityRequiresLocator(t *testing.T) {
	q := SearchQuery{Kind: KindByFacility, ConfidenceThreshold: 0.5}
	assert.Error(t, q.Validate())

	q.FacilityName = "Houston Contract Detention Facility"
	assert.NoError(t, q.Validate())

	byZip := SearchQuery{Kind: KindByFacility, ZipCode: "77002", ConfidenceThreshold: 0.5}
	assert.NoError(t, byZip.Validate())

	cityOnly := SearchQuery{Kind: KindByFacility, City: "Houston", ConfidenceThreshold: 0.5}
	assert.Error(t, cityOnly.Validate(), "city without state must fail")

	cityState := SearchQuery{Kind: KindByFacility, City: "Houston", State: "TX", ConfidenceThreshold: 0.5}
	assert.NoError(t, cityState.Validate())
}

func TestValidate_ThresholdBounds(t *testing.T) {
	q := validNameQuery()
	q.ConfidenceThreshold = 1.5
	assert.Error(t, q.Validate())

	q.ConfidenceThreshold = -0.1
	assert.Error(t, q.Validate())
}

func TestNormalizeAlienNumber_PrefixEquivalence(t *testing.T) {
	assert.Equal(t, NormalizeAlienNumber("A12345678"), NormalizeAlienNumber("12345678"))
	assert.Equal(t, "12345678", NormalizeAlienNumber("a12345678"))
	assert.Equal(t, "123456789", NormalizeAlienNumber("A123456789"))
}

func TestFingerprint_DeterministicOverEquivalentQueries(t *testing.T) {
	const salt = "test-salt"

	a := SearchQuery{Kind: KindByAlienNumber, AlienNumber: "A12345678"}
	b := SearchQuery{Kind: KindByAlienNumber, AlienNumber: "12345678"}
	assert.Equal(t, a.Fingerprint(salt), b.Fingerprint(salt))

	c := validNameQuery()
	d := validNameQuery()
	d.FirstName = "  John  "
	d.LastName = "doe"
	// Case folds for fingerprinting, whitespace collapses
	assert.Equal(t, strings.ToLower(c.FirstName), "john")
	assert.Equal(t, c.Fingerprint(salt), d.Fingerprint(salt))
}

func TestFingerprint_SaltSeparatesInstallations(t *testing.T) {
	q := validNameQuery()
	assert.NotEqual(t, q.Fingerprint("salt-a"), q.Fingerprint("salt-b"))
}

func TestFingerprint_ContainsNoPII(t *testing.T) {
	q := validNameQuery()
	fp := q.Fingerprint("salt")
	lower := strings.ToLower(fp)
	assert.NotContains(t, lower, "john")
	assert.NotContains(t, lower, "doe")
	assert.NotContains(t, lower, "1990")
	assert.Len(t, fp, 64)
}

func TestRedacted_ScrubsPIIKeepsShape(t *testing.T) {
	q := validNameQuery()
	q.Fuzzy = true
	red := q.Redacted()

	assert.NotContains(t, red, "John")
	assert.NotContains(t, red, "Doe")
	assert.NotContains(t, red, "1990-01-15")
	assert.NotContains(t, red, "Mexico")
	assert.Contains(t, red, Redacted)
	assert.Contains(t, red, `"kind":"by_name"`)
	assert.Contains(t, red, `"fuzzy":true`)
}

func TestNormalized_DefaultsLanguage(t *testing.T) {
	q := validNameQuery()
	assert.Equal(t, LanguageEN, q.Normalized().Language)

	q.Language = LanguageES
	assert.Equal(t, LanguageES, q.Normalized().Language)
}
