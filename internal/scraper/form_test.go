package scraper

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/detloc/detloc/internal/errors"
)

const searchFormHTML = `<!DOCTYPE html>
<html><body>
<form action="/odls/track" method="get">
  <input type="text" name="q" placeholder="Track a case">
</form>
<form action="/odls/searchByName" method="post">
  <input type="hidden" name="__RequestVerificationToken" value="tok-abc123">
  <input type="hidden" name="__VIEWSTATE" value="vs-payload==">
  <input type="hidden" name="__EVENTVALIDATION" value="">
  <input type="text" name="txtFirstName" id="firstName">
  <input type="text" name="txtLastName" id="lastName">
  <input type="text" name="txtMiddleName">
  <input type="text" name="txtDateOfBirth" placeholder="Date of Birth">
  <select name="ddlCountryOfBirth">
    <option value="">-- Select --</option>
    <option value="MEX">Mexico</option>
    <option value="GTM">Guatemala</option>
    <option value="SLV">El Salvador</option>
    <option value="PER">Per&uacute;</option>
  </select>
  <input type="text" name="txtAlienNumber" id="alienNumber">
  <input type="submit" name="btnSearch" value="Search">
</form>
</body></html>`

func parseTestForm(t *testing.T, doc string) *Form {
	t.Helper()
	base, err := url.Parse("https://locator.example.gov/odls/search")
	require.NoError(t, err)
	f, err := ParseForm(strings.NewReader(doc), base)
	require.NoError(t, err)
	return f
}

func TestParseForm_PicksSearchForm(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	assert.Equal(t, "https://locator.example.gov/odls/searchByName", f.Action)
	assert.Equal(t, "POST", f.Method)
}

func TestParseForm_HiddenFieldsVerbatim(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	require.Len(t, f.Hidden, 3)
	assert.Equal(t, HiddenField{"__RequestVerificationToken", "tok-abc123"}, f.Hidden[0])
	assert.Equal(t, HiddenField{"__VIEWSTATE", "vs-payload=="}, f.Hidden[1])
	assert.Equal(t, HiddenField{"__EVENTVALIDATION", ""}, f.Hidden[2], "empty hidden values preserved")
}

func TestParseForm_DetectsCSRFToken(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	name, value, ok := f.CSRF()
	require.True(t, ok)
	assert.Equal(t, "__RequestVerificationToken", name)
	assert.Equal(t, "tok-abc123", value)
}

func TestParseForm_BindsSemanticsFromFormNames(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	tests := []struct {
		sem  Semantic
		want string
	}{
		{FieldFirstName, "txtFirstName"},
		{FieldLastName, "txtLastName"},
		{FieldMiddleName, "txtMiddleName"},
		{FieldDateOfBirth, "txtDateOfBirth"},
		{FieldCountry, "ddlCountryOfBirth"},
		{FieldAlienNumber, "txtAlienNumber"},
	}
	for _, tt := range tests {
		name, ok := f.FieldName(tt.sem)
		require.True(t, ok, "semantic %s unbound", tt.sem)
		assert.Equal(t, tt.want, name)
	}
}

func TestParseForm_CountryOfBirthIsNotDateOfBirth(t *testing.T) {
	// Both fields contain "birth"; the date pattern must not absorb
	// the country select.
	f := parseTestForm(t, searchFormHTML)

	dob, _ := f.FieldName(FieldDateOfBirth)
	country, _ := f.FieldName(FieldCountry)
	assert.Equal(t, "txtDateOfBirth", dob)
	assert.Equal(t, "ddlCountryOfBirth", country)
}

func TestMatchCountry_CaseAndAccentInsensitive(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	tests := []struct {
		input string
		want  string
	}{
		{"Mexico", "MEX"},
		{"mexico", "MEX"},
		{"MÉXICO", "MEX"},
		{"el salvador", "SLV"},
		{"Peru", "PER"}, // option label carries the accent
		{"perú", "PER"},
	}
	for _, tt := range tests {
		value, matched, isSelect := f.MatchCountry(tt.input)
		assert.True(t, isSelect)
		require.True(t, matched, "input %q", tt.input)
		assert.Equal(t, tt.want, value, "input %q", tt.input)
	}
}

func TestMatchCountry_AliasResolution(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	value, matched, _ := f.MatchCountry("mejico")
	require.True(t, matched, "common misspelling resolves through aliases")
	assert.Equal(t, "MEX", value)
}

func TestMatchCountry_NoMatch(t *testing.T) {
	f := parseTestForm(t, searchFormHTML)

	_, matched, isSelect := f.MatchCountry("Atlantis")
	assert.True(t, isSelect)
	assert.False(t, matched)
}

func TestParseForm_NoFormIsParseFailure(t *testing.T) {
	base, _ := url.Parse("https://locator.example.gov/")
	_, err := ParseForm(strings.NewReader("<html><body><p>maintenance</p></body></html>"), base)
	require.Error(t, err)
	assert.Equal(t, internalerrors.KindParseFailure, internalerrors.KindOf(err))
}

func TestParseForm_FieldSetHeuristicWithoutActionHint(t *testing.T) {
	doc := `<html><body>
<form action="/newsletter" method="post">
  <input type="email" name="email">
</form>
<form action="/q" method="post">
  <input type="hidden" name="csrf_token" value="t1">
  <input type="text" name="lastName">
  <input type="text" name="firstName">
  <select name="country"><option value="US">United States</option></select>
</form>
</body></html>`
	f := parseTestForm(t, doc)

	last, ok := f.FieldName(FieldLastName)
	require.True(t, ok)
	assert.Equal(t, "lastName", last)
	assert.True(t, strings.HasSuffix(f.Action, "/q"))
}
