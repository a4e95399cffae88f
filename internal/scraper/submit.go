package scraper

import (
	"fmt"
	"net/url"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

// BuildSubmission assembles the POST body for a query against a parsed
// form: every hidden field preserved verbatim, user-visible fields
// populated under the names the form actually uses. Country input is
// resolved against the form's option list before any HTTP happens.
func BuildSubmission(f *Form, q *models.SearchQuery) (url.Values, error) {
	values := url.Values{}
	for _, h := range f.Hidden {
		values.Set(h.Name, h.Value)
	}

	switch q.Kind {
	case models.KindByName:
		if err := fillNameFields(f, q, values); err != nil {
			return nil, err
		}
	case models.KindByAlienNumber:
		name, ok := f.FieldName(FieldAlienNumber)
		if !ok {
			return nil, shapeError("alien number field missing from form")
		}
		values.Set(name, models.NormalizeAlienNumber(q.AlienNumber))
	case models.KindByFacility:
		fillFacilityFields(f, q, values)
	default:
		return nil, internalerrors.New(internalerrors.KindValidation, "scraper.build_submission",
			fmt.Errorf("query kind %q cannot be submitted directly", q.Kind))
	}
	return values, nil
}

func fillNameFields(f *Form, q *models.SearchQuery, values url.Values) error {
	first, ok := f.FieldName(FieldFirstName)
	if !ok {
		return shapeError("first name field missing from form")
	}
	last, ok := f.FieldName(FieldLastName)
	if !ok {
		return shapeError("last name field missing from form")
	}
	values.Set(first, q.FirstName)
	values.Set(last, q.LastName)

	if q.MiddleName != "" {
		if middle, ok := f.FieldName(FieldMiddleName); ok {
			values.Set(middle, q.MiddleName)
		}
	}
	if q.DateOfBirth != "" {
		if dob, ok := f.FieldName(FieldDateOfBirth); ok {
			values.Set(dob, q.DateOfBirth)
		}
	}
	if q.CountryOfBirth != "" {
		countryField, ok := f.FieldName(FieldCountry)
		if !ok {
			return nil // form has no country input, nothing to send
		}
		value, matched, isSelect := f.MatchCountry(q.CountryOfBirth)
		if isSelect && !matched {
			return internalerrors.New(internalerrors.KindValidation, "scraper.build_submission",
				fmt.Errorf("country %q not in the form's option list", q.CountryOfBirth)).
				WithRedactedQuery(q.Redacted())
		}
		if isSelect {
			values.Set(countryField, value)
		} else {
			values.Set(countryField, q.CountryOfBirth)
		}
	}
	return nil
}

func fillFacilityFields(f *Form, q *models.SearchQuery, values url.Values) {
	if q.FacilityName != "" {
		if name, ok := f.FieldName(FieldFacility); ok {
			values.Set(name, q.FacilityName)
		}
	}
	if q.City != "" {
		if name, ok := f.FieldName(FieldCity); ok {
			values.Set(name, q.City)
		}
	}
	if q.State != "" {
		if name, ok := f.FieldName(FieldState); ok {
			values.Set(name, q.State)
		}
	}
	if q.ZipCode != "" {
		if name, ok := f.FieldName(FieldZip); ok {
			values.Set(name, q.ZipCode)
		}
	}
}

func shapeError(msg string) error {
	return internalerrors.New(internalerrors.KindParseFailure, "scraper.build_submission",
		fmt.Errorf("%s", msg))
}
