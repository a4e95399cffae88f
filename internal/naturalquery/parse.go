// Package naturalquery turns free-text requests into structured
// search queries: it pulls alien numbers, person names, birth dates
// in several renderings, and countries out of English or Spanish
// prose and estimates how much of a searchable query it found.
package naturalquery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

// Parsed is the outcome of one parse: the structured query, how
// confident the extraction is, which fields were recognized, and
// which fields a by-name search still needs before it can run.
type Parsed struct {
	Query      models.SearchQuery
	Confidence float64
	Recognized []string
	Missing    []string
}

// Confidence levels by how explicit the alien number was.
const (
	confAlienExplicit = 0.95 // "A-Number: 123456789"
	confAlienPrefixed = 0.90 // "A123456789"
	confAlienBare     = 0.70 // unlabeled 8-9 digit run

	confNameBase    = 0.50
	confNameDOB     = 0.15
	confNameCountry = 0.15
	confNameKeyword = 0.05
)

var (
	// Labeled alien numbers, English and Spanish.
	alienExplicitRe = regexp.MustCompile(`(?i)\b(?:a[-#\s]?number|alien(?:\s+registration)?\s+number|numero\s+de\s+extranjero|a#)\s*[:#]?\s*a?[-\s]?(\d{8,9})\b`)
	alienPrefixedRe = regexp.MustCompile(`\b[Aa][-#]?(\d{8,9})\b`)
	alienBareRe     = regexp.MustCompile(`\b\d{8,9}\b`)

	nameKeywordRe = regexp.MustCompile(`(?i)\b(?:named?|name\s+is|llamad[oa]|se\s+llama)\b`)
)

// Parse extracts a structured query from free text. lang selects the
// numeric-date convention ("es" reads 05/03 as day/month) and is
// carried into the query; month names in both languages are always
// recognized.
func Parse(text, lang string) (*Parsed, error) {
	working := strings.Join(strings.Fields(text), " ")
	if len(working) < 3 {
		return nil, internalerrors.New(internalerrors.KindValidation, "parse_natural_query",
			fmt.Errorf("query text too short to parse"))
	}
	if lang == "" {
		lang = models.LanguageEN
	}

	p := &Parsed{}
	hasNameKeyword := nameKeywordRe.MatchString(working)

	alien, alienConf, working := extractAlienNumber(working)
	dob, working := extractDOB(working, lang)
	if alien == "" {
		// Bare digit runs are checked after dates so a compact date
		// is never misread as an identifier.
		alien, alienConf, working = finishAlienBare(working)
	}

	toks := tokenize(working)
	country, toks := extractCountry(toks)
	first, middle, last := extractName(toks)

	if alien != "" {
		p.Recognized = append(p.Recognized, "alien_number")
	}
	if first != "" && last != "" {
		p.Recognized = append(p.Recognized, "name")
	}
	if dob != "" {
		p.Recognized = append(p.Recognized, "date_of_birth")
	}
	if country != "" {
		p.Recognized = append(p.Recognized, "country_of_birth")
	}

	switch {
	case alien != "":
		// The strongest identifier wins even when a name is present.
		p.Query = models.SearchQuery{
			Kind:        models.KindByAlienNumber,
			AlienNumber: alien,
			Language:    lang,
		}
		p.Confidence = alienConf

	case first != "" && last != "":
		p.Query = models.SearchQuery{
			Kind:           models.KindByName,
			FirstName:      first,
			MiddleName:     middle,
			LastName:       last,
			DateOfBirth:    dob,
			CountryOfBirth: country,
			Language:       lang,
			Fuzzy:          true,
		}
		p.Confidence = confNameBase
		if dob != "" {
			p.Confidence += confNameDOB
		} else {
			p.Missing = append(p.Missing, "date_of_birth")
		}
		if country != "" {
			p.Confidence += confNameCountry
		} else {
			p.Missing = append(p.Missing, "country_of_birth")
		}
		if hasNameKeyword {
			p.Confidence += confNameKeyword
		}

	default:
		return nil, internalerrors.New(internalerrors.KindValidation, "parse_natural_query",
			fmt.Errorf("no alien number and no usable first and last name in query text"))
	}

	return p, nil
}

// extractAlienNumber returns the matched identifier, its confidence,
// and the text with the match removed. Labeled forms are checked
// before prefixed and bare ones.
func extractAlienNumber(text string) (number string, conf float64, rest string) {
	if m := alienExplicitRe.FindStringSubmatch(text); m != nil {
		return "A" + m[1], confAlienExplicit, strings.Replace(text, m[0], " ", 1)
	}
	if m := alienPrefixedRe.FindString(text); m != "" {
		return "A" + strings.TrimLeft(m, "Aa-#"), confAlienPrefixed, strings.Replace(text, m, " ", 1)
	}
	return "", 0, text
}

// finishAlienBare picks up an unlabeled 8-9 digit run. Runs after
// date extraction.
func finishAlienBare(text string) (number string, conf float64, rest string) {
	if m := alienBareRe.FindString(text); m != "" {
		return "A" + m, confAlienBare, strings.Replace(text, m, " ", 1)
	}
	return "", 0, text
}

var (
	dobISORe     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dobNumericRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
	// "January 15, 1990" / "Jan 15 1990"
	dobMonthFirstRe = regexp.MustCompile(`(?i)\b([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	// "15 de enero de 1990" / "15 January 1990"
	dobDayFirstRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:de\s+)?([a-záéíóúñ]+)\.?(?:\s+(?:de|del)\s+|,?\s+)(\d{4})\b`)
)

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September,
	"sept": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June, "julio": time.July,
	"agosto": time.August, "septiembre": time.September, "setiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

// extractDOB finds the first plausible birth date and returns it in
// ISO form plus the text with the match removed.
func extractDOB(text, lang string) (dob, rest string) {
	if m := dobISORe.FindStringSubmatch(text); m != nil {
		if iso, ok := isoDate(m[1], m[2], m[3]); ok {
			return iso, strings.Replace(text, m[0], " ", 1)
		}
	}

	if m := dobNumericRe.FindStringSubmatch(text); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		day, month := a, b
		// en reads 05/03/1990 as month/day; es reads it day/month.
		// An out-of-range value settles the ambiguity either way.
		if lang != models.LanguageES {
			day, month = b, a
		}
		if month > 12 && day <= 12 {
			day, month = month, day
		}
		if iso, ok := isoDate(m[3], strconv.Itoa(month), strconv.Itoa(day)); ok {
			return iso, strings.Replace(text, m[0], " ", 1)
		}
	}

	if m := dobDayFirstRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[strings.ToLower(models.FoldAccents(m[2]))]; ok {
			if iso, ok := isoDate(m[3], strconv.Itoa(int(month)), m[1]); ok {
				return iso, strings.Replace(text, m[0], " ", 1)
			}
		}
	}

	if m := dobMonthFirstRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[strings.ToLower(models.FoldAccents(m[1]))]; ok {
			if iso, ok := isoDate(m[3], strconv.Itoa(int(month)), m[2]); ok {
				return iso, strings.Replace(text, m[0], " ", 1)
			}
		}
	}

	return "", text
}

// isoDate validates the trio against the calendar and formats it.
// A birth year outside 1900..current rejects the match.
func isoDate(ys, ms, ds string) (string, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if y < 1900 || y > time.Now().Year() || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != time.Month(m) || t.Day() != d {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

type token struct {
	orig   string
	folded string
}

func tokenize(text string) []token {
	fields := strings.Fields(text)
	toks := make([]token, 0, len(fields))
	for _, f := range fields {
		orig := strings.Trim(f, ".,;:!?\"'()")
		if orig == "" {
			continue
		}
		toks = append(toks, token{
			orig:   orig,
			folded: strings.ToLower(models.FoldAccents(orig)),
		})
	}
	return toks
}
