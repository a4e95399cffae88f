package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips combining diacritical marks: "José" -> "Jose".
// Comparison happens on folded forms; output keeps original glyphs.
func FoldAccents(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return folded
}

// countryAliases maps normalized alias forms to the canonical name the
// upstream option list uses. Keys and canonical values are stored
// accent-folded and lowercased.
var countryAliases = map[string]string{
	"usa":                              "united states",
	"us":                               "united states",
	"united states of america":         "united states",
	"estados unidos":                   "united states",
	"mejico":                           "mexico",
	"estados unidos mexicanos":         "mexico",
	"guatemala c.a.":                   "guatemala",
	"el salvador c.a.":                 "el salvador",
	"honduras c.a.":                    "honduras",
	"republica dominicana":             "dominican republic",
	"d.r.":                             "dominican republic",
	"brasil":                           "brazil",
	"prc":                              "china",
	"people's republic of china":       "china",
	"peoples republic of china":        "china",
	"republic of korea":                "south korea",
	"korea, south":                     "south korea",
	"dprk":                             "north korea",
	"korea, north":                     "north korea",
	"burma":                            "myanmar",
	"uk":                               "united kingdom",
	"great britain":                    "united kingdom",
	"england":                          "united kingdom",
	"russian federation":               "russia",
	"ussr":                             "russia",
	"viet nam":                         "vietnam",
	"haiti republic of":                "haiti",
	"venezuela, bolivarian rep of":     "venezuela",
	"bolivarian republic of venezuela": "venezuela",
	"ecuador republic of":              "ecuador",
	"colombia republic of":             "colombia",
	"peru republic of":                 "peru",
	"ivory coast":                      "cote d'ivoire",
	"cabo verde":                       "cape verde",
	"drc":                              "democratic republic of the congo",
	"congo, dem. rep.":                 "democratic republic of the congo",
	"congo-kinshasa":                   "democratic republic of the congo",
	"congo-brazzaville":                "republic of the congo",
}

// NormalizeCountry folds accents, lowercases, trims punctuation noise,
// and resolves known aliases to a canonical form.
func NormalizeCountry(s string) string {
	n := strings.ToLower(FoldAccents(strings.TrimSpace(s)))
	n = strings.Trim(n, ".,")
	n = strings.Join(strings.Fields(n), " ")
	if canonical, ok := countryAliases[n]; ok {
		return canonical
	}
	return n
}

// CountryScore compares a query country against a candidate country:
// exact normalized match 1.0, alias match 0.9, otherwise 0.0. Empty
// candidate values score 0 without penalizing the comparison elsewhere.
func CountryScore(query, candidate string) float64 {
	if strings.TrimSpace(query) == "" || strings.TrimSpace(candidate) == "" {
		return 0.0
	}
	qRaw := strings.ToLower(FoldAccents(strings.TrimSpace(query)))
	cRaw := strings.ToLower(FoldAccents(strings.TrimSpace(candidate)))
	if qRaw == cRaw {
		return 1.0
	}
	if NormalizeCountry(query) == NormalizeCountry(candidate) {
		return 0.9
	}
	return 0.0
}
