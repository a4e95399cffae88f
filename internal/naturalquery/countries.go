package naturalquery

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/detloc/detloc/internal/models"
)

// knownCountries lists canonical country names (folded, lowercase) the
// parser will recognize in free text. Aliases resolve through
// models.NormalizeCountry before the lookup, so "mejico" and "brasil"
// land here too.
var knownCountries = map[string]bool{
	"afghanistan": true, "albania": true, "algeria": true, "angola": true,
	"argentina": true, "armenia": true, "azerbaijan": true, "bangladesh": true,
	"belize": true, "bolivia": true, "brazil": true, "burkina faso": true,
	"cameroon": true, "canada": true, "cape verde": true, "chad": true,
	"chile": true, "china": true, "colombia": true, "costa rica": true,
	"cote d'ivoire": true, "cuba": true,
	"democratic republic of the congo": true, "dominican republic": true,
	"ecuador": true, "egypt": true, "el salvador": true, "eritrea": true,
	"ethiopia": true, "france": true, "gambia": true, "georgia": true,
	"germany": true, "ghana": true, "guatemala": true, "guinea": true,
	"haiti": true, "honduras": true, "india": true, "iran": true, "iraq": true,
	"israel": true, "italy": true, "jamaica": true, "jordan": true,
	"kazakhstan": true, "kenya": true, "kyrgyzstan": true, "lebanon": true,
	"liberia": true, "mali": true, "mauritania": true, "mexico": true,
	"morocco": true, "myanmar": true, "nepal": true, "nicaragua": true,
	"niger": true, "nigeria": true, "north korea": true, "pakistan": true,
	"panama": true, "paraguay": true, "peru": true, "philippines": true,
	"poland": true, "portugal": true, "republic of the congo": true,
	"romania": true, "russia": true, "saudi arabia": true, "senegal": true,
	"sierra leone": true, "somalia": true, "south korea": true,
	"south sudan": true, "spain": true, "sudan": true, "syria": true,
	"tajikistan": true, "togo": true, "turkey": true, "ukraine": true,
	"united kingdom": true, "united states": true, "uruguay": true,
	"uzbekistan": true, "venezuela": true, "vietnam": true, "yemen": true,
}

// Prepositions that license a short country token ("from the US"); a
// two-letter gram with no such lead-in stays part of the name text.
var countryPrepositions = map[string]bool{
	"from": true, "in": true, "of": true, "at": true,
	"de": true, "del": true, "en": true,
}

const maxCountryGram = 5 // "democratic republic of the congo"

var countryTitle = cases.Title(language.English)

// extractCountry scans token n-grams, longest first, for a known
// country and returns the canonical name in title case plus the
// tokens with the match removed.
func extractCountry(toks []token) (string, []token) {
	for n := maxCountryGram; n >= 1; n-- {
		for i := 0; i+n <= len(toks); i++ {
			parts := make([]string, n)
			for j := 0; j < n; j++ {
				parts[j] = toks[i+j].folded
			}
			gram := strings.Join(parts, " ")
			canonical := models.NormalizeCountry(gram)
			if !knownCountries[canonical] {
				continue
			}
			if n == 1 && len(gram) <= 3 && !precededByPreposition(toks, i) {
				continue
			}
			remaining := make([]token, 0, len(toks)-n)
			remaining = append(remaining, toks[:i]...)
			remaining = append(remaining, toks[i+n:]...)
			return countryTitle.String(canonical), remaining
		}
	}
	return "", toks
}

func precededByPreposition(toks []token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch toks[j].folded {
		case "the", "la", "el", "los", "las":
			continue // articles between preposition and country
		}
		return countryPrepositions[toks[j].folded]
	}
	return false
}
