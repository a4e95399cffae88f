package naturalquery

import (
	"strings"
	"unicode"
)

// stopWords are instruction and filler vocabulary in both supported
// languages; they never become name parts.
var stopWords = map[string]bool{
	// English
	"find": true, "locate": true, "search": true, "look": true,
	"looking": true, "for": true, "named": true, "name": true, "is": true,
	"was": true, "born": true, "on": true, "in": true, "from": true,
	"the": true, "an": true, "who": true, "whose": true, "person": true,
	"detainee": true, "someone": true, "called": true, "with": true,
	"dob": true, "date": true, "of": true, "birth": true, "number": true,
	"alien": true, "please": true, "me": true, "their": true, "his": true,
	"her": true, "at": true, "about": true, "info": true, "information": true,
	// Spanish
	"busca": true, "buscar": true, "busque": true, "encontrar": true,
	"encuentra": true, "localizar": true, "localiza": true, "llamado": true,
	"llamada": true, "nombre": true, "es": true, "nacido": true,
	"nacida": true, "el": true, "la": true, "los": true, "las": true,
	"en": true, "de": true, "del": true, "con": true, "fecha": true, "nacimiento": true,
	"numero": true, "extranjero": true, "por": true, "favor": true,
	"persona": true, "detenido": true, "detenida": true, "se": true,
	"llama": true, "un": true, "una": true, "quien": true, "donde": true,
	"esta": true, "y": true, "o": true, "a": true, "que": true,
}

// particles are surname connectors kept inside a name when they link
// two name tokens: "Maria de la Cruz".
var particles = map[string]bool{
	"de": true, "del": true, "la": true, "las": true, "los": true,
	"da": true, "dos": true, "van": true, "von": true, "y": true,
	"e": true, "san": true, "santa": true,
}

// extractName assembles first, middle, and last name parts from the
// tokens left after identifiers, dates, and countries were consumed.
// When the text mixes case, only capitalized tokens count as name
// parts; all-lowercase input falls back to every non-stop word.
func extractName(toks []token) (first, middle, last string) {
	hasCapitalized := false
	for _, t := range toks {
		if isCapitalized(t.orig) && alphabetic(t.folded) && !stopWords[t.folded] {
			hasCapitalized = true
			break
		}
	}

	var parts []string
	for i, t := range toks {
		if !alphabetic(t.folded) {
			continue
		}
		if stopWords[t.folded] {
			if particles[t.folded] && len(parts) > 0 && followedByNamePart(toks, i, hasCapitalized) {
				parts = append(parts, t.orig)
			}
			continue
		}
		if hasCapitalized && !isCapitalized(t.orig) {
			continue
		}
		parts = append(parts, t.orig)
	}

	switch len(parts) {
	case 0, 1:
		return "", "", ""
	case 2:
		return parts[0], "", parts[1]
	default:
		// Everything after the given name is the surname; double
		// surnames stay intact for the matcher to reorder.
		return parts[0], "", strings.Join(parts[1:], " ")
	}
}

// followedByNamePart looks past consecutive particles for a token that
// will itself become a name part.
func followedByNamePart(toks []token, i int, hasCapitalized bool) bool {
	for j := i + 1; j < len(toks); j++ {
		if particles[toks[j].folded] {
			continue
		}
		if !alphabetic(toks[j].folded) || stopWords[toks[j].folded] {
			return false
		}
		return !hasCapitalized || isCapitalized(toks[j].orig)
	}
	return false
}

func isCapitalized(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func alphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}
