package match

import (
	"strings"

	"github.com/detloc/detloc/internal/models"
)

// nicknames maps a short form to the formal given names it commonly
// stands in for. Lookups go both directions.
var nicknames = map[string][]string{
	// Hispanic
	"pepe":   {"jose"},
	"chepe":  {"jose"},
	"paco":   {"francisco"},
	"pancho": {"francisco"},
	"chuy":   {"jesus"},
	"memo":   {"guillermo"},
	"beto":   {"alberto", "roberto", "humberto"},
	"kike":   {"enrique"},
	"lupe":   {"guadalupe"},
	"lola":   {"dolores"},
	"chava":  {"salvador"},
	"chavo":  {"salvador"},
	"nacho":  {"ignacio"},
	"tono":   {"antonio"},
	"toni":   {"antonio", "antonia"},
	"concha": {"concepcion"},
	"charo":  {"rosario"},
	"chelo":  {"consuelo"},
	"tita":   {"teresa"},
	"rafa":   {"rafael"},
	"santi":  {"santiago"},
	"alex":   {"alejandro", "alexander", "alexis"},

	// English
	"bob":     {"robert"},
	"rob":     {"robert"},
	"bobby":   {"robert"},
	"bill":    {"william"},
	"will":    {"william"},
	"billy":   {"william"},
	"liam":    {"william"},
	"jack":    {"john"},
	"johnny":  {"john"},
	"jim":     {"james"},
	"jimmy":   {"james"},
	"mike":    {"michael"},
	"mick":    {"michael"},
	"tom":     {"thomas"},
	"tommy":   {"thomas"},
	"dick":    {"richard"},
	"rick":    {"richard"},
	"ricky":   {"richard"},
	"ted":     {"edward", "theodore"},
	"ed":      {"edward"},
	"eddie":   {"edward"},
	"tony":    {"anthony"},
	"dave":    {"david"},
	"dan":     {"daniel"},
	"danny":   {"daniel"},
	"joe":     {"joseph"},
	"joey":    {"joseph"},
	"chuck":   {"charles"},
	"charlie": {"charles"},
	"steve":   {"steven", "stephen"},
	"chris":   {"christopher", "christian", "christina"},
	"kate":    {"katherine", "kathryn"},
	"kathy":   {"katherine", "kathryn"},
	"katie":   {"katherine", "kathryn"},
	"beth":    {"elizabeth"},
	"liz":     {"elizabeth"},
	"lizzie":  {"elizabeth"},
	"betty":   {"elizabeth"},
	"peggy":   {"margaret"},
	"maggie":  {"margaret"},
	"sue":     {"susan"},
	"suzie":   {"susan"},
	"nick":    {"nicholas"},
	"andy":    {"andrew"},
	"drew":    {"andrew"},
	"sam":     {"samuel", "samantha"},
	"ben":     {"benjamin"},
	"matt":    {"matthew"},
	"pat":     {"patrick", "patricia"},
	"patty":   {"patricia"},
	"greg":    {"gregory"},
	"jerry":   {"gerald", "jerome"},
	"larry":   {"lawrence"},
	"frank":   {"francis", "franklin"},
	"fred":    {"frederick", "alfred"},
	"hank":    {"henry"},
	"harry":   {"henry", "harold"},
	"ron":     {"ronald"},
	"ray":     {"raymond"},
	"ken":     {"kenneth"},
	"don":     {"donald"},
	"doug":    {"douglas"},
}

// formalNames is the reverse index, built once at init.
var formalNames = func() map[string][]string {
	out := make(map[string][]string)
	for nick, formals := range nicknames {
		for _, f := range formals {
			out[f] = append(out[f], nick)
		}
	}
	return out
}()

// nameForms returns the comparison forms of a single name part: the
// part itself plus any nickname or formal equivalents. All values are
// lowercase with accents folded.
func nameForms(part string) []string {
	p := strings.ToLower(models.FoldAccents(part))
	forms := []string{p}
	for _, f := range nicknames[p] {
		forms = append(forms, f)
	}
	for _, n := range formalNames[p] {
		forms = append(forms, n)
	}
	return forms
}

// splitName breaks a full name into lowercase accent-folded parts,
// dropping connective particles that carry no identity on their own.
func splitName(full string) []string {
	folded := strings.ToLower(models.FoldAccents(full))
	folded = strings.NewReplacer(",", " ", ".", " ", "-", " ").Replace(folded)
	var parts []string
	for _, p := range strings.Fields(folded) {
		switch p {
		case "de", "del", "la", "las", "los", "da", "dos", "e", "y", "van", "von", "jr", "sr", "ii", "iii":
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// orderings returns the plausible arrangements of a parsed name:
// as given, given/surname swapped, and with double surnames reduced
// to either component. Hispanic records often carry both paternal and
// maternal surnames while queries carry one, or list surname first.
func orderings(parts []string) [][]string {
	if len(parts) == 0 {
		return nil
	}
	out := [][]string{parts}
	if len(parts) >= 2 {
		// Surname-first form: move the last part to the front.
		swapped := make([]string, 0, len(parts))
		swapped = append(swapped, parts[len(parts)-1])
		swapped = append(swapped, parts[:len(parts)-1]...)
		out = append(out, swapped)
	}
	if len(parts) >= 3 {
		// Double surname: keep only the paternal or only the
		// maternal component.
		paternal := append(append([]string{}, parts[:len(parts)-2]...), parts[len(parts)-2])
		maternal := append(append([]string{}, parts[:len(parts)-2]...), parts[len(parts)-1])
		reversed := append(append([]string{}, parts[:len(parts)-2]...), parts[len(parts)-1], parts[len(parts)-2])
		out = append(out, paternal, maternal, reversed)
	}
	return out
}
