package match

import (
	"sort"
	"strings"
	"time"

	"github.com/detloc/detloc/internal/models"
)

// phoneticPartScore is the credit a name part earns when it agrees
// phonetically but not textually. Kept below 1.0 so a threshold of 1.0
// admits exact matches only.
const phoneticPartScore = 0.9

// Rank scores candidates against the query, filters by the query's
// confidence threshold, and orders the survivors by descending
// confidence. Ties keep their upstream order. Queries without an
// identifying name or alien number pass through unranked.
func Rank(q models.SearchQuery, candidates []models.Record) []models.Record {
	if len(candidates) == 0 {
		return []models.Record{}
	}
	if q.AlienNumber != "" {
		return rankByAlienNumber(q, candidates)
	}
	if q.FirstName == "" && q.LastName == "" {
		return candidates
	}

	sets := queryPartSets(q)
	qDOB, dobErr := q.ParseDOB()

	scored := make([]models.Record, 0, len(candidates))
	for _, c := range candidates {
		name := nameSimilarity(sets, c.FullName)
		dob := 0.0
		if dobErr == nil {
			dob = dobSimilarity(qDOB, c.DateOfBirth, q.DateToleranceDays)
		}
		country := models.CountryScore(q.CountryOfBirth, c.CountryOfBirth)
		conf := clamp01(0.6*name + 0.3*dob + 0.1*country)
		if conf < q.ConfidenceThreshold {
			continue
		}
		scored = append(scored, c.WithConfidence(conf))
	}
	sortByConfidence(scored)
	return scored
}

func rankByAlienNumber(q models.SearchQuery, candidates []models.Record) []models.Record {
	want := models.NormalizeAlienNumber(q.AlienNumber)
	scored := make([]models.Record, 0, len(candidates))
	for _, c := range candidates {
		conf := 0.0
		if models.NormalizeAlienNumber(c.AlienNumber) == want {
			conf = 1.0
		}
		if conf < q.ConfidenceThreshold {
			continue
		}
		scored = append(scored, c.WithConfidence(conf))
	}
	sortByConfidence(scored)
	return scored
}

func sortByConfidence(recs []models.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return *recs[i].Confidence > *recs[j].Confidence
	})
}

// queryPartSets expands the query name into the part arrangements worth
// comparing: the name as given, surname-first, double-surname
// reductions, and the same again without the middle name.
func queryPartSets(q models.SearchQuery) [][]string {
	first := splitName(q.FirstName)
	middle := splitName(q.MiddleName)
	last := splitName(q.LastName)

	full := make([]string, 0, len(first)+len(middle)+len(last))
	full = append(full, first...)
	full = append(full, middle...)
	full = append(full, last...)

	sets := orderings(full)
	if len(middle) > 0 {
		short := make([]string, 0, len(first)+len(last))
		short = append(short, first...)
		short = append(short, last...)
		sets = append(sets, orderings(short)...)
	}

	seen := make(map[string]bool, len(sets))
	uniq := sets[:0]
	for _, s := range sets {
		key := strings.Join(s, " ")
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, s)
	}
	return uniq
}

// nameSimilarity is the best score over all query arrangements of:
// Levenshtein ratio on the joined name, or the mean of per-part scores
// where each part takes its best Jaro-Winkler or phonetic credit
// against the candidate's parts.
func nameSimilarity(sets [][]string, candidate string) float64 {
	cand := splitName(candidate)
	if len(cand) == 0 {
		return 0
	}
	candJoined := strings.Join(cand, " ")

	best := 0.0
	for _, set := range sets {
		if lev := LevenshteinRatio(strings.Join(set, " "), candJoined); lev > best {
			best = lev
		}
		var sum float64
		for _, part := range set {
			sum += bestPartScore(part, cand)
		}
		if mean := sum / float64(len(set)); mean > best {
			best = mean
		}
	}
	return clamp01(best)
}

func bestPartScore(part string, candParts []string) float64 {
	best := 0.0
	for _, form := range nameForms(part) {
		for _, cp := range candParts {
			if s := JaroWinkler(form, cp); s > best {
				best = s
			}
			if best < phoneticPartScore && PhoneticallyEqual(form, cp) {
				best = phoneticPartScore
			}
		}
	}
	return best
}

// dobSimilarity scores a candidate date against the query date: equal
// is 1.0, inside the tolerance window decays linearly to 0.5 at the
// edge, outside is 0.0. Unparseable candidate dates score 0.0.
func dobSimilarity(q time.Time, candidate string, toleranceDays int) float64 {
	if candidate == "" {
		return 0
	}
	c, err := time.Parse("2006-01-02", candidate)
	if err != nil {
		return 0
	}
	days := int(q.Sub(c).Hours() / 24)
	if days < 0 {
		days = -days
	}
	if days == 0 {
		return 1
	}
	if toleranceDays <= 0 || days > toleranceDays {
		return 0
	}
	return 1 - 0.5*float64(days)/float64(toleranceDays)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
