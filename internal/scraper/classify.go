package scraper

import (
	"regexp"
	"strings"

	"github.com/detloc/detloc/internal/models"
)

// Body markers checked in priority order: a CAPTCHA interstitial can
// carry a 200 status and even embed the word "results", so challenge
// detection runs first.
var (
	captchaMarkers = []string{
		"g-recaptcha", "h-captcha", "cf-turnstile", "cf-challenge",
		"captcha", "are you a robot", "verify you are human",
	}
	blockMarkers = []string{
		"access denied", "request blocked", "forbidden",
		"unusual traffic", "has been blocked",
	}
	noResultsMarkers = []string{
		"no results", "no records", "no matches", "not found",
		"0 results", "zero results",
		// Spanish variants served for es sessions.
		"no se encontraron", "sin resultados", "no hay resultados",
	}
	sessionExpiredMarkers = []string{
		"session expired", "session has expired", "token expired",
		"invalid token", "please try your search again",
	}

	resultsTableRe = regexp.MustCompile(`(?i)<table[^>]*>`)
)

// Classify maps one upstream response to its classification. The
// decision is a pure function of status code and body content.
func Classify(statusCode int, body []byte) models.ResponseClass {
	lower := strings.ToLower(string(body))

	if containsAny(lower, captchaMarkers) {
		return models.ClassCaptcha
	}

	switch {
	case statusCode == 403:
		return models.ClassBlocked
	case statusCode == 429:
		return models.ClassRateLimited
	case statusCode == 404:
		return models.ClassNotFound
	case statusCode >= 500:
		return models.ClassUnknown
	}

	if containsAny(lower, blockMarkers) {
		return models.ClassBlocked
	}
	if containsAny(lower, noResultsMarkers) {
		return models.ClassNotFound
	}
	if resultsTableRe.MatchString(lower) {
		return models.ClassResults
	}
	return models.ClassUnknown
}

// SessionExpired reports whether a submit response indicates the CSRF
// token or session lapsed, which calls for one bounded form refetch.
func SessionExpired(body []byte) bool {
	return containsAny(strings.ToLower(string(body)), sessionExpiredMarkers)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
