package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinRatio(t *testing.T) {
	assert.Equal(t, 1.0, LevenshteinRatio("john doe", "john doe"))
	assert.Equal(t, 1.0, LevenshteinRatio("", ""))
	assert.InDelta(t, 0.8, LevenshteinRatio("smith", "smyth"), 1e-9)
	assert.InDelta(t, 0.5, LevenshteinRatio("ab", "ax"), 1e-9)
	assert.Equal(t, 0.0, LevenshteinRatio("abc", ""))
}

func TestJaro(t *testing.T) {
	assert.Equal(t, 1.0, Jaro("", ""))
	assert.Equal(t, 0.0, Jaro("a", ""))
	assert.Equal(t, 1.0, Jaro("maria", "maria"))
	assert.Equal(t, 0.0, Jaro("abc", "xyz"))
	assert.InDelta(t, 0.9444, Jaro("martha", "marhta"), 0.0001)
	assert.InDelta(t, 0.8222, Jaro("dwayne", "duane"), 0.0001)
}

func TestJaroWinkler(t *testing.T) {
	assert.InDelta(t, 0.9611, JaroWinkler("martha", "marhta"), 0.0001)
	assert.InDelta(t, 0.8400, JaroWinkler("dwayne", "duane"), 0.0001)
	assert.InDelta(t, 0.8133, JaroWinkler("dixon", "dicksonx"), 0.0001)
}

func TestJaroWinklerSkipsBoostBelowThreshold(t *testing.T) {
	// Similarity 0.556 sits under the 0.7 boost floor, so the shared
	// prefix earns nothing.
	assert.Equal(t, Jaro("abcdef", "fedcba"), JaroWinkler("abcdef", "fedcba"))
}
