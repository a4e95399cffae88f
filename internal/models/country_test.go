package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldAccents(t *testing.T) {
	assert.Equal(t, "Jose Garcia", FoldAccents("José García"))
	assert.Equal(t, "Mejico", FoldAccents("Méjico"))
	assert.Equal(t, "plain", FoldAccents("plain"))
	assert.Equal(t, "", FoldAccents(""))
}

func TestNormalizeCountry_Aliases(t *testing.T) {
	assert.Equal(t, "united states", NormalizeCountry("USA"))
	assert.Equal(t, "united states", NormalizeCountry("Estados Unidos"))
	assert.Equal(t, "mexico", NormalizeCountry("México"))
	assert.Equal(t, "mexico", NormalizeCountry("  MEXICO "))
	assert.Equal(t, "el salvador", NormalizeCountry("El Salvador C.A."))
	assert.Equal(t, "united kingdom", NormalizeCountry("Great Britain"))
}

func TestCountryScore_Tiers(t *testing.T) {
	assert.Equal(t, 1.0, CountryScore("Mexico", "mexico"))
	assert.Equal(t, 1.0, CountryScore("México", "Mexico"), "accent fold counts as exact")
	assert.Equal(t, 0.9, CountryScore("USA", "United States"))
	assert.Equal(t, 0.0, CountryScore("Mexico", "Guatemala"))
	assert.Equal(t, 0.0, CountryScore("", "Mexico"))
	assert.Equal(t, 0.0, CountryScore("Mexico", ""))
}
