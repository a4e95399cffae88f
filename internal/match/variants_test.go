package match

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitNameDropsParticles(t *testing.T) {
	assert.Equal(t, []string{"maria", "cruz"}, splitName("María de la Cruz"))
	assert.Equal(t, []string{"jean", "pierre"}, splitName("Jean-Pierre"))
	assert.Equal(t, []string{"doe", "john"}, splitName("Doe, John"))
	assert.Empty(t, splitName(""))
}

func TestOrderingsDoubleSurname(t *testing.T) {
	got := orderings([]string{"maria", "garcia", "lopez"})
	joined := make([]string, len(got))
	for i, g := range got {
		joined[i] = strings.Join(g, " ")
	}
	assert.Contains(t, joined, "maria garcia lopez")
	assert.Contains(t, joined, "lopez maria garcia")
	assert.Contains(t, joined, "maria garcia")
	assert.Contains(t, joined, "maria lopez")
	assert.Contains(t, joined, "maria lopez garcia")
}

func TestNameFormsNicknames(t *testing.T) {
	assert.Contains(t, nameForms("Pepe"), "jose")
	assert.Contains(t, nameForms("Robert"), "bob")
	assert.Contains(t, nameForms("José"), "pepe", "reverse lookup folds accents")
	assert.Equal(t, []string{"smith"}, nameForms("Smith"))
}
