package obfuscate

import (
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detloc/detloc/internal/models"
)

var testAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

func testGenerator(t *testing.T, seed int64) *Generator {
	t.Helper()
	g, err := NewGenerator(testAgents)
	require.NoError(t, err)
	g.rng = rand.New(rand.NewSource(seed))
	return g
}

func TestNewGenerator_RequiresAgents(t *testing.T) {
	_, err := NewGenerator(nil)
	assert.Error(t, err)
}

func TestNewProfile_PlatformMatchesUserAgent(t *testing.T) {
	g := testGenerator(t, 1)
	for i := 0; i < 50; i++ {
		p := g.NewProfile(models.LanguageEN)
		switch {
		case strings.Contains(p.UserAgent, "Windows NT"):
			assert.Equal(t, PlatformWindows, p.Platform)
		case strings.Contains(p.UserAgent, "Macintosh"):
			assert.Equal(t, PlatformMac, p.Platform)
		default:
			assert.Equal(t, PlatformLinux, p.Platform)
		}
	}
}

func TestNewProfile_SecondaryHeaderConstraint(t *testing.T) {
	g := testGenerator(t, 2)
	for i := 0; i < 200; i++ {
		p := g.NewProfile(models.LanguageEN)
		n := len(p.SecondaryHeaders())
		assert.Greater(t, n, 0, "at least one secondary header")
		assert.Less(t, n, 3, "never the complete secondary set")
	}
}

func TestNewProfile_AcceptLanguageDecreasingQ(t *testing.T) {
	g := testGenerator(t, 3)
	qRe := regexp.MustCompile(`;q=(0\.\d)`)

	for i := 0; i < 50; i++ {
		p := g.NewProfile(models.LanguageEN)
		al := p.AcceptLanguage()
		parts := strings.Split(al, ",")
		require.GreaterOrEqual(t, len(parts), 2)
		require.LessOrEqual(t, len(parts), 3)

		assert.Equal(t, p.PrimaryLocale, parts[0], "primary locale leads with implicit q=1")

		prev := 1.0
		for _, part := range parts[1:] {
			m := qRe.FindStringSubmatch(part)
			require.NotNil(t, m, "fallback locales carry explicit q: %s", al)
			q, err := strconv.ParseFloat(m[1], 64)
			require.NoError(t, err)
			assert.Less(t, q, prev, "q-values must decrease: %s", al)
			prev = q
		}
	}
}

func TestNewProfile_SpanishPrimaryLocale(t *testing.T) {
	g := testGenerator(t, 4)
	for i := 0; i < 20; i++ {
		p := g.NewProfile(models.LanguageES)
		assert.True(t, strings.HasPrefix(p.PrimaryLocale, "es-"), "got %s", p.PrimaryLocale)
		assert.True(t, strings.HasPrefix(p.AcceptLanguage(), p.PrimaryLocale))
	}
}

func TestApply_SessionStableIdentity(t *testing.T) {
	g := testGenerator(t, 5)
	p := g.NewProfile(models.LanguageEN)

	req1, _ := http.NewRequest(http.MethodGet, "https://example.test/", nil)
	req2, _ := http.NewRequest(http.MethodPost, "https://example.test/search", nil)
	p.Apply(req1, true)
	p.Apply(req2, false)

	assert.Equal(t, req1.Header.Get("User-Agent"), req2.Header.Get("User-Agent"))
	assert.Equal(t, req1.Header.Get("Accept-Language"), req2.Header.Get("Accept-Language"))
	assert.Equal(t, "1", req1.Header.Get("Upgrade-Insecure-Requests"))
	assert.Empty(t, req2.Header.Get("Upgrade-Insecure-Requests"), "form posts skip navigation headers")
	assert.NotEmpty(t, req1.Header.Get("Accept"))
	assert.Equal(t, "gzip, deflate, br", req1.Header.Get("Accept-Encoding"))
}

func TestApply_ChromeClientHintsMatchPlatform(t *testing.T) {
	g := testGenerator(t, 6)
	for i := 0; i < 30; i++ {
		p := g.NewProfile(models.LanguageEN)
		req, _ := http.NewRequest(http.MethodGet, "https://example.test/", nil)
		p.Apply(req, true)

		hint := req.Header.Get("Sec-Ch-Ua-Platform")
		if strings.Contains(p.UserAgent, "Chrome/") {
			assert.Equal(t, `"`+p.Platform+`"`, hint)
		} else {
			assert.Empty(t, hint)
		}
	}
}

func TestNewProfile_HeaderOrderVariesAcrossSessions(t *testing.T) {
	g := testGenerator(t, 7)
	orders := make(map[string]bool)
	for i := 0; i < 20; i++ {
		p := g.NewProfile(models.LanguageEN)
		orders[strings.Join(p.HeaderOrder(), "|")] = true
	}
	assert.Greater(t, len(orders), 1, "header order should differ between sessions")
}
