// Package obfuscate generates session-stable browser identities for
// outbound requests: user agent, platform hints, locale preferences,
// and a varied but internally consistent header set.
package obfuscate

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/detloc/detloc/internal/models"
)

// Platform names follow the Sec-CH-UA-Platform grammar.
const (
	PlatformWindows = "Windows"
	PlatformMac     = "macOS"
	PlatformLinux   = "Linux"
)

// Secondary header inclusion probabilities. Chosen independently, then
// adjusted so a profile never carries all of them and never none.
const (
	probDNT          = 0.40
	probCacheControl = 0.35
	probPragma       = 0.25
)

var spanishLocales = []string{"es-MX", "es-ES", "es-CO", "es-AR"}
var englishLocales = []string{"en-US", "en-GB", "en-CA"}

// Profile is one session's stable identity. All requests in a session
// present the same user agent, platform, and primary locale; varying
// them mid-session is itself a detection signal.
type Profile struct {
	UserAgent     string
	Platform      string
	PrimaryLocale string

	acceptLanguage string
	secondary      map[string]string
	headerOrder    []string
}

// Generator builds profiles from the configured user agent inventory.
type Generator struct {
	mu         sync.Mutex
	userAgents []string
	rng        *rand.Rand
}

// NewGenerator requires at least one user agent string.
func NewGenerator(userAgents []string) (*Generator, error) {
	if len(userAgents) == 0 {
		return nil, fmt.Errorf("obfuscate: no user agents configured")
	}
	return &Generator{
		userAgents: append([]string(nil), userAgents...),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// NewProfile creates a fresh identity for a session in the given
// query language.
func (g *Generator) NewProfile(language string) *Profile {
	g.mu.Lock()
	defer g.mu.Unlock()

	ua := g.userAgents[g.rng.Intn(len(g.userAgents))]
	p := &Profile{
		UserAgent: ua,
		Platform:  platformFor(ua),
		secondary: map[string]string{},
	}

	p.PrimaryLocale, p.acceptLanguage = g.localesFor(language)
	g.chooseSecondary(p)

	p.headerOrder = []string{
		"User-Agent", "Accept", "Accept-Language", "Accept-Encoding",
		"DNT", "Cache-Control", "Pragma", "Upgrade-Insecure-Requests", "Connection",
	}
	g.rng.Shuffle(len(p.headerOrder), func(i, j int) {
		p.headerOrder[i], p.headerOrder[j] = p.headerOrder[j], p.headerOrder[i]
	})
	return p
}

// platformFor derives the platform from the user agent string so
// client hints never contradict it.
func platformFor(ua string) string {
	switch {
	case strings.Contains(ua, "Windows NT"):
		return PlatformWindows
	case strings.Contains(ua, "Macintosh"):
		return PlatformMac
	default:
		return PlatformLinux
	}
}

// localesFor picks a primary locale for the language plus up to two
// fallbacks with strictly decreasing q-values.
func (g *Generator) localesFor(language string) (primary, header string) {
	pool := englishLocales
	fallback := "es"
	if language == models.LanguageES {
		pool = spanishLocales
		fallback = "en"
	}
	primary = pool[g.rng.Intn(len(pool))]

	parts := []string{primary}
	q := 0.9
	// Base language without region, e.g. en-US,en;q=0.9.
	parts = append(parts, fmt.Sprintf("%s;q=%.1f", primary[:2], q))
	q -= 0.1
	if g.rng.Float64() < 0.6 {
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", fallback, q))
	}
	return primary, strings.Join(parts, ",")
}

// chooseSecondary rolls the optional headers independently, then
// enforces the never-all, never-none constraint.
func (g *Generator) chooseSecondary(p *Profile) {
	type roll struct {
		name, value string
		prob        float64
	}
	rolls := []roll{
		{"DNT", "1", probDNT},
		{"Cache-Control", "no-cache", probCacheControl},
		{"Pragma", "no-cache", probPragma},
	}
	for _, r := range rolls {
		if g.rng.Float64() < r.prob {
			p.secondary[r.name] = r.value
		}
	}
	if len(p.secondary) == len(rolls) {
		drop := rolls[g.rng.Intn(len(rolls))]
		delete(p.secondary, drop.name)
	}
	if len(p.secondary) == 0 {
		add := rolls[g.rng.Intn(len(rolls))]
		p.secondary[add.name] = add.value
	}
}

// AcceptLanguage returns the session's Accept-Language value.
func (p *Profile) AcceptLanguage() string {
	return p.acceptLanguage
}

// HeaderOrder returns the session's shuffled header sequence.
func (p *Profile) HeaderOrder() []string {
	return append([]string(nil), p.headerOrder...)
}

// Apply sets the profile's headers on the request, following the
// session's header order. Navigation-only headers are included when
// navigate is true.
func (p *Profile) Apply(req *http.Request, navigate bool) {
	values := map[string]string{
		"User-Agent":      p.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": p.acceptLanguage,
		"Accept-Encoding": "gzip, deflate, br",
		"Connection":      "keep-alive",
	}
	if navigate {
		values["Upgrade-Insecure-Requests"] = "1"
	}
	for name, val := range p.secondary {
		values[name] = val
	}

	for _, name := range p.headerOrder {
		if val, ok := values[name]; ok {
			req.Header.Set(name, val)
		}
	}
	if strings.Contains(p.UserAgent, "Chrome/") {
		req.Header.Set("Sec-Ch-Ua-Platform", fmt.Sprintf("%q", p.Platform))
	}
}

// SecondaryHeaders exposes the chosen optional headers.
func (p *Profile) SecondaryHeaders() map[string]string {
	out := make(map[string]string, len(p.secondary))
	for k, v := range p.secondary {
		out[k] = v
	}
	return out
}
