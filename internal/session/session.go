// Package session owns per-search HTTP state: the isolated cookie
// jar, the CSRF token lifecycle, the borrowed proxy, and the form
// fetch/submit pipeline against the upstream locator. Cookies and
// tokens never cross sessions; a State has exactly one owner.
package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/net/publicsuffix"

	"github.com/detloc/detloc/internal/antidetect"
	"github.com/detloc/detloc/internal/config"
	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/obfuscate"
	"github.com/detloc/detloc/internal/proxypool"
)

// csrfLifetime bounds how long an extracted token is trusted before
// the next attempt refetches the form regardless.
const csrfLifetime = 15 * time.Minute

// Manager builds and releases sessions. One manager serves the whole
// process; the circuit breaker it carries is upstream-global, so a
// hard-blocking upstream stops every session's submits together.
type Manager struct {
	baseURL   string
	transport *Transport
	pool      *proxypool.Pool
	profiles  *obfuscate.Generator
	breaker   *gobreaker.CircuitBreaker
}

// NewManager wires the shared transport, profile generator, and
// submit breaker from configuration.
func NewManager(cfg *config.Config, pool *proxypool.Pool) (*Manager, error) {
	gen, err := obfuscate.NewGenerator(cfg.HTTP.UserAgents)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		baseURL:   cfg.BaseURL,
		transport: NewTransport(cfg.HTTP.Timeout),
		pool:      pool,
		profiles:  gen,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-submit",
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upstream submit breaker changed state")
		},
	})
	return m, nil
}

// Shutdown stops the shared transport machinery.
func (m *Manager) Shutdown() {
	m.transport.Close()
}

// State is one search's HTTP identity. Mutated only by its owner.
type State struct {
	ID      string
	Profile *obfuscate.Profile
	Proxy   *proxypool.Handle

	manager  *Manager
	client   *http.Client
	jar      http.CookieJar
	language string

	form      *formState
	requests  int
	startedAt time.Time
	lastClass models.ResponseClass
}

// formState caches the parsed form with its CSRF binding.
type formState struct {
	csrfValue string
	seenAt    time.Time
}

// NewID returns a fresh time-ordered session identifier.
func NewID() string {
	return ulid.Make().String()
}

// Open creates a session shaped by the coordinator's directive: jar,
// stable obfuscation profile, borrowed proxy, HTTP client.
func (m *Manager) Open(id string, d antidetect.Directive, language string) (*State, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindInternal, "open_session", err)
	}

	handle, err := m.acquire(d)
	if err != nil {
		return nil, err
	}

	client, err := m.transport.Client(jar, handle.URL)
	if err != nil {
		m.pool.Release(handle, proxypool.OutcomeSuccess)
		return nil, internalerrors.New(internalerrors.KindInternal, "open_session", err)
	}

	st := &State{
		ID:        id,
		Profile:   m.profiles.NewProfile(language),
		Proxy:     handle,
		manager:   m,
		client:    client,
		jar:       jar,
		language:  language,
		startedAt: time.Now(),
	}
	log.Debug().
		Str("session_id", st.ID).
		Str("proxy_kind", string(handle.Kind)).
		Bool("direct", handle.URL == "").
		Msg("Session opened")
	return st, nil
}

// Rotate swaps the session's proxy (and, when directed, its browser
// identity) between attempts. The outgoing handle is released with the
// caller's verdict. The cookie jar survives rotation.
func (m *Manager) Rotate(st *State, d antidetect.Directive, outcome proxypool.Outcome) error {
	if st.Proxy != nil {
		m.pool.Release(st.Proxy, outcome)
		st.Proxy = nil
	}

	handle, err := m.acquire(d)
	if err != nil {
		return err
	}
	client, err := m.transport.Client(st.jar, handle.URL)
	if err != nil {
		m.pool.Release(handle, proxypool.OutcomeSuccess)
		return internalerrors.New(internalerrors.KindInternal, "rotate_session", err)
	}

	st.Proxy = handle
	st.client = client
	st.form = nil
	if d.RotateIdentity {
		st.Profile = m.profiles.NewProfile(st.language)
	}
	log.Debug().
		Str("session_id", st.ID).
		Str("proxy_kind", string(handle.Kind)).
		Bool("identity_rotated", d.RotateIdentity).
		Msg("Session rotated")
	return nil
}

// Close releases the borrowed proxy with the final verdict and drops
// idle connections.
func (m *Manager) Close(st *State, outcome proxypool.Outcome) {
	if st == nil {
		return
	}
	if st.Proxy != nil {
		m.pool.Release(st.Proxy, outcome)
		st.Proxy = nil
	}
	if t, ok := st.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	log.Debug().
		Str("session_id", st.ID).
		Int("requests", st.requests).
		Dur("lifetime", time.Since(st.startedAt)).
		Msg("Session closed")
}

func (m *Manager) acquire(d antidetect.Directive) (*proxypool.Handle, error) {
	handle, err := m.pool.Acquire(proxypool.AcquireOptions{
		RequireResidential: d.RequireResidential,
	})
	if err != nil {
		return nil, err
	}
	if d.ForceProxy && handle.URL == "" {
		m.pool.Release(handle, proxypool.OutcomeSuccess)
		return nil, internalerrors.New(internalerrors.KindNoProxy, "acquire_proxy",
			fmt.Errorf("threat level %s requires a proxy but only direct connect is available", d.Level))
	}
	return handle, nil
}

// Requests reports how many HTTP calls this session has made.
func (s *State) Requests() int {
	return s.requests
}

// LastClass reports the most recent response classification.
func (s *State) LastClass() models.ResponseClass {
	return s.lastClass
}

// ProxyKind names the kind of connection the session currently holds.
func (s *State) ProxyKind() string {
	if s.Proxy == nil || s.Proxy.URL == "" {
		return "direct"
	}
	return string(s.Proxy.Kind)
}

func (s *State) csrfFresh(now time.Time) bool {
	return s.form != nil && s.form.csrfValue != "" && now.Sub(s.form.seenAt) < csrfLifetime
}
