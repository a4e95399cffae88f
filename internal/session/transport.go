package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const dnsRefreshInterval = 5 * time.Minute

// Transport owns the outbound dial path shared by every session: a
// caching DNS resolver refreshed in the background so repeated
// searches do not hammer the resolver, plus per-session client
// construction with an isolated cookie jar and optional proxy.
type Transport struct {
	resolver *dnscache.Resolver
	timeout  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTransport starts the resolver refresh loop. Callers must Close.
func NewTransport(requestTimeout time.Duration) *Transport {
	t := &Transport{
		resolver: &dnscache.Resolver{},
		timeout:  requestTimeout,
		stop:     make(chan struct{}),
	}
	go t.refreshLoop()
	return t
}

func (t *Transport) refreshLoop() {
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.resolver.Refresh(true)
			log.Debug().Msg("DNS cache refreshed")
		case <-t.stop:
			return
		}
	}
}

// Close stops the background refresh loop.
func (t *Transport) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Transport) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	ips, err := t.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Client builds one session's HTTP client. The jar is never shared;
// proxyURL may be empty for a direct connection. SOCKS5 endpoints work
// through the standard proxy support in net/http.
func (t *Transport) Client(jar http.CookieJar, proxyURL string) (*http.Client, error) {
	tr := &http.Transport{
		DialContext:           t.dialContext,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("session: parse proxy url: %w", err)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Jar:       jar,
		Transport: tr,
		Timeout:   t.timeout,
	}, nil
}
