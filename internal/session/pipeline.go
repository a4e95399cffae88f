package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/scraper"
)

const (
	// One initial fetch plus two retries when token extraction fails.
	formFetchTries = 3

	// Result pages are small; anything past this is not a form or a
	// results table.
	maxBodyBytes = 2 << 20
)

// Pacer admits and paces one outbound request. The orchestrator's
// implementation composes traffic admission, coordinator policy, and
// behavior delays.
type Pacer interface {
	BeforeRequest(ctx context.Context, kind models.RequestKind) error
}

// Exchange is the classified product of one attempt's upstream
// conversation.
type Exchange struct {
	Class      models.ResponseClass
	StatusCode int
	Records    []models.Record
}

// errUpstreamHostile marks a classified hostile response inside the
// breaker so it counts as a failure while the Exchange still reaches
// the caller.
var errUpstreamHostile = errors.New("upstream hostile response")

// Execute runs one full attempt: fetch form, build submission, submit,
// classify, extract. Hostile classifications come back as an Exchange
// with a nil error so the caller can feed the coordinator; a non-nil
// error means no classified response exists (transport failure, parse
// failure, validation, open breaker, cancellation).
func (s *State) Execute(ctx context.Context, q models.SearchQuery, pacer Pacer) (*Exchange, error) {
	form, hostile, err := s.fetchForm(ctx, pacer)
	if err != nil {
		return nil, err
	}
	if hostile != nil {
		return hostile, nil
	}

	values, err := scraper.BuildSubmission(form, &q)
	if err != nil {
		return nil, err
	}

	ex, body, err := s.submit(ctx, pacer, form, values)
	if err != nil {
		return nil, err
	}

	// Expired CSRF detected on submit: refetch once, rebuild, resubmit.
	if ex.Class == models.ClassUnknown && scraper.SessionExpired(body) {
		if s.csrfFresh(time.Now()) {
			log.Warn().Str("session_id", s.ID).Msg("Upstream expired a token younger than its expected lifetime")
		}
		log.Debug().Str("session_id", s.ID).Msg("Upstream session token expired, refetching form")
		s.form = nil
		freshForm, refetchHostile, err := s.fetchForm(ctx, pacer)
		if err != nil {
			return nil, err
		}
		if refetchHostile != nil {
			return refetchHostile, nil
		}
		values, err = scraper.BuildSubmission(freshForm, &q)
		if err != nil {
			return nil, err
		}
		ex, _, err = s.submit(ctx, pacer, freshForm, values)
		if err != nil {
			return nil, err
		}
	}
	return ex, nil
}

// fetchForm GETs the search page and parses the form, retrying the
// fetch when extraction fails. A hostile classification short-circuits
// with an Exchange instead of a form.
func (s *State) fetchForm(ctx context.Context, pacer Pacer) (*scraper.Form, *Exchange, error) {
	base, err := url.Parse(s.manager.baseURL)
	if err != nil {
		return nil, nil, internalerrors.New(internalerrors.KindInternal, "fetch_form", err)
	}

	var lastErr error
	for try := 1; try <= formFetchTries; try++ {
		if err := pacer.BeforeRequest(ctx, models.RequestFormFetch); err != nil {
			return nil, nil, err
		}
		status, body, err := s.roundtrip(ctx, "fetch_form", http.MethodGet, s.manager.baseURL, nil, true)
		if err != nil {
			return nil, nil, err
		}

		switch class := scraper.Classify(status, body); class {
		case models.ClassBlocked, models.ClassCaptcha, models.ClassRateLimited:
			s.lastClass = class
			return nil, &Exchange{Class: class, StatusCode: status}, nil
		}

		form, err := scraper.ParseForm(bytes.NewReader(body), base)
		if err != nil {
			lastErr = err
			log.Debug().
				Str("session_id", s.ID).
				Int("try", try).
				Msg("Form extraction failed, refetching")
			continue
		}

		fs := &formState{seenAt: time.Now()}
		if _, value, ok := form.CSRF(); ok {
			fs.csrfValue = value
		}
		s.form = fs
		return form, nil, nil
	}
	return nil, nil, internalerrors.New(internalerrors.KindParseFailure, "fetch_form", lastErr)
}

// submit POSTs the form through the upstream-global circuit breaker.
// Blocked, CAPTCHA, and 5xx responses count against the breaker.
func (s *State) submit(ctx context.Context, pacer Pacer, form *scraper.Form, values url.Values) (*Exchange, []byte, error) {
	if err := pacer.BeforeRequest(ctx, models.RequestFormSubmit); err != nil {
		return nil, nil, err
	}

	action := form.Action
	if action == "" {
		action = s.manager.baseURL
	}

	type submitResult struct {
		ex   *Exchange
		body []byte
	}
	res, err := s.manager.breaker.Execute(func() (interface{}, error) {
		status, body, err := s.roundtrip(ctx, "submit_form", http.MethodPost, action, strings.NewReader(values.Encode()), false)
		if err != nil {
			return nil, err
		}

		class := scraper.Classify(status, body)
		s.lastClass = class
		ex := &Exchange{Class: class, StatusCode: status}
		if class == models.ClassResults {
			records, err := scraper.ExtractRecords(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			ex.Records = records
		}

		if class == models.ClassBlocked || class == models.ClassCaptcha || status >= 500 {
			return submitResult{ex: ex, body: body}, errUpstreamHostile
		}
		return submitResult{ex: ex, body: body}, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, nil, internalerrors.New(internalerrors.KindBlocked, "submit_form",
			fmt.Errorf("upstream submit circuit open: %w", err))
	case errors.Is(err, errUpstreamHostile):
		r := res.(submitResult)
		return r.ex, r.body, nil
	case err != nil:
		return nil, nil, err
	}
	r := res.(submitResult)
	return r.ex, r.body, nil
}

// roundtrip performs one HTTP call with the session's identity applied
// and folds the observed latency into the proxy's health record.
func (s *State) roundtrip(ctx context.Context, op, method, target string, body io.Reader, navigate bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, internalerrors.New(internalerrors.KindInternal, op, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Referer", s.manager.baseURL)
		if origin := originOf(s.manager.baseURL); origin != "" {
			req.Header.Set("Origin", origin)
		}
	}
	s.Profile.Apply(req, navigate)

	start := time.Now()
	resp, err := s.client.Do(req)
	s.requests++
	if err != nil {
		return 0, nil, wrapTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	if s.Proxy != nil {
		s.Proxy.RecordRequest(time.Since(start))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, wrapTransport(ctx, op, err)
	}
	return resp.StatusCode, data, nil
}

// wrapTransport types a transport-level failure: cancellation keeps
// its kind, everything else is a retryable upstream timeout.
func wrapTransport(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return internalerrors.New(internalerrors.KindCancelled, op, err)
	}
	return internalerrors.New(internalerrors.KindUpstreamTimeout, op, err)
}

func originOf(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
