package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/obfuscate"
	"github.com/detloc/detloc/internal/scraper"
)

const (
	// Covers launch, navigation, fill, and the result render. Generous
	// because the fallback only runs after HTTP attempts already
	// failed.
	runTimeout = 90 * time.Second

	// Upstream redraws the result area client-side after the submit
	// navigation; the DOM needs a moment to settle before extraction.
	settleDelay = 2 * time.Second
)

// Chrome drives a headless (or headful) Chrome via the DevTools
// protocol. Each Search launches a fresh browser so no state leaks
// between sessions.
type Chrome struct {
	baseURL  string
	headless bool
}

func (c *Chrome) Available() bool { return true }

func (c *Chrome) Search(ctx context.Context, q models.SearchQuery, profile *obfuscate.Profile, proxyURL string) (*Outcome, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.headless),
		chromedp.UserAgent(profile.UserAgent),
		chromedp.Flag("lang", profile.PrimaryLocale),
		chromedp.WindowSize(1366, 768),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	tabCtx, cancelRun := context.WithTimeout(tabCtx, runTimeout)
	defer cancelRun()

	log.Debug().
		Str("proxy", redactProxy(proxyURL)).
		Bool("headless", c.headless).
		Msg("Browser fallback launching")

	var formHTML string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(c.baseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &formHTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, wrapRun(ctx, "browser.navigate", err)
	}

	// A challenge served in place of the form is still a classified
	// answer; the coordinator decides what happens next.
	switch class := scraper.Classify(http.StatusOK, []byte(formHTML)); class {
	case models.ClassBlocked, models.ClassCaptcha, models.ClassRateLimited:
		return &Outcome{Class: class}, nil
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindInternal, "browser.navigate", err)
	}
	form, err := scraper.ParseForm(strings.NewReader(formHTML), base)
	if err != nil {
		return nil, err
	}

	actions, anchor, err := fillPlan(form, &q)
	if err != nil {
		return nil, err
	}
	actions = append(actions,
		chromedp.Submit(anchor, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	)

	var resultHTML string
	actions = append(actions, chromedp.OuterHTML("html", &resultHTML, chromedp.ByQuery))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, wrapRun(ctx, "browser.submit", err)
	}

	body := []byte(resultHTML)
	out := &Outcome{Class: scraper.Classify(http.StatusOK, body)}
	if out.Class == models.ClassResults {
		records, err := scraper.ExtractRecords(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		out.Records = records
	}
	return out, nil
}

// fillPlan maps the query's submission values onto DOM actions against
// the form's own field names. Hidden inputs stay untouched; the live
// page already carries them, token included. The anchor selector
// identifies an element inside the form for the submit action.
func fillPlan(form *scraper.Form, q *models.SearchQuery) (actions []chromedp.Action, anchor string, err error) {
	values, err := scraper.BuildSubmission(form, q)
	if err != nil {
		return nil, "", err
	}

	hidden := make(map[string]bool, len(form.Hidden))
	for _, h := range form.Hidden {
		hidden[h.Name] = true
	}

	names := make([]string, 0, len(values))
	for name := range values {
		if !hidden[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, "", internalerrors.New(internalerrors.KindInternal, "browser.fill",
			errors.New("no fillable fields for query"))
	}
	sort.Strings(names)

	for _, name := range names {
		sel := fmt.Sprintf(`[name=%q]`, name)
		if anchor == "" {
			anchor = sel
		}
		if len(form.Options(name)) > 0 {
			actions = append(actions, chromedp.SetValue(sel, values.Get(name), chromedp.ByQuery))
			continue
		}
		actions = append(actions, chromedp.SendKeys(sel, values.Get(name), chromedp.ByQuery))
	}
	return actions, anchor, nil
}

// wrapRun types a browser run failure the same way the HTTP transport
// does: cancellation keeps its kind, everything else is retryable.
func wrapRun(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return internalerrors.New(internalerrors.KindCancelled, op, err)
	}
	return internalerrors.New(internalerrors.KindUpstreamTimeout, op, err)
}

func redactProxy(proxyURL string) string {
	if proxyURL == "" {
		return "direct"
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "invalid"
	}
	return u.Scheme + "://" + u.Host
}
