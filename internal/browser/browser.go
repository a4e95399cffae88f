// Package browser is the automation fallback for sessions the plain
// HTTP pipeline can no longer serve: it drives a real Chrome through
// the same navigate, fill, submit flow and feeds the rendered page to
// the shared classifier. Gated off by default; enabling it requires a
// Chrome binary on the host.
package browser

import (
	"context"
	"errors"

	"github.com/detloc/detloc/internal/config"
	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/obfuscate"
)

// Outcome is the classified product of one browser-driven search.
type Outcome struct {
	Class   models.ResponseClass
	Records []models.Record
}

// Fallback runs a search through browser automation. Implementations
// present the caller's session identity so the browser traffic and the
// HTTP traffic tell the same story.
type Fallback interface {
	// Available reports whether this fallback can actually run.
	Available() bool

	// Search performs one full form search. proxyURL may be empty for
	// a direct connection.
	Search(ctx context.Context, q models.SearchQuery, profile *obfuscate.Profile, proxyURL string) (*Outcome, error)
}

// New selects the configured implementation.
func New(cfg *config.Config) Fallback {
	if !cfg.Browser.Enabled {
		return Disabled{}
	}
	return &Chrome{
		baseURL:  cfg.BaseURL,
		headless: cfg.Browser.Headless,
	}
}

// Disabled rejects every search. It is the default implementation.
type Disabled struct{}

func (Disabled) Available() bool { return false }

func (Disabled) Search(context.Context, models.SearchQuery, *obfuscate.Profile, string) (*Outcome, error) {
	return nil, internalerrors.New(internalerrors.KindInternal, "browser.search",
		errors.New("browser fallback is disabled"))
}
