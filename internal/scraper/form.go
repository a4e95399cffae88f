// Package scraper handles the HTML mechanics of the upstream site:
// locating and parsing the search form, classifying responses, and
// extracting result records. Everything here is deterministic and
// network-free; the session layer owns the HTTP traffic.
package scraper

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

// Semantic identifies what a form field means, independent of the
// upstream's field naming.
type Semantic string

const (
	FieldFirstName   Semantic = "first_name"
	FieldLastName    Semantic = "last_name"
	FieldMiddleName  Semantic = "middle_name"
	FieldDateOfBirth Semantic = "date_of_birth"
	FieldCountry     Semantic = "country"
	FieldAlienNumber Semantic = "alien_number"
	FieldFacility    Semantic = "facility_name"
	FieldCity        Semantic = "city"
	FieldState       Semantic = "state"
	FieldZip         Semantic = "zip_code"
)

var semanticPatterns = []struct {
	sem Semantic
	re  *regexp.Regexp
}{
	{FieldFirstName, regexp.MustCompile(`(?i)first[_\s-]?name|fname|given`)},
	{FieldLastName, regexp.MustCompile(`(?i)last[_\s-]?name|lname|surname|family`)},
	{FieldMiddleName, regexp.MustCompile(`(?i)middle`)},
	// "birth" alone would also hit country-of-birth fields.
	{FieldDateOfBirth, regexp.MustCompile(`(?i)date.{0,3}birth|birth.{0,3}date|dob\b`)},
	{FieldAlienNumber, regexp.MustCompile(`(?i)alien|a[_-]?num`)},
	{FieldCountry, regexp.MustCompile(`(?i)country|nationality`)},
	{FieldFacility, regexp.MustCompile(`(?i)facility|center|institution`)},
	{FieldZip, regexp.MustCompile(`(?i)zip|postal`)},
	{FieldCity, regexp.MustCompile(`(?i)city`)},
	{FieldState, regexp.MustCompile(`(?i)state`)},
}

var csrfPattern = regexp.MustCompile(`(?i)csrf|xsrf|verification|authenticity|request_?token|__token`)

// HiddenField preserves one hidden input exactly as served, in
// document order.
type HiddenField struct {
	Name  string
	Value string
}

// Option is one entry of a select element.
type Option struct {
	Value string
	Label string
}

// Form is the parsed upstream search form.
type Form struct {
	Action string
	Method string
	Hidden []HiddenField

	fields  map[Semantic]string
	selects map[string][]Option

	csrfName  string
	csrfValue string
}

// ParseForm locates the search form in the document and extracts its
// structure. Selection prefers a form whose action looks like a search
// endpoint, falling back to the form whose field set resembles a
// person lookup.
func ParseForm(r io.Reader, base *url.URL) (*Form, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindParseFailure, "scraper.parse_form",
			fmt.Errorf("parse html: %w", err))
	}

	var forms []*html.Node
	walk(doc, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, n)
		}
	})
	if len(forms) == 0 {
		return nil, internalerrors.New(internalerrors.KindParseFailure, "scraper.parse_form",
			fmt.Errorf("no form element in document"))
	}

	var best *Form
	bestScore := -1
	for _, node := range forms {
		f := buildForm(node, base)
		score := f.relevanceScore()
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	if bestScore <= 0 {
		return nil, internalerrors.New(internalerrors.KindParseFailure, "scraper.parse_form",
			fmt.Errorf("no search-like form among %d forms", len(forms)))
	}
	return best, nil
}

func buildForm(node *html.Node, base *url.URL) *Form {
	f := &Form{
		Method:  strings.ToUpper(attr(node, "method")),
		fields:  make(map[Semantic]string),
		selects: make(map[string][]Option),
	}
	if f.Method == "" {
		f.Method = "POST"
	}
	f.Action = resolveAction(attr(node, "action"), base)

	walk(node, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.Data {
		case "input":
			f.addInput(n)
		case "select":
			f.addSelect(n)
		case "textarea":
			f.bindSemantic(n)
		}
	})
	return f
}

func (f *Form) addInput(n *html.Node) {
	name := attr(n, "name")
	if name == "" {
		return
	}
	typ := strings.ToLower(attr(n, "type"))
	switch typ {
	case "hidden":
		// Hidden inputs are preserved verbatim, empty values included.
		f.Hidden = append(f.Hidden, HiddenField{Name: name, Value: attr(n, "value")})
		if f.csrfName == "" && csrfPattern.MatchString(name) {
			f.csrfName = name
			f.csrfValue = attr(n, "value")
		}
	case "submit", "button", "image", "reset":
	default:
		f.bindSemantic(n)
	}
}

func (f *Form) addSelect(n *html.Node) {
	name := attr(n, "name")
	if name == "" {
		return
	}
	var opts []Option
	walk(n, func(c *html.Node) {
		if c.Type == html.ElementNode && c.Data == "option" {
			opts = append(opts, Option{
				Value: attr(c, "value"),
				Label: strings.TrimSpace(text(c)),
			})
		}
	})
	f.selects[name] = opts
	f.bindSemantic(n)
}

// bindSemantic maps a field to its meaning by inspecting name, id, and
// placeholder. First match wins so the pattern order resolves
// ambiguity (a "state" match never steals "__VIEWSTATE": hidden inputs
// are not bound here).
func (f *Form) bindSemantic(n *html.Node) {
	name := attr(n, "name")
	if name == "" {
		return
	}
	hints := name + " " + attr(n, "id") + " " + attr(n, "placeholder") + " " + attr(n, "aria-label")
	for _, sp := range semanticPatterns {
		if _, taken := f.fields[sp.sem]; taken {
			continue
		}
		if sp.re.MatchString(hints) {
			f.fields[sp.sem] = name
			return
		}
	}
}

// relevanceScore ranks candidate forms: action URL first, field-set
// heuristic as fallback.
func (f *Form) relevanceScore() int {
	score := 0
	action := strings.ToLower(f.Action)
	for _, marker := range []string{"search", "locate", "lookup", "find"} {
		if strings.Contains(action, marker) {
			score += 3
			break
		}
	}
	if f.csrfName != "" {
		score += 2
	}
	if _, ok := f.fields[FieldLastName]; ok {
		score += 2
	}
	if _, ok := f.fields[FieldAlienNumber]; ok {
		score += 2
	}
	if _, ok := f.fields[FieldCountry]; ok {
		score++
	}
	if len(f.Hidden) > 0 {
		score++
	}
	return score
}

// FieldName returns the upstream's name for a semantic field.
func (f *Form) FieldName(sem Semantic) (string, bool) {
	name, ok := f.fields[sem]
	return name, ok
}

// CSRF returns the detected token field, if any.
func (f *Form) CSRF() (name, value string, ok bool) {
	return f.csrfName, f.csrfValue, f.csrfName != "" && f.csrfValue != ""
}

// Options returns the option list for a named select field.
func (f *Form) Options(fieldName string) []Option {
	return f.selects[fieldName]
}

// MatchCountry resolves free-text country input against the form's
// country option list, case- and accent-insensitively, trying alias
// normalization when the folded forms differ. The second return is
// false when the form has no country select (free-text country field)
// and the input should be sent as typed.
func (f *Form) MatchCountry(country string) (value string, matched, isSelect bool) {
	fieldName, ok := f.fields[FieldCountry]
	if !ok {
		return "", false, false
	}
	opts, ok := f.selects[fieldName]
	if !ok || len(opts) == 0 {
		return "", false, false
	}

	folded := strings.ToLower(models.FoldAccents(strings.TrimSpace(country)))
	normalized := models.NormalizeCountry(country)
	for _, opt := range opts {
		if strings.ToLower(models.FoldAccents(opt.Label)) == folded ||
			strings.ToLower(models.FoldAccents(opt.Value)) == folded {
			return opt.Value, true, true
		}
	}
	for _, opt := range opts {
		if models.NormalizeCountry(opt.Label) == normalized {
			return opt.Value, true, true
		}
	}
	return "", false, true
}

func resolveAction(action string, base *url.URL) string {
	if base == nil {
		return action
	}
	if action == "" {
		return base.String()
	}
	ref, err := url.Parse(action)
	if err != nil {
		return action
	}
	return base.ResolveReference(ref).String()
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}
