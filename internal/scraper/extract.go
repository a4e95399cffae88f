package scraper

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

// column identifies a result-table column by header text. Unknown
// headers are ignored rather than treated as errors.
type column int

const (
	colUnknown column = iota
	colAlienNumber
	colName
	colDOB
	colCountry
	colFacility
	colLocation
	colCustody
	colUpdated
)

var columnPatterns = []struct {
	col column
	re  *regexp.Regexp
}{
	{colAlienNumber, regexp.MustCompile(`(?i)a[\s-]?number|alien`)},
	{colDOB, regexp.MustCompile(`(?i)birth|dob`)},
	{colCountry, regexp.MustCompile(`(?i)country|nationality`)},
	{colFacility, regexp.MustCompile(`(?i)facility|center|detention`)},
	{colLocation, regexp.MustCompile(`(?i)location|city`)},
	{colCustody, regexp.MustCompile(`(?i)custody|status`)},
	{colUpdated, regexp.MustCompile(`(?i)updated|as of`)},
	{colName, regexp.MustCompile(`(?i)name`)},
}

// positionalColumns is the fallback layout when the table has no
// header row, matching the upstream's column order.
var positionalColumns = []column{
	colAlienNumber, colName, colDOB, colCountry,
	colFacility, colLocation, colCustody, colUpdated,
}

// ExtractRecords pulls detainee records out of a results page. The
// target is the first table with data rows whose shape resembles the
// results listing; each cell is parsed defensively.
func ExtractRecords(r io.Reader) ([]models.Record, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, internalerrors.New(internalerrors.KindParseFailure, "scraper.extract",
			fmt.Errorf("parse html: %w", err))
	}

	var tables []*html.Node
	walk(doc, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			tables = append(tables, n)
		}
	})

	for _, table := range tables {
		if records, ok := extractFromTable(table); ok {
			return records, nil
		}
	}
	return nil, internalerrors.New(internalerrors.KindParseFailure, "scraper.extract",
		fmt.Errorf("no results table found among %d tables", len(tables)))
}

func extractFromTable(table *html.Node) ([]models.Record, bool) {
	var rows [][]string
	var headers []string

	walk(table, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "tr" {
			return
		}
		var cells []string
		isHeader := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "th":
				isHeader = true
				cells = append(cells, strings.TrimSpace(text(c)))
			case "td":
				cells = append(cells, strings.TrimSpace(text(c)))
			}
		}
		if len(cells) == 0 {
			return
		}
		if isHeader {
			if headers == nil {
				headers = cells
			}
			return
		}
		rows = append(rows, cells)
	})

	if len(rows) == 0 {
		return nil, false
	}

	layout := layoutFor(headers, len(rows[0]))
	if !layoutPlausible(layout) {
		return nil, false
	}

	records := make([]models.Record, 0, len(rows))
	for _, cells := range rows {
		records = append(records, recordFromCells(cells, layout))
	}
	return records, true
}

// layoutFor maps cell index to column meaning, from headers when
// present, positionally otherwise.
func layoutFor(headers []string, width int) []column {
	if len(headers) == 0 {
		layout := make([]column, width)
		for i := range layout {
			if i < len(positionalColumns) {
				layout[i] = positionalColumns[i]
			}
		}
		return layout
	}

	layout := make([]column, len(headers))
	for i, h := range headers {
		layout[i] = colUnknown
		for _, cp := range columnPatterns {
			if cp.re.MatchString(h) {
				layout[i] = cp.col
				break
			}
		}
	}
	return layout
}

// layoutPlausible requires at least a name column plus one other
// identifying column before a table is accepted as the results
// listing. Navigation and layout tables fail this.
func layoutPlausible(layout []column) bool {
	seen := map[column]bool{}
	for _, c := range layout {
		seen[c] = true
	}
	if !seen[colName] {
		return false
	}
	return seen[colAlienNumber] || seen[colDOB] || seen[colFacility] || seen[colCountry]
}

func recordFromCells(cells []string, layout []column) models.Record {
	var rec models.Record
	for i, cell := range cells {
		if i >= len(layout) {
			break // extra columns are ignored
		}
		value := strings.TrimSpace(cell)
		switch layout[i] {
		case colAlienNumber:
			rec.AlienNumber = value
		case colName:
			rec.FullName = collapseWhitespace(value)
		case colDOB:
			rec.DateOfBirth = NormalizeDate(value)
		case colCountry:
			rec.CountryOfBirth = value
		case colFacility:
			rec.FacilityName = value
		case colLocation:
			rec.FacilityLocation = value
		case colCustody:
			rec.CustodyStatus = value
		case colUpdated:
			rec.LastUpdated = NormalizeDate(value)
		}
	}
	return rec
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02-Jan-2006",
	"2006/01/02",
}

// NormalizeDate converts common upstream date renderings to ISO 8601.
// Unrecognized values pass through trimmed: a malformed date in one
// cell must not fail the whole row.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}
