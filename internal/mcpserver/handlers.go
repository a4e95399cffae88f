package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/naturalquery"
)

const (
	maxBulkSearches        = 10
	maxBulkConcurrency     = 5
	defaultBulkConcurrency = 2
)

// errorBody is the error half of the response envelope. Field names
// are part of the tool contract.
type errorBody struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	Retryable     bool   `json:"retryable"`
	RedactedQuery string `json:"redacted_query,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// bulkResponse mirrors input order: each slot holds either a search
// result or an error envelope.
type bulkResponse struct {
	Results   []any `json:"results"`
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
}

// parseResponse reports what the parser extracted and, when the query
// auto-executed, the search outcome.
type parseResponse struct {
	Query      models.SearchQuery   `json:"query"`
	Confidence float64              `json:"confidence"`
	Recognized []string             `json:"recognized_fields,omitempty"`
	Missing    []string             `json:"missing_fields,omitempty"`
	Executed   bool                 `json:"executed"`
	Result     *models.SearchResult `json:"result,omitempty"`
}

func (s *Server) handleSearchByName(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	q := models.SearchQuery{
		Kind:           models.KindByName,
		FirstName:      stringArg(args, "first_name", ""),
		MiddleName:     stringArg(args, "middle_name", ""),
		LastName:       stringArg(args, "last_name", ""),
		DateOfBirth:    stringArg(args, "date_of_birth", ""),
		CountryOfBirth: stringArg(args, "country_of_birth", ""),
	}
	s.applyTuning(&q, args)
	return s.run(ctx, q)
}

func (s *Server) handleSearchByAlienNumber(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	q := models.SearchQuery{
		Kind:        models.KindByAlienNumber,
		AlienNumber: stringArg(args, "alien_number", ""),
		Language:    stringArg(args, "language", s.cfg.Language),
		// Identifier lookups are exact; every returned record must carry
		// the queried A-Number.
		ConfidenceThreshold: 1.0,
	}
	return s.run(ctx, q)
}

func (s *Server) handleSearchByFacility(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	q := models.SearchQuery{
		Kind:         models.KindByFacility,
		FacilityName: stringArg(args, "facility_name", ""),
		City:         stringArg(args, "city", ""),
		State:        stringArg(args, "state", ""),
		ZipCode:      stringArg(args, "zip_code", ""),
		FacilityType: stringArg(args, "facility_type", ""),
		ActiveOnly:   boolArg(args, "active_only", false),
		Language:     stringArg(args, "language", s.cfg.Language),
	}
	return s.run(ctx, q)
}

func (s *Server) handleBulkSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	rawSearches, ok := args["searches"].([]interface{})
	if !ok || len(rawSearches) == 0 {
		return validationResult("searches must be a non-empty array"), nil
	}
	if len(rawSearches) > maxBulkSearches {
		return validationResult(fmt.Sprintf("bulk_search accepts at most %d searches, got %d", maxBulkSearches, len(rawSearches))), nil
	}

	maxConcurrent := intArg(args, "max_concurrent", defaultBulkConcurrency)
	if maxConcurrent < 1 || maxConcurrent > maxBulkConcurrency {
		return validationResult(fmt.Sprintf("max_concurrent must be between 1 and %d", maxBulkConcurrency)), nil
	}
	stopOnError := boolArg(args, "stop_on_error", false)

	queries := make([]models.SearchQuery, len(rawSearches))
	for i, raw := range rawSearches {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return validationResult(fmt.Sprintf("search %d is not an object", i)), nil
		}
		queries[i] = s.queryFromItem(item)
	}

	log.Debug().
		Int("searches", len(queries)).
		Int("max_concurrent", maxConcurrent).
		Bool("stop_on_error", stopOnError).
		Msg("Dispatching bulk search")

	items := s.orch.Bulk(ctx, queries, maxConcurrent, stopOnError)

	resp := bulkResponse{Results: make([]any, len(items)), Total: len(items)}
	for i, item := range items {
		if item.Err != nil {
			resp.Failed++
			resp.Results[i] = envelopeFor(item.Err)
			continue
		}
		resp.Succeeded++
		resp.Results[i] = item.Result
	}
	return newTextResult(jsonText(resp)), nil
}

func (s *Server) handleParseNaturalQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	text, ok := args["query"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return validationResult("query text is required"), nil
	}

	parsed, err := naturalquery.Parse(text, stringArg(args, "language", s.cfg.Language))
	if err != nil {
		return searchErrorResult(err), nil
	}

	q := parsed.Query
	q.ConfidenceThreshold = floatArg(args, "confidence_threshold", s.cfg.Search.DefaultConfidenceThreshold)

	resp := parseResponse{
		Query:      q,
		Confidence: parsed.Confidence,
		Recognized: parsed.Recognized,
		Missing:    parsed.Missing,
	}
	if boolArg(args, "auto_execute", false) && len(parsed.Missing) == 0 {
		result, err := s.orch.Search(ctx, q)
		if err != nil {
			return searchErrorResult(err), nil
		}
		resp.Executed = true
		resp.Result = result
	}
	return newTextResult(jsonText(resp)), nil
}

// run executes a single query and renders the response envelope.
// Domain failures come back as tool results, not protocol errors.
func (s *Server) run(ctx context.Context, q models.SearchQuery) (*mcp.CallToolResult, error) {
	result, err := s.orch.Search(ctx, q)
	if err != nil {
		return searchErrorResult(err), nil
	}
	return newTextResult(jsonText(result)), nil
}

// applyTuning fills the optional knobs shared by the search tools,
// falling back to configured defaults.
func (s *Server) applyTuning(q *models.SearchQuery, args map[string]interface{}) {
	q.Language = stringArg(args, "language", s.cfg.Language)
	q.Fuzzy = boolArg(args, "fuzzy", s.cfg.Search.DefaultFuzzy)
	q.ConfidenceThreshold = floatArg(args, "confidence_threshold", s.cfg.Search.DefaultConfidenceThreshold)
	q.DateToleranceDays = intArg(args, "date_tolerance_days", 0)
}

// queryFromItem builds one bulk slot's query. An explicit "kind" wins;
// otherwise the kind is inferred from which identifying fields are set.
func (s *Server) queryFromItem(item map[string]interface{}) models.SearchQuery {
	q := models.SearchQuery{
		FirstName:      stringArg(item, "first_name", ""),
		MiddleName:     stringArg(item, "middle_name", ""),
		LastName:       stringArg(item, "last_name", ""),
		DateOfBirth:    stringArg(item, "date_of_birth", ""),
		CountryOfBirth: stringArg(item, "country_of_birth", ""),
		AlienNumber:    stringArg(item, "alien_number", ""),
		FacilityName:   stringArg(item, "facility_name", ""),
		City:           stringArg(item, "city", ""),
		State:          stringArg(item, "state", ""),
		ZipCode:        stringArg(item, "zip_code", ""),
		FacilityType:   stringArg(item, "facility_type", ""),
		ActiveOnly:     boolArg(item, "active_only", false),
	}
	s.applyTuning(&q, item)

	switch kind := models.QueryKind(stringArg(item, "kind", "")); kind {
	case models.KindByName, models.KindByAlienNumber, models.KindByFacility:
		q.Kind = kind
	default:
		switch {
		case q.AlienNumber != "":
			q.Kind = models.KindByAlienNumber
		case q.FacilityName != "" || q.ZipCode != "" || (q.City != "" && q.State != ""):
			q.Kind = models.KindByFacility
		default:
			q.Kind = models.KindByName
		}
	}
	return q
}

func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

func stringArg(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolArg(args map[string]interface{}, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func floatArg(args map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

// intArg reads a JSON number, which arrives as float64.
func intArg(args map[string]interface{}, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

func jsonText(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":{"kind":"internal","message":%q}}`, err.Error())
	}
	return string(data)
}

// envelopeFor renders any search failure into the error envelope,
// carrying the correlation handle and redacted query when present.
func envelopeFor(err error) errorEnvelope {
	env := errorEnvelope{Error: errorBody{
		Kind:    string(internalerrors.KindOf(err)),
		Message: err.Error(),
	}}
	var se *internalerrors.SearchError
	if errors.As(err, &se) {
		env.Error.CorrelationID = se.CorrelationID
		env.Error.StatusCode = se.StatusCode
		env.Error.Retryable = se.Retryable
		env.Error.RedactedQuery = se.RedactedQuery
	}
	return env
}

func searchErrorResult(err error) *mcp.CallToolResult {
	return errResult(jsonText(envelopeFor(err)))
}

func validationResult(msg string) *mcp.CallToolResult {
	return errResult(jsonText(errorEnvelope{Error: errorBody{
		Kind:    string(internalerrors.KindValidation),
		Message: msg,
	}}))
}
