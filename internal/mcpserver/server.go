// Package mcpserver exposes the search pipeline as MCP tools over
// stdio or StreamableHTTP. Tool handlers translate argument envelopes
// into typed queries, run them through the orchestrator, and render
// the JSON response envelope the agent consumes.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/detloc/detloc/internal/config"
	"github.com/detloc/detloc/internal/search"
)

const (
	readHeaderTimeout = 15 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownGrace     = 30 * time.Second
)

// Server binds the tool surface to one orchestrator instance.
type Server struct {
	cfg  *config.Config
	orch *search.Orchestrator
	mcp  *server.MCPServer
}

// New registers the five tools on a fresh MCP server.
func New(cfg *config.Config, orch *search.Orchestrator, version string) *Server {
	s := &Server{cfg: cfg, orch: orch}

	m := server.NewMCPServer("detloc", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	m.AddTool(searchByNameTool(), s.handleSearchByName)
	m.AddTool(searchByAlienNumberTool(), s.handleSearchByAlienNumber)
	m.AddTool(searchByFacilityTool(), s.handleSearchByFacility)
	m.AddTool(bulkSearchTool(), s.handleBulkSearch)
	m.AddTool(parseNaturalQueryTool(), s.handleParseNaturalQuery)

	s.mcp = m
	return s
}

// ServeStdio blocks serving the MCP session on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Info().Msg("Serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

// Handler builds the HTTP mux: the MCP transport plus the operational
// endpoints that only exist in HTTP mode.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s.mcp))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// ServeHTTP runs the HTTP transport until the context ends, then
// drains connections within the shutdown grace period.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("Serving MCP over HTTP")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	stats := s.orch.PoolStats()
	body := map[string]any{
		"status": "ok",
		"proxy_pool": map[string]any{
			"enabled":     stats.Enabled,
			"total":       stats.Total,
			"available":   stats.Available,
			"quarantined": stats.Quarantined,
		},
		"cache_entries": s.orch.CacheLen(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
