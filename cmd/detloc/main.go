package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/detloc/detloc/internal/config"
	"github.com/detloc/detloc/internal/history"
	"github.com/detloc/detloc/internal/logging"
	"github.com/detloc/detloc/internal/mcpserver"
	"github.com/detloc/detloc/internal/search"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	flagHTTP     bool
	flagHTTPAddr string
)

var rootCmd = &cobra.Command{
	Use:     "detloc",
	Short:   "detloc - detainee locator search server",
	Long:    `detloc exposes the ICE detainee locator as MCP search tools, with proxy rotation, request pacing, and anti-detection handled behind the tool surface`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.Flags().BoolVar(&flagHTTP, "http", false, "serve MCP over HTTP instead of stdio")
	rootCmd.Flags().StringVar(&flagHTTPAddr, "http-addr", "", "HTTP listen address (defaults to DETLOC_HTTP_ADDR)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(historyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("detloc %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup; reconfigured after config load.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "detloc",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.Log.Format,
		Level:     cfg.Log.Level,
		Component: "detloc",
		FilePath:  cfg.Log.File,
	})
	defer logging.Shutdown()

	// Stdio mode reserves stdout for the protocol stream; all logging
	// goes to stderr or the log file.
	if !flagHTTP && term.IsTerminal(int(os.Stdin.Fd())) {
		log.Warn().Msg("stdin is a terminal; stdio mode expects an MCP client on the other end (use --http for the HTTP transport)")
	}

	var audit *history.Store
	if cfg.History.Enabled {
		store, err := history.NewStore(history.DefaultConfig(cfg.DataDir, cfg.History.RetentionDays))
		if err != nil {
			log.Warn().Err(err).Msg("History store unavailable, continuing without audit trail")
		} else {
			audit = store
			defer audit.Close()
		}
	}

	orch, err := search.New(cfg, audit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize search pipeline")
	}
	defer orch.Close()

	srv := mcpserver.New(cfg, orch, Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := config.NewWatcher(cfg)
	watcher.OnChange(func(r config.Reloadable) {
		orch.Reconfigure(cfg)
		logging.SetLevel(r.LogLevel)
	})
	watcher.Start()
	defer watcher.Stop()

	go maintenanceLoop(ctx, orch)

	errCh := make(chan error, 1)
	if flagHTTP {
		addr := flagHTTPAddr
		if addr == "" {
			addr = cfg.HTTPAddr
		}
		go func() { errCh <- srv.ServeHTTP(ctx, addr) }()
	} else {
		go func() { errCh <- srv.ServeStdio() }()
	}

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	var transportErr error
	transportDone := false

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration...")
			watcher.Reload()

		case <-sigChan:
			log.Info().Msg("Shutting down...")
			goto shutdown

		case transportErr = <-errCh:
			transportDone = true
			goto shutdown
		}
	}

shutdown:
	cancel()
	if flagHTTP && !transportDone {
		// ServeHTTP returns once in-flight requests drain.
		transportErr = <-errCh
	}
	if transportErr != nil {
		log.Error().Err(transportErr).Msg("Transport terminated with error")
	}
	log.Info().Msg("Server stopped")
}

// maintenanceLoop evicts expired result cache entries in the background.
func maintenanceLoop(ctx context.Context, orch *search.Orchestrator) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orch.PruneCache(); n > 0 {
				log.Debug().Int("entries", n).Msg("Pruned expired cache entries")
			}
		}
	}
}
