package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/detloc/detloc/internal/config"
	"github.com/detloc/detloc/internal/history"
	"github.com/detloc/detloc/internal/logging"
)

var (
	historyLimit    int
	historyFailures bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent searches from the audit trail",
	Long:  `Lists recent search outcomes from the history database. Rows carry anonymized fingerprints and diagnostics only; no personal data is stored or shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runHistory(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to list")
	historyCmd.Flags().BoolVar(&historyFailures, "failures", false, "list only failed searches")
}

func runHistory() error {
	// Keep stdout clean for the listing; warnings still reach stderr.
	logging.Init(logging.Config{Format: "console", Level: "warn", Component: "detloc"})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled (set DETLOC_HISTORY_ENABLED=true)")
	}

	store, err := history.NewStore(history.DefaultConfig(cfg.DataDir, cfg.History.RetentionDays))
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	entries, err := store.Recent(historyLimit, historyFailures)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No searches recorded.")
		return nil
	}

	fmt.Printf("%-19s  %-22s  %-9s  %-16s  %3s  %-6s  %-6s  %s\n",
		"TIME", "TOOL", "STATUS", "ERROR", "ATT", "THREAT", "CACHED", "FINGERPRINT")
	for _, e := range entries {
		fingerprint := e.Fingerprint
		if len(fingerprint) > 12 {
			fingerprint = fingerprint[:12]
		}
		cached := ""
		if e.Cached {
			cached = "yes"
		}
		fmt.Printf("%-19s  %-22s  %-9s  %-16s  %3d  %-6s  %-6s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Tool, e.Status, e.ErrorKind, e.Attempts, e.ThreatFinal, cached, fingerprint)
	}

	if total, err := store.Count(); err == nil {
		fmt.Printf("\n%d searches recorded\n", total)
	}
	return nil
}
