// Lister is the orchestration service behind the merchant listing
// assistant.
//
// It fronts an external tool-calling agent: each merchant message goes
// through a daily usage check, the agent turn, and UI card extraction,
// with workflow tracking and conversation memory maintained in the
// background. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	lister serve       Start the API server
//	lister version     Print version and build information
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/merchkit/lister-agent/internal/agent"
	"github.com/merchkit/lister-agent/internal/api"
	"github.com/merchkit/lister-agent/internal/background"
	"github.com/merchkit/lister-agent/internal/buildinfo"
	"github.com/merchkit/lister-agent/internal/config"
	"github.com/merchkit/lister-agent/internal/llm"
	"github.com/merchkit/lister-agent/internal/memory"
	"github.com/merchkit/lister-agent/internal/settings"
	"github.com/merchkit/lister-agent/internal/turn"
	"github.com/merchkit/lister-agent/internal/usage"
	"github.com/merchkit/lister-agent/internal/workflow"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit and os.Args out of the application logic so the lifecycle can
// be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the lister command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which interfere with parallel tests, and the argument surface here is
// tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Lister - Merchant Listing Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: lister [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/lister/config.yaml, /etc/lister/config.yaml")
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Lister",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"agent_url", cfg.Agent.URL,
		"data_dir", cfg.DataDir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Database ---
	// All persistent state (workflows, snapshots, usage, settings)
	// shares a single SQLite database. WAL keeps the background writers
	// from blocking reads on the request path.
	dbPath := cfg.DataDir + "/lister.db"
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()
	logger.Info("database opened", "path", dbPath)

	workflows, err := workflow.NewStore(db)
	if err != nil {
		return fmt.Errorf("workflow store: %w", err)
	}
	snapshots, err := memory.NewSnapshotStore(db)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	usageStore, err := usage.NewStore(db)
	if err != nil {
		return fmt.Errorf("usage store: %w", err)
	}
	settingsStore, err := settings.NewStore(db)
	if err != nil {
		return fmt.Errorf("settings store: %w", err)
	}

	// --- Usage governor ---
	defaults := usage.Limits{
		TextTokens:         cfg.Limits.TextTokens,
		BulkBatches:        cfg.Limits.BulkBatches,
		ImageGeneration:    cfg.Limits.ImageGeneration,
		ScreenshotAnalysis: cfg.Limits.ScreenshotAnalysis,
	}
	governor := usage.NewGovernor(usageStore, settingsStore, defaults, logger)

	// --- Memory compactor ---
	// Snapshot summaries go through a plain text-generation call. When
	// no LLM endpoint is configured the compactor falls back to its
	// deterministic first/last-message summaries.
	var summarizer memory.Summarizer
	if cfg.LLM.BaseURL != "" {
		llmClient := llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model)
		summarizer = memory.NewLLMSummarizer(llmClient.Generate)
		logger.Info("summarizer configured", "url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)
	} else {
		logger.Warn("no LLM endpoint configured, snapshot summaries will be extractive")
	}
	compactor := memory.NewCompactor(snapshots, summarizer, logger)

	// --- Background runner ---
	runner := background.NewRunner(4, 64, logger)
	defer runner.Close()

	// --- Agent client and turn handler ---
	agentClient := agent.NewClient(cfg.Agent.URL, time.Duration(cfg.Agent.Timeout)*time.Second)
	turns := turn.NewHandler(agentClient, governor, compactor, workflows, runner,
		cfg.Memory.RecentMessages, logger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, turns, workflows,
		governor, compactor, cfg.Memory.RecentMessages, logger)

	// --- Nightly usage report ---
	// Logs the prior day's per-merchant totals just after the UTC
	// rollover, which is when the daily limits reset.
	reporter := cron.New(cron.WithLocation(time.UTC))
	_, err = reporter.AddFunc("5 0 * * *", func() {
		logDailyUsage(context.Background(), usageStore, logger)
	})
	if err != nil {
		return fmt.Errorf("schedule usage report: %w", err)
	}
	reporter.Start()
	defer reporter.Stop()

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Lister stopped")
	return nil
}

// logDailyUsage writes one summary line per merchant for yesterday's
// consumption.
func logDailyUsage(ctx context.Context, store *usage.Store, logger *slog.Logger) {
	date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	merchants, err := store.MerchantsForDate(ctx, date)
	if err != nil {
		logger.Error("usage report failed", "date", date, "error", err)
		return
	}

	for _, merchantID := range merchants {
		stats, err := store.ForDate(ctx, merchantID, date)
		if err != nil {
			logger.Error("usage report failed", "date", date, "merchant", merchantID, "error", err)
			continue
		}
		for _, op := range usage.Operations {
			totals, ok := stats[op]
			if !ok {
				continue
			}
			logger.Info("daily usage",
				"date", date,
				"merchant", merchantID,
				"operation", op,
				"count", totals.Count,
				"tokens", totals.TokensUsed,
				"cost_estimate", totals.CostEstimate,
			)
		}
	}
	logger.Info("daily usage report complete", "date", date, "merchants", len(merchants))
}

// newLogger creates a structured text logger writing to w. All log
// output goes through slog; this standardizes handler configuration
// across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
