// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"streamgrab/internal/config"
	"streamgrab/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagConfig      string
	flagDuration    time.Duration
	flagOutput      string
	flagConcurrency int
	flagHostMatch   string
	flagSelector    string
	flagHTTPAddr    string
	flagTUI         bool
	flagJSON        bool
	flagDebug       bool
)

var (
	// cfg holds the loaded configuration (merged: defaults < file < env < flags).
	cfg *config.Config

	logger  zerolog.Logger
	logFile *os.File
	runID   string
)

var rootCmd = &cobra.Command{
	Use:   "streamgrab [page-url...]",
	Short: "Record live streams delivered over realtime WebSockets",
	Long: `Streamgrab opens each page in a headless browser, finds the realtime
WebSocket the live player listens on, records its media payloads for a fixed
window and transcodes them into recording_<n>.mp4 files with ffmpeg.`,
	Args:               cobra.ArbitraryArgs,
	SilenceUsage:       true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeLog,
	RunE:               recordRun,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run; jobs in
// flight clean up their temporary files before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: $XDG_CONFIG_HOME/streamgrab/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagHostMatch, "host-match", "", "Substring identifying the realtime endpoint URL")
	rootCmd.PersistentFlags().StringVar(&flagSelector, "selector", "", "CSS selector confirming the live player started")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.Flags().DurationVarP(&flagDuration, "duration", "d", 0, "Capture window per stream (e.g. 30s, 5m)")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Directory for recordings")
	rootCmd.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "Streams recorded in parallel, each with its own browser")
	rootCmd.Flags().StringVar(&flagHTTPAddr, "http-addr", "", "Serve job status, recordings and metrics on this address (e.g. :9090)")
	rootCmd.Flags().BoolVar(&flagTUI, "tui", false, "Live progress view (logs go to log_file only)")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration, then builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file and environment values
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.CaptureDuration.Duration = flagDuration
	}
	if flags.Changed("output") {
		cfg.OutputDir = flagOutput
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = flagConcurrency
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = flagHTTPAddr
	}
	if flagHostMatch != "" {
		cfg.HostMatch = flagHostMatch
	}
	if flagSelector != "" {
		cfg.ConfirmSelector = flagSelector
	}
	if flagDebug {
		cfg.LogLevel = "debug"
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return setupLogger()
}

func setupLogger() error {
	var out io.Writer = os.Stderr
	format := cfg.LogFormat

	if cfg.LogFile != "" {
		f, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			return err
		}
		logFile = f
		out = f
		format = "json"
	} else if flagTUI {
		// the live view owns the terminal
		out = io.Discard
	}

	l, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: format, Output: out})
	if err != nil {
		return err
	}

	runID = uuid.NewString()
	logger = l.With().Str(logging.FieldRunID, runID).Logger()
	return nil
}

func closeLog(cmd *cobra.Command, args []string) error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}
