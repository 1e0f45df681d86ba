package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"streamgrab/internal/browser"
	"streamgrab/internal/capture"
	"streamgrab/internal/config"
	"streamgrab/internal/httputil"
	"streamgrab/internal/lock"
	"streamgrab/internal/media"
	"streamgrab/internal/metrics"
	"streamgrab/internal/pipeline"
	"streamgrab/internal/resolve"
	"streamgrab/internal/status"
	"streamgrab/internal/transcode"
	"streamgrab/internal/ui"
	"streamgrab/internal/wsconn"
)

// errNoSources is returned when neither arguments nor config name a page.
var errNoSources = errors.New("no source pages given (pass URLs or set sources in the config file)")

func recordRun(cmd *cobra.Command, args []string) error {
	sources, err := selectSources(args, cfg.Sources)
	if err != nil {
		return err
	}

	if _, err := exec.LookPath(cfg.FFmpeg); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	outDir, err := config.ExpandPath(cfg.OutputDir)
	if err != nil {
		return err
	}
	dirLock, err := lock.Acquire(outDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := dirLock.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to release output lock")
		}
	}()

	tempDir := ""
	if cfg.TempDir != "" {
		if tempDir, err = config.ExpandPath(cfg.TempDir); err != nil {
			return err
		}
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return fmt.Errorf("creating temp dir: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m := metrics.New()
	p := newPipeline(cfg, outDir, tempDir, m)
	jobs := media.NewJobs(sources)

	var observers []pipeline.Observer
	if cfg.HTTPAddr != "" {
		board := status.NewBoard(outDir, jobs, p, logger)
		observers = append(observers, board.Observe)
		stop := serveHTTP(cfg.HTTPAddr, newRouter(m, board))
		defer stop()
	}

	var live *ui.Live
	if flagTUI && !flagJSON && ui.IsTerminal(os.Stdout) {
		live = ui.NewLive(jobs, os.Stdout, cancel)
		observers = append(observers, live.Observe)
		live.Start()
	}
	p.Observer = fanOut(observers)

	report, runErr := p.Run(ctx, jobs)
	if live != nil {
		live.Stop()
	}
	if runErr != nil && report.Total == 0 {
		return runErr
	}

	if flagJSON {
		if err := ui.WriteJSON(cmd.OutOrStdout(), runID, report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderSummary(report))
	}

	if runErr != nil {
		return runErr
	}
	if failed := report.Total - len(report.Succeeded); failed > 0 {
		return fmt.Errorf("%d of %d streams failed", failed, report.Total)
	}
	return nil
}

// fanOut combines observers; nil when there are none.
func fanOut(observers []pipeline.Observer) pipeline.Observer {
	switch len(observers) {
	case 0:
		return nil
	case 1:
		return observers[0]
	}
	return func(job media.StreamJob) {
		for _, o := range observers {
			o(job)
		}
	}
}

// selectSources prefers explicit arguments over configured sources and
// rejects anything that is not an https page URL.
func selectSources(args, configured []string) ([]string, error) {
	sources := args
	if len(sources) == 0 {
		sources = configured
	}
	if len(sources) == 0 {
		return nil, errNoSources
	}
	for _, src := range sources {
		if err := httputil.ValidateURL(src); err != nil {
			return nil, fmt.Errorf("source %q: %w", src, err)
		}
	}
	return sources, nil
}

func newLauncher(c *config.Config) browser.Launcher {
	return browser.NewLauncher(browser.ChromeOptions{
		Headless:  c.Headless,
		ExecPath:  c.BrowserPath,
		UserAgent: httputil.UserAgent,
	})
}

func newResolver(c *config.Config) *resolve.Resolver {
	return &resolve.Resolver{
		HostMatch:         c.HostMatch,
		ConfirmSelector:   c.ConfirmSelector,
		ConfirmTimeout:    c.ConfirmTimeout.Duration,
		SettleDelay:       c.SettleDelay.Duration,
		RequireFrame:      c.RequireFrame,
		NavigationTimeout: c.NavigationTimeout.Duration,
		Logger:            logger,
	}
}

func newPipeline(c *config.Config, outDir, tempDir string, m *metrics.Metrics) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Launch:   newLauncher(c),
		Resolver: newResolver(c),
		Capturer: &capture.Capturer{
			Dialer: &wsconn.Dialer{
				HandshakeTimeout: c.HandshakeTimeout.Duration,
				QueueSize:        c.QueueSize,
			},
			Duration:    c.CaptureDuration.Duration,
			IdleTimeout: c.IdleTimeout.Duration,
			Logger:      logger,
			Metrics:     m,
		},
		Transcoder: &transcode.Transcoder{
			Binary:  c.FFmpeg,
			Codec:   c.Codec,
			Logger:  logger,
			Metrics: m,
		},
		OutputDir:   outDir,
		TempDir:     tempDir,
		Concurrency: c.Concurrency,
		Logger:      logger,
		Metrics:     m,
	}
}
