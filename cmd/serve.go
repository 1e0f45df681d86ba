package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"streamgrab/internal/logging"
	"streamgrab/internal/metrics"
	"streamgrab/internal/status"
)

// newRouter composes the metrics and job status routes.
func newRouter(m *metrics.Metrics, board *status.Board) http.Handler {
	r := chi.NewRouter()
	m.Register(r)
	if board != nil {
		board.Register(r)
	}
	return r
}

// serveHTTP serves h on addr in the background and returns a func that
// shuts the server down.
func serveHTTP(addr string, h http.Handler) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str(logging.FieldEvent, "http.listen").Str("addr", addr).Msg("serving status and metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("http server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown")
		}
	}
}
