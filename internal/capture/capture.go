// Package capture records the media payloads carried by a realtime endpoint
// into a raw sink. Frames are consumed one at a time and every decoded payload
// is appended immediately, so sink order always matches arrival order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"streamgrab/internal/httputil"
	"streamgrab/internal/logging"
	"streamgrab/internal/metrics"
	"streamgrab/internal/wire"
	"streamgrab/internal/wsconn"
)

var (
	// ErrEmptyCapture means the window ended without a single decoded byte.
	ErrEmptyCapture = errors.New("no payload bytes captured")

	// ErrConnection means the endpoint could not be dialed.
	ErrConnection = errors.New("endpoint connection failed")

	// ErrSink means the sink file could not be created or written.
	ErrSink = errors.New("sink write failed")

	// ErrStopped is the cancel cause that ends a capture early on request.
	// The bytes captured so far are kept.
	ErrStopped = errors.New("capture stopped on request")

	errIdle = errors.New("no frame within idle timeout")
)

// Why a capture loop stopped.
const (
	EndDuration = "duration"
	EndClosed   = "closed"
	EndError    = "error"
	EndIdle     = "idle"
	EndStopped  = "stopped"
)

const (
	// debugFrames is how many leading frames are logged verbatim at debug level.
	debugFrames = 3

	progressInterval = 500 * time.Millisecond
)

// Dialer opens direct endpoint connections. origin is sent as the handshake
// Origin header when non-empty.
type Dialer interface {
	Dial(ctx context.Context, url, origin string) (wsconn.Conn, error)
}

// Request describes one capture.
type Request struct {
	Endpoint string
	Origin   string // origin of the page that embedded the endpoint
	Dir      string // sink directory for CaptureToFile; empty uses the OS temp dir
	Prefix   string // sink file name prefix for CaptureToFile

	// Progress, when set, receives running totals at most every half second
	// while payloads are being written. It runs on the capturing goroutine.
	Progress func(Result)
}

// Result summarises one capture loop.
type Result struct {
	Frames       int           // frames received
	Chunks       int           // payload entries decoded and written
	Bytes        int64         // bytes written to the sink
	DecodeErrors int           // frames or entries skipped
	Elapsed      time.Duration // loop wall time
	End          string        // why the loop stopped
}

// Capturer runs duration-bounded capture loops.
type Capturer struct {
	Dialer      Dialer
	Duration    time.Duration
	IdleTimeout time.Duration // 0 waits for frames indefinitely
	Now         func() time.Time
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func (c *Capturer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Capture dials req.Endpoint and appends decoded payloads to sink until the
// duration window elapses or the connection ends. The window is checked once
// per received frame; a frame that arrives after the window is dropped.
// Cancelling ctx with ErrStopped as the cause ends the window early without
// an error. Returns ErrEmptyCapture when nothing was written.
func (c *Capturer) Capture(ctx context.Context, req Request, sink io.Writer) (Result, error) {
	logger := c.Logger.With().Str("endpoint", httputil.RedactQuery(req.Endpoint)).Logger()

	conn, err := c.Dialer.Dial(ctx, req.Endpoint, req.Origin)
	if err != nil {
		if stopped(ctx) {
			return Result{End: EndStopped}, ErrEmptyCapture
		}
		return Result{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer conn.Close()

	defer c.Metrics.CaptureStarted()()

	logger.Info().
		Str(logging.FieldEvent, "capture.started").
		Dur("duration", c.Duration).
		Msg("connected to endpoint")

	var res Result
	start := c.now()
	lastProgress := start

loop:
	for c.now().Sub(start) < c.Duration {
		ev := c.recv(ctx, conn)

		switch ev.Kind {
		case wsconn.Closed:
			logger.Info().Str(logging.FieldEvent, "capture.closed").Int("code", ev.Code).Msg("endpoint closed the connection")
			res.End = EndClosed
			break loop
		case wsconn.Error:
			if stopped(ctx) {
				logger.Info().Str(logging.FieldEvent, "capture.stopped").Msg("capture stopped on request")
				res.End = EndStopped
				break loop
			}
			if ctx.Err() != nil {
				res.Elapsed = c.now().Sub(start)
				return res, ctx.Err()
			}
			if errors.Is(ev.Err, errIdle) {
				logger.Warn().Str(logging.FieldEvent, "capture.idle").Dur("idle_timeout", c.IdleTimeout).Msg("endpoint went quiet")
				res.End = EndIdle
				break loop
			}
			logger.Warn().Err(ev.Err).Str(logging.FieldEvent, "capture.read_failed").Msg("connection failed")
			res.End = EndError
			break loop
		}

		res.Frames++
		c.Metrics.IncFrames()

		if c.now().Sub(start) >= c.Duration {
			res.End = EndDuration
			break
		}

		if res.Frames <= debugFrames {
			logger.Debug().Int("frame", res.Frames).Str("preview", preview(ev.Data)).Msg("frame received")
		}

		if err := c.appendFrame(ev.Data, sink, &res, logger); err != nil {
			res.Elapsed = c.now().Sub(start)
			return res, err
		}

		if now := c.now(); req.Progress != nil && now.Sub(lastProgress) >= progressInterval {
			lastProgress = now
			res.Elapsed = now.Sub(start)
			req.Progress(res)
		}
	}

	if res.End == "" {
		res.End = EndDuration
	}
	res.Elapsed = c.now().Sub(start)

	logger.Info().
		Str(logging.FieldEvent, "capture.finished").
		Int("frames", res.Frames).
		Int("chunks", res.Chunks).
		Int64("bytes", res.Bytes).
		Int("decode_errors", res.DecodeErrors).
		Str("end", res.End).
		Msg("capture finished")

	if res.Bytes == 0 {
		return res, ErrEmptyCapture
	}
	return res, nil
}

func stopped(ctx context.Context) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrStopped)
}

// recv waits for the next event, bounded by the idle timeout when one is set.
func (c *Capturer) recv(ctx context.Context, conn wsconn.Conn) wsconn.Event {
	if c.IdleTimeout <= 0 {
		return conn.Recv(ctx)
	}
	idleCtx, cancel := context.WithTimeoutCause(ctx, c.IdleTimeout, errIdle)
	defer cancel()
	ev := conn.Recv(idleCtx)
	if ev.Kind == wsconn.Error && ctx.Err() == nil && errors.Is(context.Cause(idleCtx), errIdle) {
		ev.Err = errIdle
	}
	return ev
}

// appendFrame decodes every payload in a frame and writes each one as soon as
// it decodes. Bad frames and bad entries are skipped; only sink errors stop the loop.
func (c *Capturer) appendFrame(frame []byte, sink io.Writer, res *Result, logger zerolog.Logger) error {
	env, err := wire.ParseEnvelope(frame)
	if err != nil {
		res.DecodeErrors++
		c.Metrics.IncDecodeErrors(metrics.ReasonEnvelope)
		logger.Debug().Err(err).Int("frame", res.Frames).Msg("skipping frame")
		return nil
	}

	for _, entry := range env.Payloads() {
		data, err := wire.DecodeEntry(entry)
		if err != nil {
			res.DecodeErrors++
			c.Metrics.IncDecodeErrors(metrics.ReasonPayload)
			logger.Warn().Err(err).Int("frame", res.Frames).Msg("failed to decode data")
			continue
		}
		if _, err := sink.Write(data); err != nil {
			return fmt.Errorf("%w: %w", ErrSink, err)
		}
		res.Chunks++
		res.Bytes += int64(len(data))
		c.Metrics.AddChunk(len(data))
		if res.Chunks%10 == 0 {
			logger.Debug().Int("chunks", res.Chunks).Int64("bytes", res.Bytes).Msg("processed data chunks")
		}
	}
	return nil
}

// CaptureToFile runs Capture into a new sink file in req.Dir and returns its path.
// The sink is removed on every failure path, including cancellation.
func (c *Capturer) CaptureToFile(ctx context.Context, req Request) (string, Result, error) {
	f, err := os.CreateTemp(req.Dir, httputil.SanitizeFilename(req.Prefix)+"-*.raw")
	if err != nil {
		return "", Result{}, fmt.Errorf("%w: creating sink: %w", ErrSink, err)
	}
	path := f.Name()

	res, err := c.Capture(ctx, req, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: closing sink: %w", ErrSink, closeErr)
	}
	if err != nil {
		c.removeSink(path)
		return "", res, err
	}
	return path, res, nil
}

func (c *Capturer) removeSink(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.Metrics.IncCleanupErrors()
		c.Logger.Warn().Err(err).Str("sink", path).Msg("failed to remove sink")
	}
}

func preview(b []byte) string {
	const max = 100
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
