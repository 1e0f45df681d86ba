// Package pipeline runs stream jobs through resolve, capture and transcode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streamgrab/internal/browser"
	"streamgrab/internal/capture"
	"streamgrab/internal/httputil"
	"streamgrab/internal/logging"
	"streamgrab/internal/media"
	"streamgrab/internal/metrics"
	"streamgrab/internal/resolve"
)

var (
	// ErrNotResolved is the failure cause when a page exposed no usable endpoint.
	ErrNotResolved = errors.New("no realtime endpoint found")

	// ErrNotCapturing is returned by Stop for a job that is not in its capture window.
	ErrNotCapturing = errors.New("job is not capturing")
)

// EndpointResolver finds the realtime endpoint behind a page.
type EndpointResolver interface {
	Resolve(ctx context.Context, session browser.Session, pageURL string) (resolve.Resolution, bool, error)
}

// StreamCapturer records an endpoint into a sink file.
type StreamCapturer interface {
	CaptureToFile(ctx context.Context, req capture.Request) (string, capture.Result, error)
}

// Transcoder converts a sink into a playable artifact and removes the sink.
type Transcoder interface {
	Transcode(ctx context.Context, sinkPath, outputPath string) (media.RecordingArtifact, error)
}

// Observer receives a copy of a job after every change: status transitions
// and capture progress. It may be called from several workers at once.
type Observer func(media.StreamJob)

// Report is the outcome of a run.
type Report struct {
	Total     int
	Succeeded []int // indexes of jobs that produced an artifact
	Jobs      []media.StreamJob
	Elapsed   time.Duration
}

// Pipeline sequences jobs through the three stages.
type Pipeline struct {
	Launch      browser.Launcher
	Resolver    EndpointResolver
	Capturer    StreamCapturer
	Transcoder  Transcoder
	OutputDir   string
	TempDir     string // empty uses the OS temp dir
	Concurrency int    // workers, each with its own browser session; <1 means 1
	Observer    Observer
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	mu    sync.Mutex
	stops map[int]context.CancelCauseFunc // capture windows in flight, by job index
}

// Stop ends the capture window of the job at index early. What was captured
// so far is transcoded as usual. Returns ErrNotCapturing when that job is not
// currently capturing.
func (p *Pipeline) Stop(index int) error {
	p.mu.Lock()
	stop, ok := p.stops[index]
	p.mu.Unlock()
	if !ok {
		return ErrNotCapturing
	}
	stop(capture.ErrStopped)
	return nil
}

func (p *Pipeline) track(index int, stop context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stops == nil {
		p.stops = make(map[int]context.CancelCauseFunc)
	}
	p.stops[index] = stop
}

func (p *Pipeline) untrack(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stops, index)
}

// Run processes every job and returns the report. One failing job never
// stops the others. A browser that cannot be launched aborts the run; a
// cancelled ctx marks unfinished jobs Cancelled and is returned alongside the report.
func (p *Pipeline) Run(ctx context.Context, jobs []*media.StreamJob) (Report, error) {
	start := time.Now()
	if len(jobs) == 0 {
		return Report{}, nil
	}

	workers := p.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	sessions := make([]browser.Session, 0, workers)
	defer func() {
		for _, s := range sessions {
			if err := s.Close(); err != nil {
				p.Logger.Warn().Err(err).Msg("failed to close browser session")
			}
		}
	}()
	for i := 0; i < workers; i++ {
		s, err := p.Launch(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("launching browser session: %w", err)
		}
		sessions = append(sessions, s)
	}

	p.Logger.Info().
		Str(logging.FieldEvent, "run.started").
		Int("jobs", len(jobs)).
		Int("workers", workers).
		Msg("starting run")

	queue := make(chan *media.StreamJob)
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(session browser.Session) {
			defer wg.Done()
			for job := range queue {
				p.runJob(ctx, session, job)
			}
		}(s)
	}

feed:
	for _, job := range jobs {
		select {
		case queue <- job:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	for _, job := range jobs {
		if !job.Status.Terminal() {
			p.fail(p.Logger, job, media.Fail(media.Cancelled, context.Cause(ctx)))
		}
	}

	report := buildReport(jobs)
	report.Elapsed = time.Since(start)

	p.Logger.Info().
		Str(logging.FieldEvent, "run.finished").
		Int("total", report.Total).
		Int("succeeded", len(report.Succeeded)).
		Dur("elapsed", report.Elapsed).
		Msg("run finished")

	return report, ctx.Err()
}

func (p *Pipeline) runJob(ctx context.Context, session browser.Session, job *media.StreamJob) {
	job.SessionID = uuid.NewString()
	logger := p.Logger.With().
		Int(logging.FieldJob, job.Index).
		Str(logging.FieldSessionID, job.SessionID).
		Logger()

	if err := ctx.Err(); err != nil {
		p.fail(logger, job, media.Fail(media.Cancelled, err))
		return
	}

	p.transition(job, media.Resolving)
	res, ok, err := p.Resolver.Resolve(ctx, session, job.SourceURL)
	if err != nil {
		p.fail(logger, job, classify(ctx, media.ResolutionFailure, err))
		return
	}
	if !ok {
		p.fail(logger, job, media.Fail(media.ResolutionFailure, ErrNotResolved))
		return
	}
	job.Endpoint = res.Endpoint
	job.Title = res.Title

	output, err := httputil.SafeOutputPath(p.OutputDir, fmt.Sprintf("recording_%d.mp4", job.Index))
	if err != nil {
		p.fail(logger, job, media.Fail(media.SinkFailure, err))
		return
	}

	p.transition(job, media.Capturing)
	sink, result, err := p.capture(ctx, job)
	job.Frames = result.Frames
	job.BytesWritten = result.Bytes
	if err != nil {
		kind := media.ConnectionFailure
		switch {
		case errors.Is(err, capture.ErrEmptyCapture):
			kind = media.EmptyCapture
		case errors.Is(err, capture.ErrSink):
			kind = media.SinkFailure
		}
		p.fail(logger, job, classify(ctx, kind, err))
		return
	}

	p.transition(job, media.Transcoding)
	artifact, err := p.Transcoder.Transcode(ctx, sink, output)
	if err != nil {
		p.fail(logger, job, classify(ctx, media.TranscodeFailure, err))
		return
	}

	job.Output = artifact.Path
	p.transition(job, media.Done)
	p.Metrics.IncJobs("done")

	logger.Info().
		Str(logging.FieldEvent, "job.done").
		Str("output", artifact.Path).
		Int64("size", artifact.Size).
		Msg("recording saved")
}

// capture runs the capture window for job under a context that Stop can end.
func (p *Pipeline) capture(ctx context.Context, job *media.StreamJob) (string, capture.Result, error) {
	capCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	p.track(job.Index, stop)
	defer p.untrack(job.Index)

	return p.Capturer.CaptureToFile(capCtx, capture.Request{
		Endpoint: job.Endpoint,
		Origin:   httputil.OriginOf(job.SourceURL),
		Dir:      p.TempDir,
		Prefix:   fmt.Sprintf("stream_%d", job.Index),
		Progress: func(r capture.Result) {
			job.Frames = r.Frames
			job.BytesWritten = r.Bytes
			p.notify(job)
		},
	})
}

// classify tags err with kind, or Cancelled when the run itself was cancelled.
func classify(ctx context.Context, kind media.FailureKind, err error) *media.Failure {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return media.Fail(media.Cancelled, err)
	}
	return media.Fail(kind, err)
}

func (p *Pipeline) transition(job *media.StreamJob, status media.JobStatus) {
	job.Status = status
	p.notify(job)
}

func (p *Pipeline) notify(job *media.StreamJob) {
	if p.Observer != nil {
		p.Observer(*job)
	}
}

func (p *Pipeline) fail(logger zerolog.Logger, job *media.StreamJob, f *media.Failure) {
	job.Failure = f
	p.transition(job, media.Failed)
	p.Metrics.IncJobs(f.Kind.String())

	logger.Error().
		Err(f.Err).
		Str(logging.FieldEvent, "job.failed").
		Str("kind", f.Kind.String()).
		Str("source", job.SourceURL).
		Msg("job failed")
}

func buildReport(jobs []*media.StreamJob) Report {
	r := Report{Total: len(jobs), Succeeded: []int{}}
	for _, job := range jobs {
		r.Jobs = append(r.Jobs, *job)
		if job.Status == media.Done && job.Output != "" {
			r.Succeeded = append(r.Succeeded, job.Index)
		}
	}
	sort.Slice(r.Jobs, func(i, j int) bool { return r.Jobs[i].Index < r.Jobs[j].Index })
	sort.Ints(r.Succeeded)
	return r
}
