// Package status tracks the jobs of a running capture and serves them, along
// with the finished recordings in the output directory, over HTTP.
package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"streamgrab/internal/httputil"
	"streamgrab/internal/logging"
	"streamgrab/internal/media"
	"streamgrab/internal/pipeline"
)

// RecordingPattern matches the artifacts a run writes into the output directory.
const RecordingPattern = "recording_*.mp4"

// Stopper ends a job's capture window early.
type Stopper interface {
	Stop(index int) error
}

// Board holds the latest snapshot of every job in a run.
type Board struct {
	outputDir string
	stopper   Stopper
	log       zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	jobs map[int]*entry
}

type entry struct {
	job          media.StreamJob
	captureStart time.Time
	captureEnd   time.Time
}

// NewBoard returns a Board seeded with jobs. stopper may be nil, in which case
// stop requests are refused.
func NewBoard(outputDir string, jobs []*media.StreamJob, stopper Stopper, log zerolog.Logger) *Board {
	b := &Board{
		outputDir: outputDir,
		stopper:   stopper,
		log:       log,
		now:       time.Now,
		jobs:      make(map[int]*entry, len(jobs)),
	}
	for _, j := range jobs {
		b.jobs[j.Index] = &entry{job: *j}
	}
	return b
}

// Observe records a job snapshot. It has the pipeline.Observer signature.
func (b *Board) Observe(job media.StreamJob) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[job.Index]
	if !ok {
		e = &entry{}
		b.jobs[job.Index] = e
	}
	now := b.now()
	switch {
	case job.Status == media.Capturing && e.captureStart.IsZero():
		e.captureStart = now
	case job.Status != media.Capturing && e.job.Status == media.Capturing:
		e.captureEnd = now
	}
	e.job = job
}

// JobView is the JSON form of a job.
type JobView struct {
	Index       int     `json:"index"`
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Status      string  `json:"status"`
	IsRecording bool    `json:"is_recording"`
	Elapsed     float64 `json:"elapsed_seconds"`
	Frames      int     `json:"frames"`
	Bytes       int64   `json:"bytes"`
	Size        string  `json:"size"`
	Output      string  `json:"output,omitempty"`
	Failure     string  `json:"failure,omitempty"`
	FailureKind string  `json:"failure_kind,omitempty"`
}

func (b *Board) view(e *entry) JobView {
	j := e.job
	v := JobView{
		Index:       j.Index,
		URL:         j.SourceURL,
		Title:       j.Title,
		Endpoint:    httputil.RedactQuery(j.Endpoint),
		Status:      j.Status.String(),
		IsRecording: j.Status == media.Capturing,
		Frames:      j.Frames,
		Bytes:       j.BytesWritten,
		Size:        humanize.Bytes(uint64(j.BytesWritten)),
		Output:      j.Output,
	}
	if !e.captureStart.IsZero() {
		end := e.captureEnd
		if end.IsZero() {
			end = b.now()
		}
		v.Elapsed = end.Sub(e.captureStart).Seconds()
	}
	if j.Failure != nil {
		v.Failure = j.Failure.Error()
		v.FailureKind = j.Failure.Kind.String()
	}
	return v
}

// Jobs returns every job ordered by index.
func (b *Board) Jobs() []JobView {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]JobView, 0, len(b.jobs))
	for _, e := range b.jobs {
		out = append(out, b.view(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Job returns the job at index.
func (b *Board) Job(index int) (JobView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[index]
	if !ok {
		return JobView{}, false
	}
	return b.view(e), true
}

// Recording is a finished artifact in the output directory.
type Recording struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	CreatedAt time.Time `json:"created_at"`
}

// Recordings lists the artifacts in dir, newest first. A missing dir has none.
func Recordings(dir string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Recording{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := []Recording{}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(RecordingPattern, de.Name()); !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // removed while listing
		}
		out = append(out, Recording{
			Name:      de.Name(),
			Size:      info.Size(),
			SizeHuman: humanize.Bytes(uint64(info.Size())),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Register mounts the board's routes on r.
func (b *Board) Register(r chi.Router) {
	r.Get("/jobs", b.ListJobs)
	r.Get("/jobs/{index}", b.GetJob)
	r.Post("/jobs/{index}/stop", b.StopJob)
	r.Get("/recordings", b.ListRecordings)
}

// ListJobs handles GET /jobs.
func (b *Board) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.Jobs())
}

// GetJob handles GET /jobs/{index}.
func (b *Board) GetJob(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	v, ok := b.Job(index)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// StopJob handles POST /jobs/{index}/stop. The capture window ends and the
// bytes captured so far go on to be transcoded.
func (b *Board) StopJob(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	v, ok := b.Job(index)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if b.stopper == nil {
		w.WriteHeader(http.StatusConflict)
		return
	}

	if err := b.stopper.Stop(index); err != nil {
		if errors.Is(err, pipeline.ErrNotCapturing) {
			b.log.Info().Int(logging.FieldJob, index).Str("status", v.Status).Msg("stop rejected, job not capturing")
			w.WriteHeader(http.StatusConflict)
			return
		}
		b.log.Error().Err(err).Int(logging.FieldJob, index).Msg("stop failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	b.log.Info().
		Str(logging.FieldEvent, "job.stop_requested").
		Int(logging.FieldJob, index).
		Float64("elapsed_seconds", v.Elapsed).
		Int64("bytes", v.Bytes).
		Msg("capture stop requested")
	writeJSON(w, http.StatusAccepted, v)
}

// ListRecordings handles GET /recordings.
func (b *Board) ListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := Recordings(b.outputDir)
	if err != nil {
		b.log.Error().Err(err).Str("dir", b.outputDir).Msg("list recordings failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
