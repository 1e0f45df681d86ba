package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"streamgrab/internal/media"
	"streamgrab/internal/pipeline"
)

type fakeStopper struct {
	stopped []int
	err     error
}

func (s *fakeStopper) Stop(index int) error {
	if s.err != nil {
		return s.err
	}
	s.stopped = append(s.stopped, index)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestBoard(t *testing.T, stopper Stopper) (*Board, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	jobs := media.NewJobs([]string{"https://live.example.com/a", "https://live.example.com/b"})
	b := NewBoard(t.TempDir(), jobs, stopper, zerolog.Nop())
	b.now = clock.Now
	return b, clock
}

func newTestRouter(b *Board) *chi.Mux {
	r := chi.NewRouter()
	b.Register(r)
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBoard_JobElapsedFollowsCaptureWindow(t *testing.T) {
	b, clock := newTestBoard(t, nil)

	job := media.StreamJob{Index: 0, SourceURL: "https://live.example.com/a", Status: media.Capturing,
		Endpoint: "wss://realtime.ably.io/?key=secret"}
	b.Observe(job)

	clock.t = clock.t.Add(4 * time.Second)
	job.Frames, job.BytesWritten = 12, 2048
	b.Observe(job)

	v, ok := b.Job(0)
	if !ok {
		t.Fatal("job 0 missing")
	}
	if !v.IsRecording || v.Elapsed != 4 || v.Bytes != 2048 || v.Frames != 12 {
		t.Errorf("capturing view = %+v", v)
	}
	if v.Endpoint != "wss://realtime.ably.io/?redacted" {
		t.Errorf("endpoint = %q, want the key redacted", v.Endpoint)
	}

	clock.t = clock.t.Add(2 * time.Second)
	job.Status = media.Transcoding
	b.Observe(job)
	clock.t = clock.t.Add(time.Minute)

	v, _ = b.Job(0)
	if v.IsRecording || v.Elapsed != 6 {
		t.Errorf("after capture: recording = %v, elapsed = %v, want false and 6", v.IsRecording, v.Elapsed)
	}
}

func TestHandler_ListJobs(t *testing.T) {
	b, _ := newTestBoard(t, nil)
	b.Observe(media.StreamJob{Index: 1, SourceURL: "https://live.example.com/b", Status: media.Failed,
		Failure: media.Fail(media.ResolutionFailure, pipeline.ErrNotResolved)})

	rec := serve(newTestRouter(b), http.MethodGet, "/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var jobs []JobView
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].Index != 0 || jobs[1].Index != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Status != "pending" || jobs[1].FailureKind != "resolution" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestHandler_GetJob(t *testing.T) {
	b, _ := newTestBoard(t, nil)
	r := newTestRouter(b)

	tests := []struct {
		path string
		want int
	}{
		{"/jobs/0", http.StatusOK},
		{"/jobs/7", http.StatusNotFound},
		{"/jobs/first", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := serve(r, http.MethodGet, tt.path); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHandler_StopJob(t *testing.T) {
	tests := []struct {
		name    string
		stopper *fakeStopper
		path    string
		want    int
	}{
		{"capturing job", &fakeStopper{}, "/jobs/0/stop", http.StatusAccepted},
		{"not capturing", &fakeStopper{err: pipeline.ErrNotCapturing}, "/jobs/0/stop", http.StatusConflict},
		{"unknown job", &fakeStopper{}, "/jobs/9/stop", http.StatusNotFound},
		{"bad index", &fakeStopper{}, "/jobs/x/stop", http.StatusBadRequest},
		{"stop failure", &fakeStopper{err: errors.New("boom")}, "/jobs/1/stop", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBoard(t, tt.stopper)
			rec := serve(newTestRouter(b), http.MethodPost, tt.path)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusAccepted && (len(tt.stopper.stopped) != 1 || tt.stopper.stopped[0] != 0) {
				t.Errorf("stopped = %v, want [0]", tt.stopper.stopped)
			}
		})
	}
}

func TestHandler_StopJobWithoutStopper(t *testing.T) {
	b, _ := newTestBoard(t, nil)
	if rec := serve(newTestRouter(b), http.MethodPost, "/jobs/0/stop"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_ListRecordings(t *testing.T) {
	b, _ := newTestBoard(t, nil)

	files := []struct {
		name string
		data string
		age  time.Duration
	}{
		{"recording_0.mp4", "older", 2 * time.Hour},
		{"recording_1.mp4", "newest recording", time.Minute},
		{".streamgrab.lock", "", 0},
		{"notes.txt", "not a recording", 0},
	}
	for _, f := range files {
		path := filepath.Join(b.outputDir, f.name)
		if err := os.WriteFile(path, []byte(f.data), 0o644); err != nil {
			t.Fatal(err)
		}
		mod := time.Now().Add(-f.age)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	rec := serve(newTestRouter(b), http.MethodGet, "/recordings")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var recs []Recording
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("recordings = %+v, want 2", recs)
	}
	if recs[0].Name != "recording_1.mp4" || recs[0].Size != int64(len("newest recording")) {
		t.Errorf("first recording = %+v, want the newest", recs[0])
	}
	if recs[1].Name != "recording_0.mp4" {
		t.Errorf("second recording = %+v", recs[1])
	}
}

func TestRecordingsMissingDir(t *testing.T) {
	recs, err := Recordings(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(recs) != 0 {
		t.Errorf("Recordings() = %v, %v; want none", recs, err)
	}
}
