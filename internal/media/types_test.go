package media

import (
	"errors"
	"testing"
)

func TestJobStatusString(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   string
	}{
		{Pending, "pending"},
		{Resolving, "resolving"},
		{Capturing, "capturing"},
		{Transcoding, "transcoding"},
		{Done, "done"},
		{Failed, "failed"},
		{JobStatus(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("JobStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !Done.Terminal() || !Failed.Terminal() {
		t.Error("Done and Failed should be terminal")
	}
	if Capturing.Terminal() {
		t.Error("Capturing should not be terminal")
	}
}

func TestNewJobs(t *testing.T) {
	jobs := NewJobs([]string{"https://a.example/1", "https://b.example/2"})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	for i, j := range jobs {
		if j.Index != i {
			t.Errorf("job %d has index %d", i, j.Index)
		}
		if j.Status != Pending {
			t.Errorf("job %d status = %s, want pending", i, j.Status)
		}
	}
}

func TestFailureUnwrap(t *testing.T) {
	cause := errors.New("dial refused")
	err := error(Fail(ConnectionFailure, cause))

	if !errors.Is(err, cause) {
		t.Error("Failure should unwrap to its cause")
	}

	var f *Failure
	if !errors.As(err, &f) || f.Kind != ConnectionFailure {
		t.Errorf("errors.As failed or wrong kind: %v", err)
	}
	if got := err.Error(); got != "connection: dial refused" {
		t.Errorf("Error() = %q", got)
	}
}
