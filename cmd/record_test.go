package cmd

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamgrab/internal/config"
	"streamgrab/internal/media"
	"streamgrab/internal/metrics"
	"streamgrab/internal/pipeline"
	"streamgrab/internal/status"
)

func TestSelectSources(t *testing.T) {
	configured := []string{"https://example.com/from-config"}

	tests := []struct {
		name       string
		args       []string
		configured []string
		want       string
		wantErr    bool
	}{
		{"args win", []string{"https://example.com/arg"}, configured, "https://example.com/arg", false},
		{"falls back to config", nil, configured, "https://example.com/from-config", false},
		{"nothing given", nil, nil, "", true},
		{"plain http rejected", []string{"http://example.com/live"}, nil, "", true},
		{"not a url", []string{"::nope"}, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectSources(tt.args, tt.configured)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectSources() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && strings.Join(got, ",") != tt.want {
				t.Errorf("selectSources() = %v, want %s", got, tt.want)
			}
		})
	}

	if _, err := selectSources(nil, nil); !errors.Is(err, errNoSources) {
		t.Errorf("error = %v, want errNoSources", err)
	}
}

func TestNewPipelineWiring(t *testing.T) {
	c := config.Default()
	c.Concurrency = 3
	c.CaptureDuration = config.Duration{Duration: 42 * time.Second}
	c.SettleDelay = config.Duration{Duration: 750 * time.Millisecond}

	p := newPipeline(c, "/srv/out", "/srv/tmp", nil)
	if p.Concurrency != 3 || p.OutputDir != "/srv/out" || p.TempDir != "/srv/tmp" {
		t.Errorf("pipeline = %+v", p)
	}
	if p.Launch == nil || p.Resolver == nil || p.Capturer == nil || p.Transcoder == nil {
		t.Fatal("pipeline stage not wired")
	}

	r := newResolver(c)
	if r.HostMatch != "realtime.ably.io" || r.SettleDelay != 750*time.Millisecond {
		t.Errorf("resolver = %+v", r)
	}
}

func TestFanOut(t *testing.T) {
	if fanOut(nil) != nil {
		t.Error("fanOut(nil) should be nil")
	}

	var got []string
	o := fanOut([]pipeline.Observer{
		func(j media.StreamJob) { got = append(got, "board:"+j.Status.String()) },
		func(j media.StreamJob) { got = append(got, "live:"+j.Status.String()) },
	})
	o(media.StreamJob{Status: media.Capturing})
	if strings.Join(got, ",") != "board:capturing,live:capturing" {
		t.Errorf("observers saw %v", got)
	}
}

func TestRouterServesStatusAndMetrics(t *testing.T) {
	jobs := media.NewJobs([]string{"https://live.example.com/a"})
	board := status.NewBoard(t.TempDir(), jobs, nil, zerolog.Nop())
	h := newRouter(metrics.New(), board)

	for _, path := range []string{"/healthz", "/metrics", "/jobs", "/jobs/0", "/recordings"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
