package httputil

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid HTTPS", "https://ping.gg/embed/nm7dw2hhi4", false},
		{"HTTP rejected", "http://example.com/path", true},
		{"javascript scheme rejected", "javascript:alert(1)", true},
		{"data scheme rejected", "data:text/html,<h1>Hi</h1>", true},
		{"websocket rejected", "wss://realtime.ably.io/", true},
		{"empty string", "", true},
		{"no host", "https://", true},
		{"valid with port", "https://example.com:8080/path", false},
		{"valid with query", "https://example.com/path?q=test&a=b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSocketURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"wss", "wss://realtime.ably.io/?key=abc&format=json", false},
		{"ws", "ws://127.0.0.1:8080/socket", false},
		{"https rejected", "https://realtime.ably.io/", true},
		{"no host", "wss://", true},
		{"garbage", "::::", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSocketURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSocketURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestOriginOf(t *testing.T) {
	if got := OriginOf("https://ping.gg/embed/nm7dw2hhi4?x=1"); got != "https://ping.gg" {
		t.Errorf("OriginOf() = %q, want https://ping.gg", got)
	}
	if got := OriginOf("not a url"); got != "" {
		t.Errorf("OriginOf(garbage) = %q, want empty", got)
	}
}

func TestRedactQuery(t *testing.T) {
	got := RedactQuery("wss://user:pw@realtime.ably.io/?access_token=secret&v=1.2")
	if strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Errorf("RedactQuery leaked credentials: %q", got)
	}
	if !strings.HasPrefix(got, "wss://realtime.ably.io/") {
		t.Errorf("RedactQuery() = %q, want host preserved", got)
	}
}

func TestHeaders(t *testing.T) {
	h := Headers("https://ping.gg")
	if h.Get("Origin") != "https://ping.gg" {
		t.Errorf("Origin = %q", h.Get("Origin"))
	}
	if h.Get("User-Agent") == "" {
		t.Error("User-Agent should be set")
	}
	if Headers("").Get("Origin") != "" {
		t.Error("empty origin should not set the header")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal filename", "recording_0.mp4", "recording_0.mp4"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"directory components", "/home/user/secret.txt", "secret.txt"},
		{"null bytes", "movie\x00.mp4", "movie.mp4"},
		{"Windows special chars", "movie<>:\"|?*.mp4", "movie_______.mp4"},
		{"double dots", "movie..mp4", "movie_mp4"},
		{"empty string", "", "untitled"},
		{"just dots", "..", "_"},
		{"just dot", ".", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSafeOutputPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		filename string
		wantBase string
	}{
		{"normal", "recording_3.mp4", "recording_3.mp4"},
		{"path traversal attempt", "../../etc/passwd", "passwd"},
		{"shell injection", "$(whoami).mp4", "$(whoami).mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := SafeOutputPath(dir, tt.filename)
			if err != nil {
				t.Fatalf("SafeOutputPath(%q) error = %v", tt.filename, err)
			}
			if filepath.Dir(path) != dir {
				t.Errorf("path %q escaped %q", path, dir)
			}
			if filepath.Base(path) != tt.wantBase {
				t.Errorf("base = %q, want %q", filepath.Base(path), tt.wantBase)
			}
		})
	}
}
