// Package config handles TOML-based configuration loading and validation.
// Values are layered: defaults < config file < .env and STREAMGRAB_* environment
// variables. CLI flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"streamgrab/internal/httputil"
	"streamgrab/internal/logging"
	"streamgrab/internal/media"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STREAMGRAB_"

// Duration is a time.Duration written as a string ("10s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all application configuration.
type Config struct {
	Sources []string `toml:"sources"`

	HostMatch         string   `toml:"host_match"`
	ConfirmSelector   string   `toml:"confirm_selector"`
	ConfirmTimeout    Duration `toml:"confirm_timeout"`
	SettleDelay       Duration `toml:"settle_delay"`
	RequireFrame      bool     `toml:"require_frame"`
	NavigationTimeout Duration `toml:"navigation_timeout"`

	CaptureDuration  Duration `toml:"duration"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	QueueSize        int      `toml:"queue_size"`

	OutputDir   string `toml:"output_dir"`
	TempDir     string `toml:"temp_dir"`
	Concurrency int    `toml:"concurrency"`

	Headless    bool   `toml:"headless"`
	BrowserPath string `toml:"browser_path"`
	FFmpeg      string `toml:"ffmpeg"`

	HTTPAddr  string `toml:"http_addr"` // status and metrics server; empty disables it
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`

	Codec media.CodecConfig `toml:"codec"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		HostMatch:         "realtime.ably.io",
		ConfirmSelector:   ".agora_video_player",
		ConfirmTimeout:    Duration{10 * time.Second},
		SettleDelay:       Duration{2 * time.Second},
		NavigationTimeout: Duration{30 * time.Second},
		CaptureDuration:   Duration{10 * time.Second},
		HandshakeTimeout:  Duration{10 * time.Second},
		QueueSize:         64,
		OutputDir:         ".",
		Concurrency:       1,
		Headless:          true,
		FFmpeg:            "ffmpeg",
		LogLevel:          "info",
		LogFormat:         "console",
		Codec:             media.DefaultCodec(),
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "streamgrab"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "streamgrab"), nil
}

// ConfigPath returns the path to the default config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at path and the environment, merged over defaults.
// An empty path means the XDG location, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" by default)
// into the process environment. Missing files are ignored and variables
// already set are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from STREAMGRAB_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"HOST_MATCH":       &c.HostMatch,
		"CONFIRM_SELECTOR": &c.ConfirmSelector,
		"OUTPUT_DIR":       &c.OutputDir,
		"TEMP_DIR":         &c.TempDir,
		"BROWSER_PATH":     &c.BrowserPath,
		"FFMPEG":           &c.FFmpeg,
		"HTTP_ADDR":        &c.HTTPAddr,
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_FORMAT":       &c.LogFormat,
		"LOG_FILE":         &c.LogFile,
	}
	for key, dst := range strs {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"CONFIRM_TIMEOUT":    &c.ConfirmTimeout,
		"SETTLE_DELAY":       &c.SettleDelay,
		"NAVIGATION_TIMEOUT": &c.NavigationTimeout,
		"DURATION":           &c.CaptureDuration,
		"IDLE_TIMEOUT":       &c.IdleTimeout,
		"HANDSHAKE_TIMEOUT":  &c.HandshakeTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookupEnv(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
	}

	ints := map[string]*int{
		"QUEUE_SIZE":  &c.QueueSize,
		"CONCURRENCY": &c.Concurrency,
	}
	for key, dst := range ints {
		if v, ok := lookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"HEADLESS":      &c.Headless,
		"REQUIRE_FRAME": &c.RequireFrame,
	}
	for key, dst := range bools {
		if v, ok := lookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookupEnv("SOURCES"); ok {
		c.Sources = splitList(v)
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var bitrateRe = regexp.MustCompile(`^[0-9]+[kKmM]?$`)

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	for _, src := range c.Sources {
		if err := httputil.ValidateURL(src); err != nil {
			return fmt.Errorf("source %q: %w", src, err)
		}
	}

	if strings.TrimSpace(c.HostMatch) == "" {
		return fmt.Errorf("host_match cannot be empty")
	}
	if strings.TrimSpace(c.ConfirmSelector) == "" {
		return fmt.Errorf("confirm_selector cannot be empty")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"confirm_timeout", c.ConfirmTimeout.Duration},
		{"navigation_timeout", c.NavigationTimeout.Duration},
		{"duration", c.CaptureDuration.Duration},
		{"handshake_timeout", c.HandshakeTimeout.Duration},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.d)
		}
	}
	if c.SettleDelay.Duration < 0 {
		return fmt.Errorf("settle_delay cannot be negative")
	}
	if c.IdleTimeout.Duration < 0 {
		return fmt.Errorf("idle_timeout cannot be negative")
	}

	if c.QueueSize < 1 || c.QueueSize > 4096 {
		return fmt.Errorf("queue_size %d out of range (1-4096)", c.QueueSize)
	}
	if c.Concurrency < 1 || c.Concurrency > 16 {
		return fmt.Errorf("concurrency %d out of range (1-16)", c.Concurrency)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	if c.FFmpeg == "" {
		return fmt.Errorf("ffmpeg cannot be empty")
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log_format %q (valid: console, json)", c.LogFormat)
	}

	return validateCodec(c.Codec)
}

func validateCodec(cc media.CodecConfig) error {
	if cc.VideoCodec == "" || cc.AudioCodec == "" || cc.Preset == "" {
		return fmt.Errorf("codec: video_codec, audio_codec and preset are required")
	}
	if !bitrateRe.MatchString(cc.VideoBitrate) {
		return fmt.Errorf("codec: invalid video_bitrate %q", cc.VideoBitrate)
	}
	if !bitrateRe.MatchString(cc.AudioBitrate) {
		return fmt.Errorf("codec: invalid audio_bitrate %q", cc.AudioBitrate)
	}
	if cc.FrameRate < 1 || cc.FrameRate > 240 {
		return fmt.Errorf("codec: frame_rate %d out of range (1-240)", cc.FrameRate)
	}
	return nil
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Abs(dir)
}
