// Package transcode converts raw capture sinks into playable video files with ffmpeg.
// Uses exec.CommandContext with explicit argument slices; the sink is always
// removed once the process has exited, whatever the outcome.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"streamgrab/internal/logging"
	"streamgrab/internal/media"
	"streamgrab/internal/metrics"
)

// ErrTranscodeFailed is returned when ffmpeg cannot run, exits non-zero, or
// leaves no usable output.
var ErrTranscodeFailed = errors.New("transcode failed")

const (
	stderrTailSize = 8 * 1024
	waitDelay      = 3 * time.Second // after cancellation, before pipes are force-closed
)

// Transcoder runs the external encoder with fixed codec parameters.
type Transcoder struct {
	Binary  string // ffmpeg executable, looked up in PATH
	Codec   media.CodecConfig
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func (t *Transcoder) binary() string {
	if t.Binary == "" {
		return "ffmpeg"
	}
	return t.Binary
}

// Args builds the ffmpeg argument list for one conversion.
func (t *Transcoder) Args(sinkPath, outputPath string) []string {
	c := t.Codec
	return []string{
		"-hide_banner",
		"-y", // Overwrite output
		"-i", sinkPath,
		"-c:v", c.VideoCodec,
		"-preset", c.Preset,
		"-b:v", c.VideoBitrate,
		"-r", strconv.Itoa(c.FrameRate),
		"-c:a", c.AudioCodec,
		"-b:a", c.AudioBitrate,
		outputPath,
	}
}

// Transcode converts sinkPath into outputPath and blocks until ffmpeg exits.
// The sink is deleted before returning on every path.
func (t *Transcoder) Transcode(ctx context.Context, sinkPath, outputPath string) (media.RecordingArtifact, error) {
	defer t.removeSink(sinkPath)

	logger := t.Logger.With().Str("sink", sinkPath).Str("output", outputPath).Logger()

	bin, err := exec.LookPath(t.binary())
	if err != nil {
		return media.RecordingArtifact{}, fmt.Errorf("%w: %s not found in PATH: %w", ErrTranscodeFailed, t.binary(), err)
	}

	args := t.Args(sinkPath, outputPath)
	logger.Debug().Str("bin", bin).Strs("args", args).Msg("starting ffmpeg process")

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	prior, _ := os.Stat(outputPath)
	start := time.Now()
	runErr := cmd.Run()
	t.Metrics.ObserveTranscode(time.Since(start))

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		discardOutput(outputPath, prior)

		logger.Error().
			Err(runErr).
			Str(logging.FieldEvent, "ffmpeg.exited").
			Int("exit_code", exitCode).
			Str("stderr_tail", stderr.String()).
			Msg("ffmpeg process failed")

		if ctx.Err() != nil {
			return media.RecordingArtifact{}, ctx.Err()
		}
		return media.RecordingArtifact{}, fmt.Errorf("%w: exit code %d: %s", ErrTranscodeFailed, exitCode, lastLine(stderr.String()))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return media.RecordingArtifact{}, fmt.Errorf("%w: output missing: %w", ErrTranscodeFailed, err)
	}
	if info.Size() == 0 {
		discardOutput(outputPath, prior)
		return media.RecordingArtifact{}, fmt.Errorf("%w: output %s is empty", ErrTranscodeFailed, outputPath)
	}

	logger.Info().
		Str(logging.FieldEvent, "ffmpeg.exited").
		Int("exit_code", 0).
		Int64("size", info.Size()).
		Dur("took", time.Since(start)).
		Msg("ffmpeg process finished successfully")

	return media.RecordingArtifact{
		Path:           outputPath,
		SourceSinkPath: sinkPath,
		Size:           info.Size(),
	}, nil
}

// discardOutput removes a failed run's output unless ffmpeg never touched a
// file that was already there.
func discardOutput(path string, prior os.FileInfo) {
	if prior != nil {
		cur, err := os.Stat(path)
		if err != nil {
			return
		}
		if cur.Size() == prior.Size() && cur.ModTime().Equal(prior.ModTime()) {
			return
		}
	}
	os.Remove(path)
}

func (t *Transcoder) removeSink(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.Metrics.IncCleanupErrors()
		t.Logger.Warn().Err(err).Str("sink", path).Msg("failed to remove sink")
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
