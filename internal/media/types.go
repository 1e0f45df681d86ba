// Package media defines shared types for the streamgrab application.
package media

import "fmt"

// JobStatus tracks how far a stream job has progressed through the pipeline.
type JobStatus int

const (
	Pending JobStatus = iota
	Resolving
	Capturing
	Transcoding
	Done
	Failed
)

func (s JobStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolving:
		return "resolving"
	case Capturing:
		return "capturing"
	case Transcoding:
		return "transcoding"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == Done || s == Failed
}

// StreamJob is one configured source page moving through resolve, capture and transcode.
type StreamJob struct {
	Index        int       // Position in the configured source list
	SourceURL    string    // Page that embeds the live player
	Endpoint     string    // Realtime WebSocket URL, set once resolved
	Title        string    // Page title, informational only
	SessionID    string    // Per-job correlation ID for logs
	Status       JobStatus // Current pipeline stage
	Frames       int       // Frames received during capture
	BytesWritten int64     // Decoded bytes appended to the sink
	Output       string    // Finished artifact path (Done only)
	Failure      *Failure  // Why the job failed (Failed only)
}

// NewJobs builds one pending job per source URL, indexed in order.
func NewJobs(sources []string) []*StreamJob {
	jobs := make([]*StreamJob, 0, len(sources))
	for i, src := range sources {
		jobs = append(jobs, &StreamJob{Index: i, SourceURL: src, Status: Pending})
	}
	return jobs
}

// CodecConfig holds the fixed encoder parameters handed to the transcoder.
type CodecConfig struct {
	VideoCodec   string `toml:"video_codec" json:"video_codec"`
	Preset       string `toml:"preset" json:"preset"`
	VideoBitrate string `toml:"video_bitrate" json:"video_bitrate"`
	FrameRate    int    `toml:"frame_rate" json:"frame_rate"`
	AudioCodec   string `toml:"audio_codec" json:"audio_codec"`
	AudioBitrate string `toml:"audio_bitrate" json:"audio_bitrate"`
}

// DefaultCodec returns the H.264/AAC settings used for every recording.
func DefaultCodec() CodecConfig {
	return CodecConfig{
		VideoCodec:   "libx264",
		Preset:       "ultrafast",
		VideoBitrate: "4500k",
		FrameRate:    30,
		AudioCodec:   "aac",
		AudioBitrate: "192k",
	}
}

// RecordingArtifact is a finished video produced from a capture sink.
type RecordingArtifact struct {
	Path           string // Output video file
	SourceSinkPath string // Raw sink it was produced from (already removed)
	Size           int64  // Output size in bytes
}

// FailureKind classifies why a job failed.
type FailureKind int

const (
	ResolutionFailure FailureKind = iota
	ConnectionFailure
	EmptyCapture
	TranscodeFailure
	SinkFailure
	Cancelled
)

func (k FailureKind) String() string {
	switch k {
	case ResolutionFailure:
		return "resolution"
	case ConnectionFailure:
		return "connection"
	case EmptyCapture:
		return "empty_capture"
	case TranscodeFailure:
		return "transcode"
	case SinkFailure:
		return "sink"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Failure is a job-level error tagged with its kind.
type Failure struct {
	Kind FailureKind
	Err  error
}

// Fail wraps err as a Failure of the given kind.
func Fail(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
