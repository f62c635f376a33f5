package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kikiluvv/framewise/internal/embed"
	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/internal/publish"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/internal/transcript"
)

// Extractor selects and writes keyframes for one video.
type Extractor interface {
	Extract(ctx context.Context, req keyframe.Request) (*keyframe.Result, error)
}

// VolumeAnalyzer measures audio loudness ahead of transcription.
type VolumeAnalyzer interface {
	AnalyzeVolume(ctx context.Context, input string) (*ffmpeg.VolumeStats, error)
}

// FrameEmbedder turns a written manifest into embeddings.
type FrameEmbedder interface {
	EmbedFrames(ctx context.Context, dir string, m *keyframe.Manifest) ([]embed.FrameEmbedding, error)
}

// Indexer stores the records of one video, replacing earlier runs.
type Indexer interface {
	ReplaceVideo(ctx context.Context, videoPath string, recs []store.Record) error
}

// Publisher uploads a finished output directory.
type Publisher interface {
	Publish(ctx context.Context, outputDir, prefix string) (*publish.Result, error)
}

// Config holds pipeline-specific configuration
type Config struct {
	// Workers bounds how many videos RunBatch processes at once.
	Workers int
	// FramesDir is the parent of per-video output directories.
	FramesDir string
	// TranscriptDir caches transcripts as <stem>_transcript.json.
	TranscriptDir string
	// SilenceFloorDB skips transcription when peak volume stays below it.
	SilenceFloorDB float64
	Transcription  transcript.Options
	Corrections    map[string]string
}

// Job is one video to process.
type Job struct {
	VideoPath string
	// OutputDir overrides FramesDir/<stem>.
	OutputDir string
	// TranscriptPath loads this transcript instead of the cache or a transcriber.
	TranscriptPath string
	// NoTranscript extracts without any transcript.
	NoTranscript bool
	// Refresh ignores a cached transcript.
	Refresh bool
}

// TranscriptSource records where a job's transcript came from.
type TranscriptSource string

const (
	SourceNone        TranscriptSource = "none"
	SourceFile        TranscriptSource = "file"
	SourceCache       TranscriptSource = "cache"
	SourceTranscribed TranscriptSource = "transcribed"
	SourceSilent      TranscriptSource = "silent"
	SourceFailed      TranscriptSource = "failed"
)

// JobResult is the outcome of one job. Extraction stays set when a later
// stage fails.
type JobResult struct {
	VideoPath        string
	Transcript       *transcript.Transcript
	TranscriptPath   string
	TranscriptSource TranscriptSource
	Extraction       *keyframe.Result
	Indexed          int
	Published        *publish.Result
	Elapsed          time.Duration
	Err              error
}

// BatchResult collects job results in input order.
type BatchResult struct {
	Results   []JobResult
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Err joins the per-video errors, or returns nil.
func (b *BatchResult) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.VideoPath, r.Err))
		}
	}
	return errors.Join(errs...)
}
