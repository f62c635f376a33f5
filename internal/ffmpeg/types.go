package ffmpeg

import (
	"io"
	"time"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath     string
	Duration     time.Duration
	StartTime    float64
	Width        int
	Height       int
	FPS          float64
	FrameCount   int64
	Bitrate      int64
	VideoCodec   string
	HasVideo     bool
	HasAudio     bool
	AudioCodec   string
	AudioBitrate int64
}

// Seconds returns the duration as fractional seconds
func (v *VideoInfo) Seconds() float64 {
	return v.Duration.Seconds()
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame      int
	FPS        float64
	Bitrate    string
	Time       string
	Speed      string
	Percentage float64
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// PipeOptions configures an ffmpeg run whose output is read from stdout
type PipeOptions struct {
	Args []string
	// Stdout consumes the encoded output. Returning an error stops ffmpeg.
	Stdout func(r io.Reader) error
	// LogHandler receives stderr lines as they arrive.
	LogHandler func(line string)
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)
