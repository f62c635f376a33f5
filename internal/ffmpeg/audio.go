package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// AudioFormat defines audio extraction format options
type AudioFormat struct {
	Codec      string
	SampleRate int
	Channels   int
	Bitrate    string
}

// DefaultWhisperFormat returns the 16kHz mono PCM that speech models expect
func DefaultWhisperFormat() AudioFormat {
	return AudioFormat{
		Codec:      "pcm_s16le",
		SampleRate: 16000,
		Channels:   1, // mono
		Bitrate:    "",
	}
}

// ExtractAudio extracts the first audio stream to a separate file
func (e *Executor) ExtractAudio(ctx context.Context, input, output string, format AudioFormat) error {
	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Str("codec", format.Codec).
		Int("sample_rate", format.SampleRate).
		Msg("extracting audio")

	args := []string{
		"-i", input,
		"-vn", // no video
		"-map", "0:a:0",
		"-acodec", format.Codec,
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-ac", fmt.Sprintf("%d", format.Channels),
	}

	if format.Bitrate != "" {
		args = append(args, "-b:a", format.Bitrate)
	}

	args = append(args, output)

	opts := RunOptions{
		Args: args,
		ProgressHandler: func(p *Progress) {
			e.logger.Debug().Str("time", p.Time).Str("speed", p.Speed).Msg("audio extraction progress")
		},
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("audio extraction")
		},
	}

	return e.Run(ctx, opts)
}

// VolumeStats holds volume analysis results
type VolumeStats struct {
	MeanVolume float64
	MaxVolume  float64
}

// Silent reports whether the loudest sample stays below floorDB.
func (v *VolumeStats) Silent(floorDB float64) bool {
	return v.MaxVolume < floorDB
}

// AnalyzeVolume calculates volume statistics for the audio of a file
func (e *Executor) AnalyzeVolume(ctx context.Context, input string) (*VolumeStats, error) {
	e.logger.Info().Str("input", input).Msg("analyzing volume")

	var stderrBuf bytes.Buffer
	var mu sync.Mutex

	opts := RunOptions{
		Args: []string{
			"-i", input,
			"-vn",
			"-af", "volumedetect",
			"-f", "null",
			"-",
		},
		LogHandler: func(line string) {
			mu.Lock()
			stderrBuf.WriteString(line + "\n")
			mu.Unlock()
		},
	}

	err := e.Run(ctx, opts)

	mu.Lock()
	output := stderrBuf.String()
	mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("volume analysis failed: %w", err)
	}

	return parseVolumeOutput(output)
}

// parseVolumeOutput extracts volume stats from volumedetect output
func parseVolumeOutput(output string) (*VolumeStats, error) {
	stats := &VolumeStats{}
	found := false

	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if v, ok := volumeField(line, "mean_volume:"); ok {
			stats.MeanVolume = v
			found = true
		} else if v, ok := volumeField(line, "max_volume:"); ok {
			stats.MaxVolume = v
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("no volume statistics in ffmpeg output")
	}
	return stats, nil
}

func volumeField(line, key string) (float64, bool) {
	_, rest, ok := strings.Cut(line, key)
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	if fields[0] == "-inf" {
		return -999, true
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
