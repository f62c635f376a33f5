package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// SceneCut is a frame ffmpeg's scene filter scored above the threshold
type SceneCut struct {
	Timestamp float64
	Score     float64
}

// DetectScenes finds scene changes in video using ffmpeg scene detection.
// It is a reference for tuning scene thresholds; extraction uses its own
// sampling detector.
func (e *Executor) DetectScenes(ctx context.Context, input string, threshold float64) ([]SceneCut, error) {
	e.logger.Info().
		Str("input", input).
		Float64("threshold", threshold).
		Msg("detecting scene changes")

	var stderrBuf bytes.Buffer
	var mu sync.Mutex

	opts := RunOptions{
		Args: []string{
			"-i", input,
			"-an",
			"-vf", fmt.Sprintf("select='gt(scene,%f)',metadata=print:file=-:key=lavfi.scene_score,showinfo", threshold),
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
		return nil, fmt.Errorf("scene detection failed: %w", err)
	}

	scenes := parseSceneOutput(output)
	e.logger.Info().Int("scenes", len(scenes)).Msg("scene detection complete")
	return scenes, nil
}

// parseSceneOutput pairs frame pts_time lines with the scene score printed
// after them. metadata and showinfo both report each selected frame, so
// repeated timestamps collapse into one cut.
func parseSceneOutput(output string) []SceneCut {
	var scenes []SceneCut
	seen := make(map[float64]int)
	pending := -1

	for _, line := range strings.Split(output, "\n") {
		if _, v, ok := strings.Cut(line, "lavfi.scene_score="); ok {
			if score, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && pending >= 0 {
				scenes[pending].Score = score
			}
			continue
		}

		ts, ok := ParsePTSTime(line)
		if !ok {
			continue
		}
		if idx, dup := seen[ts]; dup {
			pending = idx
			continue
		}
		scenes = append(scenes, SceneCut{Timestamp: ts})
		pending = len(scenes) - 1
		seen[ts] = pending
	}

	return scenes
}

// ParsePTSTime extracts the pts_time value from a showinfo or metadata line
func ParsePTSTime(line string) (float64, bool) {
	_, rest, ok := strings.Cut(line, "pts_time:")
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
