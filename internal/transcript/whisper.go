package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// AudioExtractor pulls the audio track out of a video.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, input, output string, format ffmpeg.AudioFormat) error
}

// WhisperConfig locates the whisper.cpp binary and its ggml models.
type WhisperConfig struct {
	BinaryPath string
	ModelDir   string
	Threads    int
	TempDir    string
}

// WhisperTranscriber runs a whisper.cpp compatible CLI on 16 kHz mono audio.
type WhisperTranscriber struct {
	logger zerolog.Logger
	audio  AudioExtractor
	cfg    WhisperConfig
}

// NewWhisperTranscriber creates a local transcriber.
func NewWhisperTranscriber(logger zerolog.Logger, audio AudioExtractor, cfg WhisperConfig) (*WhisperTranscriber, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "whisper-cli"
	}
	bin, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q not found: %w", cfg.BinaryPath, err)
	}
	cfg.BinaryPath = bin

	return &WhisperTranscriber{
		logger: logger.With().Str("component", "whisper").Logger(),
		audio:  audio,
		cfg:    cfg,
	}, nil
}

// ModelPath returns the ggml model file for a model size.
func (w *WhisperTranscriber) ModelPath(size string) string {
	return filepath.Join(w.cfg.ModelDir, fmt.Sprintf("ggml-%s.bin", size))
}

// Transcribe extracts audio and runs whisper over it.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, videoPath string, opts Options) (*Transcript, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoPath)
	}

	size, err := opts.modelSize()
	if err != nil {
		return nil, err
	}
	model := w.ModelPath(size)
	if _, err := os.Stat(model); err != nil {
		return nil, fmt.Errorf("whisper model not found: %s", model)
	}

	workDir, err := os.MkdirTemp(w.cfg.TempDir, "framewise-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	wav := filepath.Join(workDir, "audio.wav")
	if err := w.audio.ExtractAudio(ctx, videoPath, wav, ffmpeg.DefaultWhisperFormat()); err != nil {
		return nil, fmt.Errorf("audio extraction failed: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}

	outBase := filepath.Join(workDir, "transcript")
	args := []string{
		"-m", model,
		"-f", wav,
		"-l", lang,
		"-oj",
		"-of", outBase,
	}
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}

	w.logger.Info().
		Str("video", videoPath).
		Str("model", size).
		Str("language", lang).
		Msg("transcribing")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.cfg.BinaryPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper failed: %w: %s", err, tail(stderr.String(), 512))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper produced no output: %w", err)
	}

	t, err := parseWhisperJSON(data, videoPath)
	if err != nil {
		return nil, err
	}
	if t.Language == "" || t.Language == "auto" {
		t.Language = opts.Language
	}

	w.logger.Info().
		Str("video", videoPath).
		Int("segments", len(t.Segments)).
		Str("language", t.Language).
		Msg("transcription complete")

	return t, nil
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp -oj output. Offsets are milliseconds.
func parseWhisperJSON(data []byte, videoPath string) (*Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper output: %w", err)
	}

	segs := make([]Segment, 0, len(out.Transcription))
	for _, s := range out.Transcription {
		text := strings.TrimSpace(s.Text)
		start := float64(s.Offsets.From) / 1000.0
		end := float64(s.Offsets.To) / 1000.0
		if text == "" || end <= start {
			continue
		}
		segs = append(segs, Segment{Start: start, End: end, Text: text})
	}

	return New(videoPath, out.Result.Language, segs), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
