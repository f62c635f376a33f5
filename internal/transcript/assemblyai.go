package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	"github.com/cenkalti/backoff/v4"
	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/rs/zerolog"
)

var errStillProcessing = errors.New("transcript still processing")

// AssemblyAIConfig configures the hosted transcription backend.
type AssemblyAIConfig struct {
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
	TempDir      string
}

// AssemblyAITranscriber uploads extracted audio to AssemblyAI and polls until
// the transcript is ready.
type AssemblyAITranscriber struct {
	logger zerolog.Logger
	client *aai.Client
	audio  AudioExtractor
	cfg    AssemblyAIConfig
}

// NewAssemblyAITranscriber creates a hosted transcriber.
func NewAssemblyAITranscriber(logger zerolog.Logger, audio AudioExtractor, cfg AssemblyAIConfig) (*AssemblyAITranscriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assemblyai api key is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}

	return &AssemblyAITranscriber{
		logger: logger.With().Str("component", "assemblyai").Logger(),
		client: aai.NewClient(cfg.APIKey),
		audio:  audio,
		cfg:    cfg,
	}, nil
}

// Transcribe uploads the audio track and waits for the transcript. The model
// size selector does not apply to this backend and is ignored.
func (a *AssemblyAITranscriber) Transcribe(ctx context.Context, videoPath string, opts Options) (*Transcript, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoPath)
	}

	workDir, err := os.MkdirTemp(a.cfg.TempDir, "framewise-aai-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	wav := filepath.Join(workDir, "audio.wav")
	if err := a.audio.ExtractAudio(ctx, videoPath, wav, ffmpeg.DefaultWhisperFormat()); err != nil {
		return nil, fmt.Errorf("audio extraction failed: %w", err)
	}

	f, err := os.Open(wav)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	uploadURL, err := a.client.Upload(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to AssemblyAI: %w", err)
	}

	params := &aai.TranscriptOptionalParams{}
	if opts.Language != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(opts.Language)
	} else {
		params.LanguageDetection = aai.Bool(true)
	}

	submitted, err := a.client.Transcripts.SubmitFromURL(ctx, uploadURL, params)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transcription: %w", err)
	}
	if submitted.ID == nil {
		return nil, errors.New("assemblyai returned no transcript id")
	}
	id := *submitted.ID

	a.logger.Info().
		Str("video", videoPath).
		Str("transcript_id", id).
		Msg("transcription submitted")

	var result aai.Transcript
	poll := func() error {
		tr, err := a.client.Transcripts.Get(ctx, id)
		if err != nil {
			// transient API errors are retried
			return err
		}
		switch tr.Status {
		case aai.TranscriptStatusCompleted:
			result = tr
			return nil
		case aai.TranscriptStatusError:
			msg := "transcription failed"
			if tr.Error != nil {
				msg = *tr.Error
			}
			return backoff.Permanent(fmt.Errorf("assemblyai: %s", msg))
		default:
			a.logger.Debug().Str("transcript_id", id).Str("status", string(tr.Status)).Msg("waiting")
			return errStillProcessing
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.PollInterval
	bo.MaxInterval = 4 * a.cfg.PollInterval
	bo.MaxElapsedTime = a.cfg.Timeout

	if err := backoff.Retry(poll, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("waiting for transcript %s: %w", id, err)
	}

	words := make([]word, 0, len(result.Words))
	for _, w := range result.Words {
		if w.Text == nil || w.Start == nil || w.End == nil {
			continue
		}
		words = append(words, word{
			start: float64(*w.Start) / 1000.0,
			end:   float64(*w.End) / 1000.0,
			text:  *w.Text,
		})
	}

	language := opts.Language
	if result.LanguageCode != "" {
		language = string(result.LanguageCode)
	}

	t := New(videoPath, language, groupSentences(words))
	a.logger.Info().
		Str("video", videoPath).
		Int("words", len(words)).
		Int("segments", len(t.Segments)).
		Msg("transcription complete")
	return t, nil
}

type word struct {
	start, end float64
	text       string
}

// maxSentenceSeconds caps a segment when the speaker never pauses on punctuation.
const maxSentenceSeconds = 12.0

// groupSentences folds word timings into sentence-level segments, closing a
// segment on terminal punctuation or when it grows too long.
func groupSentences(words []word) []Segment {
	var segs []Segment
	var cur []string
	var start, end float64

	flush := func() {
		if len(cur) > 0 && end > start {
			segs = append(segs, Segment{Start: start, End: end, Text: strings.Join(cur, " ")})
		}
		cur = cur[:0]
	}

	for _, w := range words {
		if len(cur) == 0 {
			start = w.start
		}
		cur = append(cur, w.text)
		end = w.end

		if strings.HasSuffix(w.text, ".") || strings.HasSuffix(w.text, "?") ||
			strings.HasSuffix(w.text, "!") || end-start >= maxSentenceSeconds {
			flush()
		}
	}
	flush()

	return segs
}
