package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrVideoNotFound is returned when the source video does not exist.
var ErrVideoNotFound = errors.New("video file not found")

// ModelSizes lists the accepted speech model sizes, smallest first.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large"}

// DefaultModelSize balances speed and accuracy for tutorial narration.
const DefaultModelSize = "base"

// Options tunes a single transcription request.
type Options struct {
	// ModelSize selects the speech model; empty means DefaultModelSize.
	ModelSize string
	// Language is an optional hint such as "en"; empty lets the backend detect it.
	Language string
}

func (o Options) modelSize() (string, error) {
	if o.ModelSize == "" {
		return DefaultModelSize, nil
	}
	for _, s := range ModelSizes {
		if s == o.ModelSize {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown model size %q (want one of %v)", o.ModelSize, ModelSizes)
}

// Transcriber turns the speech of a video into a Transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string, opts Options) (*Transcript, error)
}

// BatchItem is the outcome for one video of ExtractBatch.
type BatchItem struct {
	VideoPath      string
	TranscriptPath string
	Segments       int
	Err            error
}

// ExtractBatch transcribes every video and saves <stem>_transcript.json into
// outDir. A failing video is recorded and the batch moves on; only context
// cancellation stops it early.
func ExtractBatch(ctx context.Context, logger zerolog.Logger, tr Transcriber, videos []string, outDir string, opts Options) []BatchItem {
	items := make([]BatchItem, 0, len(videos))
	for _, video := range videos {
		if err := ctx.Err(); err != nil {
			items = append(items, BatchItem{VideoPath: video, Err: err})
			continue
		}

		item := BatchItem{VideoPath: video}
		t, err := tr.Transcribe(ctx, video, opts)
		if err != nil {
			logger.Error().Err(err).Str("video", video).Msg("transcription failed")
			item.Err = err
			items = append(items, item)
			continue
		}

		path := PathFor(outDir, video)
		if err := t.Save(path); err != nil {
			logger.Error().Err(err).Str("video", video).Msg("saving transcript failed")
			item.Err = err
			items = append(items, item)
			continue
		}

		item.TranscriptPath = path
		item.Segments = len(t.Segments)
		logger.Info().
			Str("video", video).
			Str("transcript", path).
			Int("segments", item.Segments).
			Msg("transcript saved")
		items = append(items, item)
	}
	return items
}
