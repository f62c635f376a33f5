package keyframe

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/kikiluvv/framewise/internal/metrics"
	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/kikiluvv/framewise/pkg/util"
	"github.com/rs/zerolog"
)

// Materializer decodes selected frames and writes them as JPEG files.
type Materializer struct {
	logger  zerolog.Logger
	quality int
}

// NewMaterializer creates a materializer encoding at the given JPEG quality.
func NewMaterializer(logger zerolog.Logger, jpegQuality int) *Materializer {
	return &Materializer{
		logger:  logger.With().Str("component", "materializer").Logger(),
		quality: jpegQuality,
	}
}

// Prepare creates dir and clears frames and the manifest of a previous run.
func (m *Materializer) Prepare(dir string) error {
	if err := util.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if _, err := util.RemoveMatching(dir, "frame_*.jpg"); err != nil {
		return fmt.Errorf("failed to clear old frames: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, ManifestFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear old manifest: %w", err)
	}
	return nil
}

// Materialize writes each selected frame in order. Frames that fail to
// decode or write are dropped with a warning; file names stay gap-free.
func (m *Materializer) Materialize(ctx context.Context, dec Decoder, dir string, selected []Selected, t *transcript.Transcript, stats *Stats) ([]ExtractedFrame, error) {
	frames := make([]ExtractedFrame, 0, len(selected))

	for _, sel := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := dec.Seek(ctx, sel.Timestamp)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			stats.DecodeFailures++
			metrics.DecodeFailuresTotal.Inc()
			m.logger.Warn().Err(err).Float64("timestamp", sel.Timestamp).Msg("dropping frame: decode failed")
			continue
		}

		id := fmt.Sprintf("frame_%04d", len(frames))
		path := filepath.Join(dir, id+".jpg")
		if err := m.writeJPEG(path, frame); err != nil {
			stats.WriteFailures++
			metrics.WriteFailuresTotal.Inc()
			m.logger.Warn().Err(err).Str("path", path).Float64("timestamp", frame.Timestamp).Msg("dropping frame: write failed")
			continue
		}

		frames = append(frames, ExtractedFrame{
			FrameID:          id,
			Path:             path,
			Timestamp:        frame.Timestamp,
			RequestedAt:      sel.Timestamp,
			SegmentIndex:     t.SegmentAt(frame.Timestamp),
			Reason:           sel.Reason,
			MergedReasons:    sel.Merged,
			SceneChangeScore: sel.SceneScore,
			QualityScore:     sel.Quality.Score,
			Quality:          sel.Quality,
		})
	}

	stats.Written = len(frames)
	return frames, nil
}

func (m *Materializer) writeJPEG(path string, frame Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: m.quality}); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
