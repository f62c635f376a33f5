package embed

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is the number of frames encoded per model call.
const DefaultBatchSize = 16

// FrameEmbedding pairs a manifest frame with its vectors.
type FrameEmbedding struct {
	Frame     keyframe.ManifestFrame
	ImagePath string
	Text      string
	TextVec   []float32
	// ImageVec is nil when no image encoder is loaded or the image could not
	// be read.
	ImageVec []float32
}

// QueryVectors holds a question embedded for each search space.
type QueryVectors struct {
	Text  []float32
	Image []float32
}

// Embedder produces frame and query embeddings.
type Embedder struct {
	logger     zerolog.Logger
	text       TextEncoder
	images     ImageEncoder
	imageQuery TextEncoder
	batchSize  int
}

func NewEmbedder(logger zerolog.Logger, text TextEncoder, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		logger:    logger.With().Str("component", "embedder").Logger(),
		text:      text,
		batchSize: batchSize,
	}
}

// WithImages enables image vectors for frames.
func (e *Embedder) WithImages(enc ImageEncoder) *Embedder {
	e.images = enc
	return e
}

// WithImageQueries enables text queries against image vectors.
func (e *Embedder) WithImageQueries(enc TextEncoder) *Embedder {
	e.imageQuery = enc
	return e
}

// EmbedFrames embeds the frames of a manifest stored in dir. Frames whose
// image cannot be read keep a text vector only.
func (e *Embedder) EmbedFrames(ctx context.Context, dir string, m *keyframe.Manifest) ([]FrameEmbedding, error) {
	out := make([]FrameEmbedding, len(m.Frames))
	for i, f := range m.Frames {
		out[i] = FrameEmbedding{
			Frame:     f,
			ImagePath: m.FramePath(dir, f),
			Text:      FrameText(f),
		}
	}

	for start := 0; start < len(out); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(out))
		if err := e.embedBatch(ctx, out[start:end]); err != nil {
			return nil, fmt.Errorf("frames %d-%d: %w", start, end-1, err)
		}
	}

	e.logger.Debug().
		Str("video", m.VideoPath).
		Int("frames", len(out)).
		Bool("images", e.images != nil).
		Msg("embedded frames")
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []FrameEmbedding) error {
	texts := make([]string, len(batch))
	for i, fe := range batch {
		texts[i] = fe.Text
	}
	vecs, err := e.text.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("text embedding failed: %w", err)
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("text encoder returned %d vectors for %d inputs", len(vecs), len(batch))
	}
	for i := range batch {
		batch[i].TextVec = vecs[i]
	}

	if e.images == nil {
		return nil
	}

	var imgs []image.Image
	var idx []int
	for i, fe := range batch {
		img, err := loadImage(fe.ImagePath)
		if err != nil {
			e.logger.Warn().Err(err).Str("frame", fe.Frame.FrameID).Msg("skipping image embedding")
			continue
		}
		imgs = append(imgs, img)
		idx = append(idx, i)
	}
	if len(imgs) == 0 {
		return nil
	}

	ivecs, err := e.images.EmbedImages(ctx, imgs)
	if err != nil {
		return fmt.Errorf("image embedding failed: %w", err)
	}
	if len(ivecs) != len(imgs) {
		return fmt.Errorf("image encoder returned %d vectors for %d inputs", len(ivecs), len(imgs))
	}
	for j, i := range idx {
		batch[i].ImageVec = ivecs[j]
	}
	return nil
}

// EmbedQuery embeds a search query. Image is nil without a CLIP text model.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) (QueryVectors, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return QueryVectors{}, errors.New("query is empty")
	}

	vecs, err := e.text.EmbedTexts(ctx, []string{query})
	if err != nil {
		return QueryVectors{}, fmt.Errorf("query embedding failed: %w", err)
	}
	q := QueryVectors{Text: vecs[0]}

	if e.imageQuery != nil {
		ivecs, err := e.imageQuery.EmbedTexts(ctx, []string{query})
		if err != nil {
			return QueryVectors{}, fmt.Errorf("image query embedding failed: %w", err)
		}
		q.Image = ivecs[0]
	}
	return q, nil
}

// EmbedImageFile embeds one image for query-by-example search.
func (e *Embedder) EmbedImageFile(ctx context.Context, path string) ([]float32, error) {
	if e.images == nil {
		return nil, errors.New("no image model loaded")
	}
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	vecs, err := e.images.EmbedImages(ctx, []image.Image{img})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// FrameText is the text indexed for a frame: its transcript segment, or a
// description of why it was picked when no speech covers it.
func FrameText(f keyframe.ManifestFrame) string {
	if f.TranscriptSegment != nil {
		if text := strings.TrimSpace(f.TranscriptSegment.Text); text != "" {
			return text
		}
	}
	if f.Reason.Kind == keyframe.Keyword {
		return "keyword " + f.Reason.Word
	}
	return strings.ReplaceAll(f.Reason.Kind.String(), "_", " ")
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
