package embed

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
)

// clipInputSize is the square input side of CLIP ViT-B/32.
const clipInputSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// CLIPImageEncoder embeds frames with the CLIP vision tower.
type CLIPImageEncoder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

func NewCLIPImageEncoder(modelPath string, threads int) (*CLIPImageEncoder, error) {
	opts, err := newSessionOptions(threads)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create CLIP session: %w", err)
	}
	return &CLIPImageEncoder{session: session}, nil
}

func (e *CLIPImageEncoder) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plane := 3 * clipInputSize * clipInputSize
	pixels := make([]float32, len(images)*plane)
	for i, img := range images {
		clipPixels(img, pixels[i*plane:(i+1)*plane])
	}

	shape := ort.NewShape(int64(len(images)), 3, clipInputSize, clipInputSize)
	tensor, err := ort.NewTensor(shape, pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	defer tensor.Destroy()

	e.mu.Lock()
	data, outShape, err := runFloat(e.session, []ort.Value{tensor})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return splitRows(data, outShape, len(images))
}

func (e *CLIPImageEncoder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

// clipPixels writes img as CLIP-normalized CHW floats into dst.
func clipPixels(img image.Image, dst []float32) {
	resized := resize.Resize(clipInputSize, clipInputSize, img, resize.Bilinear)
	bounds := resized.Bounds()
	plane := clipInputSize * clipInputSize

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			for ch, v := range [3]uint32{r, g, b} {
				f := float32(v>>8) / 255.0
				dst[ch*plane+i] = (f - clipMean[ch]) / clipStd[ch]
			}
			i++
		}
	}
}
