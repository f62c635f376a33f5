package keyframe

import (
	"context"
	"image"
	"iter"
	"math"

	"github.com/rs/zerolog"
)

const histogramBins = 64

// SceneScore is the dissimilarity of one sampled frame from the sample before it.
type SceneScore struct {
	Timestamp float64
	Score     float64
}

// SceneDetector scores consecutive sampled frames and reports the ones that
// differ by at least the threshold.
type SceneDetector struct {
	logger    zerolog.Logger
	threshold float64
	interval  float64
	width     int
}

// NewSceneDetector creates a detector sampling one frame every interval
// seconds. Lower intervals catch shorter shots at a higher decode cost.
func NewSceneDetector(logger zerolog.Logger, threshold, interval float64, width int) *SceneDetector {
	return &SceneDetector{
		logger:    logger.With().Str("component", "scene-detector").Logger(),
		threshold: threshold,
		interval:  interval,
		width:     width,
	}
}

// Interval is the sampling stride in seconds.
func (d *SceneDetector) Interval() float64 {
	return d.interval
}

// Scan lazily walks the decoder's sample stream. Per-frame decode errors are
// passed through and the comparison restarts at the next good frame.
func (d *SceneDetector) Scan(ctx context.Context, dec Decoder) iter.Seq2[SceneScore, error] {
	return func(yield func(SceneScore, error) bool) {
		var prev *image.Gray
		var prevHist []float64
		sampled := 0

		for frame, err := range dec.Sample(ctx, d.interval) {
			if err != nil {
				prev = nil
				if !yield(SceneScore{}, err) {
					return
				}
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(SceneScore{}, err)
				return
			}

			sampled++
			g := analysisGray(frame.Image, d.width)
			hist := lumaHistogram(g)

			if prev != nil {
				score := frameDistance(prev, prevHist, g, hist)
				if score >= d.threshold {
					if !yield(SceneScore{Timestamp: frame.Timestamp, Score: score}, nil) {
						return
					}
				}
			}
			prev, prevHist = g, hist
		}

		d.logger.Debug().Int("sampled", sampled).Float64("interval", d.interval).Msg("scene scan finished")
	}
}

// frameDistance blends histogram distance, which survives small motion, with
// mean pixel difference, which catches layout changes that keep the same
// tonal balance. The result is in [0,1].
func frameDistance(a *image.Gray, aHist []float64, b *image.Gray, bHist []float64) float64 {
	return clamp01(0.5*histogramDistance(aHist, bHist) + 0.5*pixelDistance(a, b))
}

func lumaHistogram(g *image.Gray) []float64 {
	hist := make([]float64, histogramBins)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return hist
	}
	for y := 0; y < h; y++ {
		for _, p := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[int(p)*histogramBins/256]++
		}
	}
	n := float64(w * h)
	for i := range hist {
		hist[i] /= n
	}
	return hist
}

// histogramDistance is half the L1 distance of two normalised histograms.
func histogramDistance(a, b []float64) float64 {
	var d float64
	for i := range a {
		d += math.Abs(a[i] - b[i])
	}
	return d / 2
}

// pixelDistance is the mean absolute luma difference scaled to [0,1].
func pixelDistance(a, b *image.Gray) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	b = matchSize(b, w, h)

	var total float64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := range ra {
			total += math.Abs(float64(ra[x]) - float64(rb[x]))
		}
	}
	return total / float64(w*h) / 255
}
