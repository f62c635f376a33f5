package keyframe

import (
	"image"
	"math"
)

// QualityWeights sets how the three signals combine. They should sum to 1.
type QualityWeights struct {
	Sharpness float64
	Exposure  float64
	Content   float64
}

// QualityReport is the breakdown behind a quality score. All values are in [0,1].
type QualityReport struct {
	Sharpness float64 `json:"sharpness"`
	Exposure  float64 `json:"exposure"`
	Content   float64 `json:"content"`
	Score     float64 `json:"score"`
}

// QualityScorer rates how usable a frame is as a keyframe. It holds no state
// between calls and is safe for concurrent use.
type QualityScorer struct {
	weights QualityWeights
	width   int
}

const (
	// Laplacian variance at which sharpness reaches 1-1/e.
	sharpnessScale = 400.0
	// Luma standard deviation treated as full contrast.
	contentScale = 60.0
	darkLevel    = 16
	brightLevel  = 239
	// Distance of the mean luma from mid-grey tolerated without penalty.
	exposureBand = 64.0
)

// NewQualityScorer returns a scorer analysing frames downscaled to width pixels.
func NewQualityScorer(width int) *QualityScorer {
	return &QualityScorer{
		weights: QualityWeights{Sharpness: 0.4, Exposure: 0.3, Content: 0.3},
		width:   width,
	}
}

// WithWeights overrides the default 0.4/0.3/0.3 blend.
func (q *QualityScorer) WithWeights(w QualityWeights) *QualityScorer {
	cp := *q
	cp.weights = w
	return &cp
}

// Score rates img.
func (q *QualityScorer) Score(img image.Image) QualityReport {
	g := analysisGray(img, q.width)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return QualityReport{}
	}

	var sum, sumSq float64
	var dark, bright int
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, p := range row {
			v := float64(p)
			sum += v
			sumSq += v * v
			if p < darkLevel {
				dark++
			} else if p > brightLevel {
				bright++
			}
		}
	}
	n := float64(w * h)
	mean := sum / n
	stdDev := math.Sqrt(math.Max(0, sumSq/n-mean*mean))

	r := QualityReport{
		Sharpness: 1 - math.Exp(-laplacianVariance(g)/sharpnessScale),
		Exposure:  exposureScore(float64(dark)/n, float64(bright)/n, mean),
		Content:   math.Min(1, stdDev/contentScale),
	}
	r.Score = clamp01(q.weights.Sharpness*r.Sharpness + q.weights.Exposure*r.Exposure + q.weights.Content*r.Content)
	return r
}

// exposureScore penalises frames dominated by crushed blacks or blown
// whites. Screen recordings often have mostly white backgrounds, so the
// penalty grows with the square of the clipped share. A mean luma outside
// the mid band costs up to a further quarter.
func exposureScore(darkShare, brightShare, mean float64) float64 {
	worst := math.Max(darkShare, brightShare)
	score := 1 - worst*worst
	if off := math.Abs(mean-128) - exposureBand; off > 0 {
		score -= 0.25 * off / (128 - exposureBand)
	}
	return clamp01(score)
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the
// interior pixels.
func laplacianVariance(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	var sum, sumSq float64
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(g.Pix[y*g.Stride+x])
			lap := float64(g.Pix[(y-1)*g.Stride+x]) +
				float64(g.Pix[(y+1)*g.Stride+x]) +
				float64(g.Pix[y*g.Stride+x-1]) +
				float64(g.Pix[y*g.Stride+x+1]) - 4*c
			sum += lap
			sumSq += lap * lap
			count++
		}
	}
	mean := sum / float64(count)
	return sumSq/float64(count) - mean*mean
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
