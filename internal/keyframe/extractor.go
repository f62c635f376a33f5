package keyframe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kikiluvv/framewise/internal/metrics"
	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/rs/zerolog"
)

// Request is one extraction job.
type Request struct {
	VideoPath string
	// Transcript is optional; nil or empty disables keyword and boundary candidates.
	Transcript *transcript.Transcript
	// OutputDir overrides Options.OutputDir when set.
	OutputDir string
}

// Result is what an extraction produced.
type Result struct {
	RunID        string
	VideoPath    string
	OutputDir    string
	ManifestPath string
	Duration     float64
	Frames       []ExtractedFrame
	Stats        Stats
}

// Extractor selects and writes keyframes for single videos. It keeps no
// per-video state and may be shared across goroutines.
type Extractor struct {
	logger       zerolog.Logger
	opts         Options
	opener       Opener
	detector     *SceneDetector
	spotter      *KeywordSpotter
	selector     *Selector
	materializer *Materializer
	now          func() time.Time
}

// NewExtractor validates opts and wires the pipeline stages.
func NewExtractor(logger zerolog.Logger, opener Opener, opts Options) (*Extractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, fmt.Errorf("%w: decoder opener is required", ErrInvalidOptions)
	}

	scorer := NewQualityScorer(opts.AnalysisWidth)
	return &Extractor{
		logger:       logger.With().Str("component", "extractor").Logger(),
		opts:         opts,
		opener:       opener,
		detector:     NewSceneDetector(logger, opts.SceneThreshold, opts.SampleInterval, opts.AnalysisWidth),
		spotter:      NewKeywordSpotter(opts.Keywords),
		selector:     NewSelector(logger, opts, scorer),
		materializer: NewMaterializer(logger, opts.JPEGQuality),
		now:          time.Now,
	}, nil
}

// Options returns the validated configuration.
func (e *Extractor) Options() Options {
	return e.opts
}

// Extract runs the full pipeline for one video. Input problems fail before
// any decoding; a result with zero frames is not an error.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	res, err := e.extract(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExtractionDuration.WithLabelValues(string(e.opts.Strategy), status).Observe(time.Since(start).Seconds())
	return res, err
}

func (e *Extractor) extract(ctx context.Context, req Request) (*Result, error) {
	dir := req.OutputDir
	if dir == "" {
		dir = e.opts.OutputDir
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory is required", ErrInvalidOptions)
	}

	info, err := os.Stat(req.VideoPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, req.VideoPath)
	}

	if req.Transcript != nil {
		if err := req.Transcript.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}

	dec, err := e.opener.Open(ctx, req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.VideoPath, err)
	}
	defer func() {
		if cerr := dec.Close(); cerr != nil {
			e.logger.Warn().Err(cerr).Str("video", req.VideoPath).Msg("closing decoder failed")
		}
	}()

	duration := dec.Duration()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroDuration, req.VideoPath)
	}

	log := e.logger.With().Str("video", req.VideoPath).Str("strategy", string(e.opts.Strategy)).Logger()
	log.Info().
		Float64("duration", duration).
		Int("segments", req.Transcript.Len()).
		Int("max_frames", e.opts.MaxFrames).
		Msg("extracting keyframes")

	stats := Stats{SampleInterval: e.opts.SampleInterval}
	pool, err := e.collect(ctx, dec, req.Transcript, &stats)
	if err != nil {
		return nil, err
	}

	selected, err := e.selector.Select(ctx, dec, pool, &stats)
	if err != nil {
		return nil, err
	}

	if err := e.materializer.Prepare(dir); err != nil {
		return nil, err
	}
	frames, err := e.materializer.Materialize(ctx, dec, dir, selected, req.Transcript, &stats)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	manifest := &Manifest{
		RunID:     runID,
		VideoPath: req.VideoPath,
		Duration:  duration,
		Strategy:  e.opts.Strategy,
		CreatedAt: e.now().UTC(),
		Settings: ManifestOptions{
			MaxFrames:        e.opts.MaxFrames,
			SceneThreshold:   e.opts.SceneThreshold,
			QualityThreshold: e.opts.QualityThreshold,
			MinSpacing:       e.opts.MinSpacing,
			SampleInterval:   e.opts.SampleInterval,
		},
		Stats:  stats,
		Frames: make([]ManifestFrame, 0, len(frames)),
	}
	for _, f := range frames {
		manifest.Frames = append(manifest.Frames, newManifestFrame(f, req.Transcript))
	}
	manifestPath, err := WriteManifest(dir, manifest)
	if err != nil {
		return nil, err
	}

	metrics.FramesExtractedTotal.WithLabelValues(string(e.opts.Strategy)).Add(float64(len(frames)))

	level := zerolog.InfoLevel
	if stats.WriteFailures > 0 {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Int("frames", len(frames)).
		Int("merged", stats.Merged).
		Int("decode_failures", stats.DecodeFailures).
		Int("quality_rejected", stats.QualityRejected).
		Int("write_failures", stats.WriteFailures).
		Bool("fallback", stats.FallbackUsed).
		Msg("extraction complete")

	return &Result{
		RunID:        runID,
		VideoPath:    req.VideoPath,
		OutputDir:    dir,
		ManifestPath: manifestPath,
		Duration:     duration,
		Frames:       frames,
		Stats:        stats,
	}, nil
}

// collect gathers raw candidates from every source the strategy enables.
func (e *Extractor) collect(ctx context.Context, dec Decoder, t *transcript.Transcript, stats *Stats) ([]Candidate, error) {
	var pool []Candidate

	if e.opts.Strategy.usesScenes() {
		var scores []SceneScore
		counted := &sampleCounter{Decoder: dec}
		scanErrors := 0
		for s, err := range e.detector.Scan(ctx, counted) {
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				scanErrors++
				stats.DecodeFailures++
				metrics.DecodeFailuresTotal.Inc()
				e.logger.Warn().Err(err).Msg("scene scan decode error")
				continue
			}
			scores = append(scores, s)
		}
		stats.Sampled = counted.decoded
		if counted.decoded == 0 && scanErrors > 0 {
			return nil, fmt.Errorf("%w: all %d sampled frames failed to decode", ErrNoDecodableFrames, scanErrors)
		}
		sc := sceneCandidates(scores)
		stats.SceneCandidates = len(sc)
		metrics.CandidatesTotal.WithLabelValues(SceneChange.String()).Add(float64(len(sc)))
		pool = append(pool, sc...)
	}

	if e.opts.Strategy.usesTranscript() && t.Len() > 0 {
		kc := withinDuration(e.spotter.Spot(t), dec.Duration())
		stats.KeywordCandidates = len(kc)
		metrics.CandidatesTotal.WithLabelValues(Keyword.String()).Add(float64(len(kc)))
		pool = append(pool, kc...)

		if e.opts.UseBoundaries {
			bc := boundaryCandidates(t, dec.Duration())
			stats.BoundaryCandidates = len(bc)
			metrics.CandidatesTotal.WithLabelValues(TranscriptBoundary.String()).Add(float64(len(bc)))
			pool = append(pool, bc...)
		}
	}

	return pool, nil
}

// sampleCounter counts the frames its decoder's sample pass decoded.
type sampleCounter struct {
	Decoder
	decoded int
}

func (c *sampleCounter) Sample(ctx context.Context, interval float64) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for f, err := range c.Decoder.Sample(ctx, interval) {
			if err == nil {
				c.decoded++
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

func withinDuration(in []Candidate, duration float64) []Candidate {
	out := in[:0]
	for _, c := range in {
		if c.Timestamp < duration {
			out = append(out, c)
		}
	}
	return out
}
