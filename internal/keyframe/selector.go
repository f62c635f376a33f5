package keyframe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/kikiluvv/framewise/internal/metrics"
	"github.com/rs/zerolog"
)

// Selected is a candidate that survived gating, with the frame time the
// decoder actually produced.
type Selected struct {
	Candidate
	Actual  float64
	Quality QualityReport
}

// Stats counts what happened to candidates during one extraction.
type Stats struct {
	SceneCandidates    int     `json:"scene_candidates"`
	KeywordCandidates  int     `json:"keyword_candidates"`
	BoundaryCandidates int     `json:"boundary_candidates"`
	UniformCandidates  int     `json:"uniform_candidates"`
	Sampled            int     `json:"sampled"`
	Merged             int     `json:"merged_candidates"`
	Evaluated          int     `json:"evaluated"`
	DecodeFailures     int     `json:"decode_failures"`
	QualityRejected    int     `json:"quality_rejected"`
	Selected           int     `json:"selected"`
	WriteFailures      int     `json:"write_failures"`
	Written            int     `json:"written"`
	SparsePadding      bool    `json:"sparse_padding"`
	FallbackUsed       bool    `json:"fallback_used"`
	SampleInterval     float64 `json:"sample_interval"`
}

// Selector fuses candidate sources into a bounded, time-ordered frame set.
type Selector struct {
	logger zerolog.Logger
	opts   Options
	scorer *QualityScorer
}

// NewSelector creates a selector for validated options.
func NewSelector(logger zerolog.Logger, opts Options, scorer *QualityScorer) *Selector {
	return &Selector{
		logger: logger.With().Str("component", "selector").Logger(),
		opts:   opts,
		scorer: scorer,
	}
}

type evaluation struct {
	actual  float64
	quality QualityReport
	err     error
}

// Select merges pool, decodes and gates each merged candidate, and applies
// the frame budget. The hybrid strategy pads a sparse pool with uniform
// samples and, if still below the minimum, retries once on a denser grid.
func (s *Selector) Select(ctx context.Context, dec Decoder, pool []Candidate, stats *Stats) ([]Selected, error) {
	duration := dec.Duration()
	cache := make(map[float64]evaluation)

	if s.opts.Strategy.allowsFallback() && len(mergeCandidates(pool, s.opts.MinSpacing)) < s.opts.MaxFrames {
		pad := uniformCandidates(duration, s.opts.MaxFrames)
		pool = append(append([]Candidate(nil), pool...), pad...)
		stats.UniformCandidates += len(pad)
		stats.SparsePadding = true
		metrics.CandidatesTotal.WithLabelValues(UniformSample.String()).Add(float64(len(pad)))
	}

	selected, err := s.run(ctx, dec, pool, cache, stats)
	if err != nil {
		return nil, err
	}

	if len(selected) < s.opts.MinFrames && s.opts.Strategy.allowsFallback() {
		grid := uniformCandidates(duration, 2*s.opts.MaxFrames)
		s.logger.Info().
			Int("selected", len(selected)).
			Int("min_frames", s.opts.MinFrames).
			Int("uniform", len(grid)).
			Msg("too few frames survived, retrying with uniform samples")

		stats.FallbackUsed = true
		stats.UniformCandidates += len(grid)
		metrics.CandidatesTotal.WithLabelValues(UniformSample.String()).Add(float64(len(grid)))

		pool = append(append([]Candidate(nil), pool...), grid...)
		selected, err = s.run(ctx, dec, pool, cache, stats)
		if err != nil {
			return nil, err
		}
	}

	stats.Selected = len(selected)
	return selected, nil
}

func (s *Selector) run(ctx context.Context, dec Decoder, pool []Candidate, cache map[float64]evaluation, stats *Stats) ([]Selected, error) {
	merged := mergeCandidates(pool, s.opts.MinSpacing)
	stats.Merged = len(merged)
	stats.QualityRejected = 0

	var survivors []Selected
	attempted, decoded := 0, 0
	for _, c := range merged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, seen := cache[c.Timestamp]
		if !seen {
			ev = s.evaluate(ctx, dec, c.Timestamp)
			if ev.err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			cache[c.Timestamp] = ev
			stats.Evaluated++
			if ev.err != nil {
				stats.DecodeFailures++
				metrics.DecodeFailuresTotal.Inc()
			}
		}

		attempted++
		if ev.err != nil {
			continue
		}
		decoded++

		if ev.quality.Score < s.opts.QualityThreshold {
			stats.QualityRejected++
			metrics.QualityRejectionsTotal.Inc()
			continue
		}
		survivors = append(survivors, Selected{Candidate: c, Actual: ev.actual, Quality: ev.quality})
	}

	if attempted > 0 && decoded == 0 {
		return nil, fmt.Errorf("%w: all %d candidates failed to decode", ErrNoDecodableFrames, attempted)
	}

	survivors = spaceActual(survivors, s.opts.MinSpacing)
	return applyBudget(survivors, s.opts.MaxFrames), nil
}

func (s *Selector) evaluate(ctx context.Context, dec Decoder, ts float64) evaluation {
	frame, err := dec.Seek(ctx, ts)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.logger.Debug().Float64("timestamp", ts).Msg("candidate past end of stream")
		} else {
			s.logger.Warn().Err(err).Float64("timestamp", ts).Msg("skipping undecodable candidate")
		}
		return evaluation{err: err}
	}
	return evaluation{actual: frame.Timestamp, quality: s.scorer.Score(frame.Image)}
}

// tooClose reports whether two timestamps belong to the same merge window.
// Identical timestamps always merge, even with zero spacing.
func tooClose(a, b, spacing float64) bool {
	d := math.Abs(a - b)
	return d == 0 || d < spacing
}

// mergeCandidates keeps the strongest candidate of every spacing window and
// folds the rest into their nearest kept neighbour. The result is sorted by
// timestamp and no two entries are closer than spacing.
func mergeCandidates(pool []Candidate, spacing float64) []Candidate {
	if len(pool) == 0 {
		return nil
	}

	ordered := make([]Candidate, len(pool))
	copy(ordered, pool)
	sort.SliceStable(ordered, func(i, j int) bool { return priorityLess(ordered[i], ordered[j]) })

	var kept []Candidate
	for _, c := range ordered {
		nearest := -1
		for i := range kept {
			if !tooClose(kept[i].Timestamp, c.Timestamp, spacing) {
				continue
			}
			if nearest < 0 || math.Abs(kept[i].Timestamp-c.Timestamp) < math.Abs(kept[nearest].Timestamp-c.Timestamp) {
				nearest = i
			}
		}
		if nearest >= 0 {
			kept[nearest].absorb(c)
			continue
		}
		c.Merged = append([]Reason(nil), c.Merged...)
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp < kept[j].Timestamp })
	return kept
}

// rankLess orders survivors for the budget cut: reason priority, then
// quality, then earlier frame.
func rankLess(a, b Selected) bool {
	if pa, pb := a.Reason.Kind.Priority(), b.Reason.Kind.Priority(); pa != pb {
		return pa > pb
	}
	if a.Quality.Score != b.Quality.Score {
		return a.Quality.Score > b.Quality.Score
	}
	return a.Actual < b.Actual
}

// spaceActual re-applies the spacing rule to decoded frame times, since
// different requests can land on the same or neighbouring frames.
func spaceActual(in []Selected, spacing float64) []Selected {
	if len(in) < 2 {
		return in
	}
	ordered := make([]Selected, len(in))
	copy(ordered, in)
	sort.SliceStable(ordered, func(i, j int) bool { return rankLess(ordered[i], ordered[j]) })

	var kept []Selected
	for _, c := range ordered {
		clash := -1
		for i := range kept {
			if tooClose(kept[i].Actual, c.Actual, spacing) {
				clash = i
				break
			}
		}
		if clash >= 0 {
			kept[clash].absorb(c.Candidate)
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Actual < kept[j].Actual })
	return kept
}

// applyBudget keeps the n best survivors and returns them in time order.
func applyBudget(in []Selected, n int) []Selected {
	if len(in) <= n {
		return in
	}
	ranked := make([]Selected, len(in))
	copy(ranked, in)
	sort.SliceStable(ranked, func(i, j int) bool { return rankLess(ranked[i], ranked[j]) })
	ranked = ranked[:n]
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Actual < ranked[j].Actual })
	return ranked
}
