package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_frames_extracted_total",
		Help: "Keyframes written to disk, by extraction strategy",
	}, []string{"strategy"})

	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_candidates_total",
		Help: "Candidate timestamps proposed, by source",
	}, []string{"source"})

	DecodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framewise_decode_failures_total",
		Help: "Candidate timestamps skipped because the frame could not be decoded",
	})

	WriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framewise_write_failures_total",
		Help: "Selected frames dropped because the image could not be written",
	})

	QualityRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framewise_quality_rejections_total",
		Help: "Candidate frames dropped below the quality threshold",
	})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framewise_extraction_duration_seconds",
		Help:    "Wall time of one video extraction",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"strategy", "status"})

	VideosInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framewise_videos_in_flight",
		Help: "Videos currently being processed by batch workers",
	})

	QuestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framewise_questions_total",
		Help: "Questions answered, by outcome",
	}, []string{"status"})
)
