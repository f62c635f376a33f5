package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/internal/metrics"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/kikiluvv/framewise/pkg/util"
	"github.com/rs/zerolog"
)

// Pipeline orchestrates transcription, extraction, indexing and publishing
// for one video at a time, or for many through RunBatch.
type Pipeline struct {
	logger      zerolog.Logger
	config      Config
	extractor   Extractor
	transcriber transcript.Transcriber
	volume      VolumeAnalyzer
	corrector   *transcript.Corrector
	embedder    FrameEmbedder
	index       Indexer
	publisher   Publisher
}

// New creates a new pipeline instance. Transcription, indexing and
// publishing are off until enabled with the With* methods.
func New(logger zerolog.Logger, cfg Config, extractor Extractor) (*Pipeline, error) {
	if extractor == nil {
		return nil, errors.New("pipeline needs an extractor")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	p := &Pipeline{
		logger:    logger.With().Str("component", "pipeline").Logger(),
		config:    cfg,
		extractor: extractor,
	}
	if len(cfg.Corrections) > 0 {
		p.corrector = transcript.NewCorrector(cfg.Corrections)
	}
	return p, nil
}

// WithTranscriber enables transcription. volume may be nil to skip the
// silence check.
func (p *Pipeline) WithTranscriber(tr transcript.Transcriber, volume VolumeAnalyzer) *Pipeline {
	p.transcriber = tr
	p.volume = volume
	return p
}

// WithIndex embeds and stores every extraction.
func (p *Pipeline) WithIndex(embedder FrameEmbedder, index Indexer) *Pipeline {
	p.embedder = embedder
	p.index = index
	return p
}

// WithPublisher uploads every extraction.
func (p *Pipeline) WithPublisher(pub Publisher) *Pipeline {
	p.publisher = pub
	return p
}

// Process runs every enabled stage for one video.
func (p *Pipeline) Process(ctx context.Context, job Job) (*JobResult, error) {
	start := time.Now()
	res := &JobResult{VideoPath: job.VideoPath, TranscriptSource: SourceNone}

	err := p.process(ctx, job, res)
	res.Elapsed = time.Since(start)
	res.Err = err
	if err != nil {
		p.logger.Error().Err(err).Str("video", job.VideoPath).Msg("processing failed")
		return res, err
	}

	p.logger.Info().
		Str("video", job.VideoPath).
		Str("transcript", string(res.TranscriptSource)).
		Int("frames", len(res.Extraction.Frames)).
		Int("indexed", res.Indexed).
		Dur("elapsed", res.Elapsed).
		Msg("video processed")
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, job Job, res *JobResult) error {
	if job.VideoPath == "" {
		return fmt.Errorf("video path cannot be empty")
	}
	if !util.FileExists(job.VideoPath) {
		return fmt.Errorf("%w: %s", keyframe.ErrVideoNotFound, job.VideoPath)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 1: transcript
	if err := p.loadTranscript(ctx, job, res); err != nil {
		return err
	}
	if res.Transcript != nil && p.corrector != nil {
		res.Transcript = p.corrector.Correct(res.Transcript)
	}

	// Stage 2: keyframes
	outDir := job.OutputDir
	if outDir == "" && p.config.FramesDir != "" {
		outDir = filepath.Join(p.config.FramesDir, util.Stem(job.VideoPath))
	}
	extraction, err := p.extractor.Extract(ctx, keyframe.Request{
		VideoPath:  job.VideoPath,
		Transcript: res.Transcript,
		OutputDir:  outDir,
	})
	if err != nil {
		return fmt.Errorf("failed to extract keyframes: %w", err)
	}
	res.Extraction = extraction

	// Stage 3: embeddings and index
	if p.embedder != nil && p.index != nil {
		n, err := p.indexFrames(ctx, job.VideoPath, extraction)
		if err != nil {
			return fmt.Errorf("failed to index frames: %w", err)
		}
		res.Indexed = n
	}

	// Stage 4: object storage
	if p.publisher != nil {
		pub, err := p.publisher.Publish(ctx, extraction.OutputDir, "")
		if err != nil {
			return fmt.Errorf("failed to publish frames: %w", err)
		}
		res.Published = pub
	}
	return nil
}

// loadTranscript picks an explicit file, then the cache, then the
// transcriber. A failed transcription degrades to extraction without a
// transcript.
func (p *Pipeline) loadTranscript(ctx context.Context, job Job, res *JobResult) error {
	log := p.logger.With().Str("video", job.VideoPath).Logger()

	if job.NoTranscript {
		return nil
	}

	if job.TranscriptPath != "" {
		t, err := transcript.Load(job.TranscriptPath)
		if err != nil {
			return err
		}
		res.Transcript, res.TranscriptPath, res.TranscriptSource = t, job.TranscriptPath, SourceFile
		return nil
	}

	var cachePath string
	if p.config.TranscriptDir != "" {
		cachePath = transcript.PathFor(p.config.TranscriptDir, job.VideoPath)
		if !job.Refresh && util.FileExists(cachePath) {
			t, err := transcript.Load(cachePath)
			if err == nil {
				log.Debug().Str("path", cachePath).Msg("using cached transcript")
				res.Transcript, res.TranscriptPath, res.TranscriptSource = t, cachePath, SourceCache
				return nil
			}
			log.Warn().Err(err).Str("path", cachePath).Msg("cached transcript unreadable, transcribing again")
		}
	}

	if p.transcriber == nil {
		return nil
	}

	if p.volume != nil {
		stats, err := p.volume.AnalyzeVolume(ctx, job.VideoPath)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn().Err(err).Msg("volume analysis failed, skipping transcription")
			res.TranscriptSource = SourceSilent
			return nil
		case stats.Silent(p.config.SilenceFloorDB):
			log.Info().
				Float64("max_volume", stats.MaxVolume).
				Float64("floor", p.config.SilenceFloorDB).
				Msg("audio is silent, skipping transcription")
			res.TranscriptSource = SourceSilent
			return nil
		}
	}

	t, err := p.transcriber.Transcribe(ctx, job.VideoPath, p.config.Transcription)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("transcription failed, extracting without transcript")
		res.TranscriptSource = SourceFailed
		return nil
	}
	res.Transcript, res.TranscriptSource = t, SourceTranscribed

	if cachePath != "" {
		if err := t.Save(cachePath); err != nil {
			log.Warn().Err(err).Str("path", cachePath).Msg("failed to cache transcript")
		} else {
			res.TranscriptPath = cachePath
		}
	}
	return nil
}

func (p *Pipeline) indexFrames(ctx context.Context, videoPath string, extraction *keyframe.Result) (int, error) {
	m, err := keyframe.ReadManifest(extraction.ManifestPath)
	if err != nil {
		return 0, err
	}
	embs, err := p.embedder.EmbedFrames(ctx, extraction.OutputDir, m)
	if err != nil {
		return 0, err
	}

	key := videoPath
	if abs, err := filepath.Abs(videoPath); err == nil {
		key = abs
	}
	recs := store.FromEmbeddings(key, embs)
	if err := p.index.ReplaceVideo(ctx, key, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// RunBatch processes jobs on a bounded worker pool. One failed video never
// stops the others; cancelling ctx marks jobs that have not started.
func (p *Pipeline) RunBatch(ctx context.Context, jobs []Job) *BatchResult {
	start := time.Now()
	batch := &BatchResult{Results: make([]JobResult, len(jobs))}

	p.logger.Info().
		Int("videos", len(jobs)).
		Int("workers", p.config.Workers).
		Msg("starting batch")

	sem := make(chan struct{}, p.config.Workers)
	var wg sync.WaitGroup

	for i, job := range jobs {
		select {
		case <-ctx.Done():
			batch.Results[i] = JobResult{VideoPath: job.VideoPath, TranscriptSource: SourceNone, Err: ctx.Err()}
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer func() { <-sem }()

			metrics.VideosInFlight.Inc()
			defer metrics.VideosInFlight.Dec()

			res, _ := p.Process(ctx, job)
			batch.Results[i] = *res
		}(i, job)
	}
	wg.Wait()

	for _, r := range batch.Results {
		if r.Err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}
	batch.Elapsed = time.Since(start)

	p.logger.Info().
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Dur("elapsed", batch.Elapsed).
		Msg("batch complete")
	return batch
}
