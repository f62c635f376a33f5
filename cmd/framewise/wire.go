package main

import (
	"errors"
	"fmt"

	"github.com/kikiluvv/framewise/internal/config"
	"github.com/kikiluvv/framewise/internal/embed"
	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/internal/publish"
	"github.com/kikiluvv/framewise/internal/qa"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/kikiluvv/framewise/internal/video"
	"github.com/rs/zerolog/log"
)

func newMedia(cfg *config.Config) (*ffmpeg.Executor, error) {
	return ffmpeg.New(log.Logger, video.ResolveConfig(ffmpeg.Config{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.ProbePath,
		Threads:     cfg.FFmpeg.Threads,
	}))
}

func newExtractor(cfg *config.Config, media *ffmpeg.Executor, opts keyframe.Options) (*keyframe.Extractor, error) {
	opener := video.NewOpener(log.Logger, media, cfg.FFmpeg.SampleWidth)
	return keyframe.NewExtractor(log.Logger, opener, opts)
}

// newTranscriber returns nil for the "none" provider.
func newTranscriber(cfg *config.Config, media *ffmpeg.Executor) (transcript.Transcriber, error) {
	tc := cfg.Transcription
	switch tc.Provider {
	case "whisper":
		tr, err := transcript.NewWhisperTranscriber(log.Logger, media, transcript.WhisperConfig{
			BinaryPath: tc.WhisperBinary,
			ModelDir:   tc.WhisperModels,
			Threads:    tc.Threads,
			TempDir:    cfg.TempDir,
		})
		if err != nil {
			return nil, err
		}
		return tr, nil
	case "assemblyai":
		tr, err := transcript.NewAssemblyAITranscriber(log.Logger, media, transcript.AssemblyAIConfig{
			APIKey:       tc.AssemblyAIKey,
			PollInterval: tc.PollInterval,
			Timeout:      tc.Timeout,
			TempDir:      cfg.TempDir,
		})
		if err != nil {
			return nil, err
		}
		return tr, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", tc.Provider)
	}
}

func transcribeOptions(cfg *config.Config) transcript.Options {
	return transcript.Options{
		ModelSize: cfg.Transcription.ModelSize,
		Language:  cfg.Transcription.Language,
	}
}

func openModels(cfg *config.Config) (*embed.Models, error) {
	ec := cfg.Embedding
	return embed.Open(log.Logger, embed.Config{
		RuntimeLibrary: ec.RuntimeLibrary,
		TextModel:      ec.TextModel,
		Tokenizer:      ec.Tokenizer,
		ImageModel:     ec.ImageModel,
		ImageTextModel: ec.ImageTextModel,
		ImageTokenizer: ec.ImageTokenizer,
		MaxTokens:      ec.MaxTokens,
		Threads:        ec.Threads,
	})
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.Path, log.Logger)
}

func newPublisher(cfg *config.Config) (*publish.Publisher, error) {
	pc := cfg.Publish
	if !pc.Enabled() {
		return nil, errors.New("publish.endpoint is not configured")
	}
	return publish.New(log.Logger, publish.Config{
		Endpoint:  pc.Endpoint,
		AccessKey: pc.AccessKey,
		SecretKey: pc.SecretKey,
		Bucket:    pc.Bucket,
		Region:    pc.Region,
		UseSSL:    pc.UseSSL,
	})
}

func newChat(cfg *config.Config) (*qa.OpenAIChat, error) {
	return qa.NewOpenAIChat(log.Logger, qa.OpenAIConfig{
		BaseURL:     cfg.QA.BaseURL,
		APIKey:      cfg.QA.APIKey,
		Model:       cfg.QA.Model,
		Temperature: cfg.QA.Temperature,
		MaxRetries:  cfg.QA.MaxRetries,
	})
}

func qaOptions(cfg *config.Config) qa.Options {
	return qa.Options{
		NumResults:    cfg.QA.NumResults,
		SearchType:    store.SearchHybrid,
		IncludeImages: cfg.QA.IncludeImages,
	}
}

// index bundles the open models and store; close releases both.
type index struct {
	models   *embed.Models
	store    *store.Store
	embedder *embed.Embedder
}

func openIndex(cfg *config.Config) (*index, error) {
	models, err := openModels(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding models: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		models.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &index{
		models:   models,
		store:    st,
		embedder: models.Embedder(cfg.Embedding.BatchSize),
	}, nil
}

func (ix *index) close() {
	if err := ix.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing store failed")
	}
	if err := ix.models.Close(); err != nil {
		log.Warn().Err(err).Msg("releasing models failed")
	}
}
