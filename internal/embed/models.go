package embed

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// TextEncoder maps texts to unit-length vectors.
type TextEncoder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageEncoder maps images to unit-length vectors.
type ImageEncoder interface {
	EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error)
}

// Config locates the ONNX models. Empty paths disable the matching encoder,
// except TextModel which is required.
type Config struct {
	RuntimeLibrary string
	TextModel      string
	Tokenizer      string
	ImageModel     string
	// ImageTextModel is the CLIP text tower; with it text queries can search
	// image vectors.
	ImageTextModel string
	ImageTokenizer string
	MaxTokens      int
	Threads        int
}

// Models owns the ONNX Runtime environment and the sessions created in it.
// Only one Models may be open at a time.
type Models struct {
	logger    zerolog.Logger
	Text      *MiniLMEncoder
	Image     *CLIPImageEncoder
	ImageText *CLIPTextEncoder
}

// Open initializes ONNX Runtime and loads every configured model.
func Open(logger zerolog.Logger, cfg Config) (*Models, error) {
	logger = logger.With().Str("component", "embed").Logger()

	if cfg.TextModel == "" || cfg.Tokenizer == "" {
		return nil, errors.New("text model and tokenizer are required")
	}
	for _, path := range []string{cfg.TextModel, cfg.Tokenizer, cfg.ImageModel, cfg.ImageTextModel, cfg.ImageTokenizer} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model file not found: %s", path)
		}
	}

	if cfg.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(cfg.RuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	m := &Models{logger: logger}
	if err := m.load(cfg); err != nil {
		m.Close()
		return nil, err
	}

	logger.Info().
		Str("text_model", cfg.TextModel).
		Str("image_model", cfg.ImageModel).
		Bool("image_text", m.ImageText != nil).
		Msg("embedding models loaded")
	return m, nil
}

func (m *Models) load(cfg Config) error {
	var err error
	m.Text, err = NewMiniLMEncoder(cfg.TextModel, cfg.Tokenizer, cfg.MaxTokens, cfg.Threads)
	if err != nil {
		return err
	}
	if cfg.ImageModel != "" {
		m.Image, err = NewCLIPImageEncoder(cfg.ImageModel, cfg.Threads)
		if err != nil {
			return err
		}
	}
	if cfg.ImageTextModel != "" && cfg.ImageTokenizer != "" {
		m.ImageText, err = NewCLIPTextEncoder(cfg.ImageTextModel, cfg.ImageTokenizer, cfg.Threads)
		if err != nil {
			return err
		}
	}
	return nil
}

// Embedder builds an Embedder over the loaded encoders.
func (m *Models) Embedder(batchSize int) *Embedder {
	e := NewEmbedder(m.logger, m.Text, batchSize)
	if m.Image != nil {
		e = e.WithImages(m.Image)
	}
	if m.ImageText != nil {
		e = e.WithImageQueries(m.ImageText)
	}
	return e
}

// Close destroys the sessions and then the environment.
func (m *Models) Close() error {
	var errs []error
	if m.Text != nil {
		errs = append(errs, m.Text.Close())
	}
	if m.Image != nil {
		errs = append(errs, m.Image.Close())
	}
	if m.ImageText != nil {
		errs = append(errs, m.ImageText.Close())
	}
	errs = append(errs, ort.DestroyEnvironment())
	return errors.Join(errs...)
}

func newSessionOptions(threads int) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(threads); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to set thread count: %w", err)
	}
	return opts, nil
}

// runFloat runs the session with a single auto-allocated float32 output and
// returns a copy of its data and shape.
func runFloat(session *ort.DynamicAdvancedSession, inputs []ort.Value) ([]float32, ort.Shape, error) {
	outputs := make([]ort.Value, 1)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, errors.New("output tensor is not float32 type")
	}
	data := make([]float32, len(tensor.GetData()))
	copy(data, tensor.GetData())
	return data, tensor.GetShape().Clone(), nil
}
