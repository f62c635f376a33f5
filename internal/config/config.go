package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix namespaces environment overrides, e.g. FRAMEWISE_CONCURRENCY.
const EnvPrefix = "FRAMEWISE"

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir" envconfig:"WORK_DIR"`
	TempDir     string `yaml:"temp_dir" envconfig:"TEMP_DIR"`
	Concurrency int    `yaml:"concurrency" envconfig:"CONCURRENCY" validate:"gte=1,lte=64"`

	// Keyframe selection
	Extraction keyframe.Options `yaml:"extraction" envconfig:"EXTRACTION"`

	Transcription TranscriptionConfig `yaml:"transcription" envconfig:"TRANSCRIPTION"`
	Embedding     EmbeddingConfig     `yaml:"embedding" envconfig:"EMBEDDING"`
	Store         StoreConfig         `yaml:"store" envconfig:"STORE"`
	QA            QAConfig            `yaml:"qa" envconfig:"QA"`
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Publish       PublishConfig       `yaml:"publish" envconfig:"PUBLISH"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg" envconfig:"FFMPEG"`
}

type TranscriptionConfig struct {
	// Provider is whisper, assemblyai or none.
	Provider       string            `yaml:"provider" envconfig:"PROVIDER" validate:"oneof=whisper assemblyai none"`
	ModelSize      string            `yaml:"model_size" envconfig:"MODEL_SIZE" validate:"oneof=tiny base small medium large"`
	Language       string            `yaml:"language" envconfig:"LANGUAGE"`
	WhisperBinary  string            `yaml:"whisper_binary" envconfig:"WHISPER_BINARY"`
	WhisperModels  string            `yaml:"whisper_model_dir" envconfig:"WHISPER_MODEL_DIR"`
	Threads        int               `yaml:"threads" envconfig:"THREADS" validate:"gte=0"`
	AssemblyAIKey  string            `yaml:"assemblyai_api_key" envconfig:"ASSEMBLYAI_API_KEY"`
	PollInterval   time.Duration     `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	Timeout        time.Duration     `yaml:"timeout" envconfig:"TIMEOUT"`
	OutputDir      string            `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	SilenceFloorDB float64           `yaml:"silence_floor_db" envconfig:"SILENCE_FLOOR_DB" validate:"lte=0"`
	Corrections    map[string]string `yaml:"corrections" envconfig:"CORRECTIONS"`
}

type EmbeddingConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED"`
	RuntimeLibrary string `yaml:"runtime_library" envconfig:"RUNTIME_LIBRARY"`
	TextModel      string `yaml:"text_model" envconfig:"TEXT_MODEL"`
	Tokenizer      string `yaml:"tokenizer" envconfig:"TOKENIZER"`
	ImageModel     string `yaml:"image_model" envconfig:"IMAGE_MODEL"`
	ImageTextModel string `yaml:"image_text_model" envconfig:"IMAGE_TEXT_MODEL"`
	ImageTokenizer string `yaml:"image_tokenizer" envconfig:"IMAGE_TOKENIZER"`
	MaxTokens      int    `yaml:"max_tokens" envconfig:"MAX_TOKENS" validate:"gte=8,lte=512"`
	BatchSize      int    `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gte=1"`
	Threads        int    `yaml:"threads" envconfig:"THREADS" validate:"gte=0"`
}

type StoreConfig struct {
	Path string `yaml:"path" envconfig:"PATH" validate:"required"`
}

type QAConfig struct {
	BaseURL       string  `yaml:"base_url" envconfig:"BASE_URL" validate:"omitempty,url"`
	APIKey        string  `yaml:"api_key" envconfig:"API_KEY"`
	Model         string  `yaml:"model" envconfig:"MODEL" validate:"required"`
	Temperature   float64 `yaml:"temperature" envconfig:"TEMPERATURE" validate:"gte=0,lte=2"`
	MaxRetries    int     `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"gte=0"`
	NumResults    int     `yaml:"num_results" envconfig:"NUM_RESULTS" validate:"gte=1,lte=50"`
	IncludeImages bool    `yaml:"include_images" envconfig:"INCLUDE_IMAGES"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type PublishConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET" validate:"required_with=Endpoint"`
	Region    string `yaml:"region" envconfig:"REGION"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// Enabled reports whether an object store is configured.
func (p PublishConfig) Enabled() bool {
	return p.Endpoint != ""
}

type FFmpegConfig struct {
	BinaryPath  string `yaml:"binary_path" envconfig:"BINARY_PATH"`
	ProbePath   string `yaml:"probe_path" envconfig:"PROBE_PATH"`
	Threads     int    `yaml:"threads" envconfig:"THREADS" validate:"gte=0"`
	SampleWidth int    `yaml:"sample_width" envconfig:"SAMPLE_WIDTH" validate:"gte=16"`
}

var validate = validator.New()

// Load reads configuration from file or returns defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applyKeyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyKeyFallbacks picks up provider keys under their usual names.
func (c *Config) applyKeyFallbacks() {
	if c.QA.APIKey == "" {
		c.QA.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Transcription.AssemblyAIKey == "" {
		c.Transcription.AssemblyAIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Transcription.Provider == "assemblyai" && c.Transcription.AssemblyAIKey == "" {
		return fmt.Errorf("invalid configuration: transcription.assemblyai_api_key is required for the assemblyai provider")
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:     "./work",
		TempDir:     os.TempDir(),
		Concurrency: 2,
		Extraction:  keyframe.DefaultOptions(),
		Transcription: TranscriptionConfig{
			Provider:       "whisper",
			ModelSize:      "base",
			WhisperBinary:  "whisper-cli",
			WhisperModels:  "./models/whisper",
			PollInterval:   3 * time.Second,
			Timeout:        30 * time.Minute,
			OutputDir:      "./transcripts",
			SilenceFloorDB: -60,
			Corrections:    make(map[string]string),
		},
		Embedding: EmbeddingConfig{
			Enabled:    false,
			TextModel:  "./models/all-MiniLM-L6-v2/model.onnx",
			Tokenizer:  "./models/all-MiniLM-L6-v2/tokenizer.json",
			ImageModel: "./models/clip-vit-base-patch32/vision_model.onnx",
			MaxTokens:  128,
			BatchSize:  16,
		},
		Store: StoreConfig{
			Path: "./framewise.db",
		},
		QA: QAConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxRetries:  3,
			NumResults:  5,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Publish: PublishConfig{
			Bucket: "framewise",
		},
		FFmpeg: FFmpegConfig{
			Threads:     0,
			SampleWidth: 320,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".framewise", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
