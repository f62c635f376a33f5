package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, keyframe.StrategyHybrid, cfg.Extraction.Strategy)
	assert.Equal(t, 20, cfg.Extraction.MaxFrames)
	assert.Equal(t, "base", cfg.Transcription.ModelSize)
	assert.False(t, cfg.Publish.Enabled())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Extraction, cfg.Extraction)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
concurrency: 6
extraction:
  strategy: scene
  max_frames_per_video: 8
  min_spacing_seconds: 2.5
  keywords: [click, "save as"]
transcription:
  provider: none
  corrections:
    get hub: GitHub
server:
  addr: 127.0.0.1:9090
  read_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Concurrency)
	assert.Equal(t, keyframe.StrategyScene, cfg.Extraction.Strategy)
	assert.Equal(t, 8, cfg.Extraction.MaxFrames)
	assert.InDelta(t, 2.5, cfg.Extraction.MinSpacing, 1e-9)
	assert.Equal(t, []string{"click", "save as"}, cfg.Extraction.Keywords)
	// untouched keys keep their defaults
	assert.InDelta(t, 0.3, cfg.Extraction.SceneThreshold, 1e-9)
	assert.Equal(t, "GitHub", cfg.Transcription.Corrections["get hub"])
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "concurrency: 3\n")
	t.Setenv("FRAMEWISE_CONCURRENCY", "5")
	t.Setenv("FRAMEWISE_EXTRACTION_MAXFRAMES", "12")
	t.Setenv("FRAMEWISE_QA_MODEL", "llama3")
	t.Setenv("FRAMEWISE_PUBLISH_ENDPOINT", "localhost:9000")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 12, cfg.Extraction.MaxFrames)
	assert.Equal(t, "llama3", cfg.QA.Model)
	assert.Equal(t, "sk-test", cfg.QA.APIKey)
	assert.True(t, cfg.Publish.Enabled())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero max frames", "extraction:\n  max_frames_per_video: 0\n"},
		{"threshold above one", "extraction:\n  scene_threshold: 1.5\n"},
		{"unknown strategy", "extraction:\n  strategy: magic\n"},
		{"unknown provider", "transcription:\n  provider: dictaphone\n"},
		{"assemblyai without key", "transcription:\n  provider: assemblyai\n"},
		{"zero concurrency", "concurrency: 0\n"},
		{"bad base url", "qa:\n  base_url: \"::not a url\"\n"},
		{"not yaml", "extraction: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ASSEMBLYAI_API_KEY", "")
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 7
	cfg.Extraction.Strategy = keyframe.StrategyTranscript
	cfg.Transcription.Corrections["ffmpeg"] = "FFmpeg"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Concurrency)
	assert.Equal(t, keyframe.StrategyTranscript, loaded.Extraction.Strategy)
	assert.Equal(t, "FFmpeg", loaded.Transcription.Corrections["ffmpeg"])
}

func TestContext(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 9

	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
	assert.Equal(t, 2, FromContext(context.Background()).Concurrency)
}
