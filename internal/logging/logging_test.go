package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriterJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	InitWriter(&buf, false, true)

	logger := WithComponent("extractor")
	logger.Debug().Msg("hidden")
	logger.Info().Str("video", "demo.mp4").Msg("extracting keyframes")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "extractor", entry["component"])
	assert.Equal(t, "demo.mp4", entry["video"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestInitWriterVerboseConsole(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	InitWriter(&buf, true, false)

	logger := NewLogger()
	logger.Debug().Msg("scene scan finished")
	assert.Contains(t, buf.String(), "scene scan finished")
	assert.Contains(t, buf.String(), "DBG")
}

func TestNewLoggerMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewLogger(&a, &b)
	logger.Warn().Msg("dropping frame")

	assert.Contains(t, a.String(), "dropping frame")
	assert.Equal(t, a.String(), b.String())
}
