package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tutorialSegments() []Segment {
	return []Segment{
		{Start: 0, End: 2, Text: "Welcome to this tutorial"},
		{Start: 2, End: 4, Text: "Click the export button"},
		{Start: 4, End: 6, Text: "Select your file format"},
		{Start: 6, End: 8, Text: "Press the save icon"},
		{Start: 8, End: 10, Text: "Your file is now exported"},
	}
}

func TestNewBuildsFullText(t *testing.T) {
	tr := New("tutorial.mp4", "en", tutorialSegments())

	assert.Equal(t, "Welcome to this tutorial Click the export button Select your file format Press the save icon Your file is now exported", tr.FullText)
	assert.Equal(t, 10.0, tr.Duration())
	assert.Equal(t, 5, tr.Len())
	require.NoError(t, tr.Validate())
}

func TestSegmentValidate(t *testing.T) {
	assert.NoError(t, Segment{Start: 1, End: 2}.Validate())
	assert.ErrorIs(t, Segment{Start: 2, End: 2}.Validate(), ErrInvalidSegment)
	assert.ErrorIs(t, Segment{Start: -1, End: 2}.Validate(), ErrInvalidSegment)

	tr := New("v.mp4", "en", []Segment{{Start: 3, End: 4}, {Start: 1, End: 2}})
	assert.ErrorIs(t, tr.Validate(), ErrInvalidSegment)
}

func TestSegmentAt(t *testing.T) {
	tr := New("tutorial.mp4", "en", []Segment{
		{Start: 0, End: 2, Text: "a"},
		{Start: 2, End: 4, Text: "b"},
		{Start: 5, End: 6, Text: "c"},
	})

	tests := []struct {
		ts   float64
		want int
	}{
		{0, 0},
		{1.99, 0},
		{2, 1},
		{3.5, 1},
		{4, -1},
		{4.5, -1},
		{5.5, 2},
		{6, -1},
		{-1, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.SegmentAt(tt.ts), "ts=%v", tt.ts)
	}

	var empty *Transcript
	assert.Equal(t, -1, empty.SegmentAt(1))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tutorial_transcript.json")

	orig := New("tutorial.mp4", "en", tutorialSegments())
	require.NoError(t, orig.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig.Segments, loaded.Segments)
	assert.Equal(t, orig.FullText, loaded.FullText)
	assert.Equal(t, "tutorial.mp4", loaded.VideoPath)
	assert.Equal(t, "en", loaded.Language)
}

func TestLoadEmptySegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"video_path":"v.mp4","language":"en","full_text":""}`), 0644))

	tr, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, tr.Segments)
	assert.Equal(t, 0, tr.Len())
}

func TestLoadRejectsBadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"segments":[{"start":3,"end":1,"text":"x"}]}`), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidSegment)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "lesson_transcript.json"), PathFor("out", "/videos/lesson.mp4"))
}

func TestCorrector(t *testing.T) {
	c := NewCorrector(map[string]string{
		"defali":      "Definely",
		"open defali": "Open Definely",
		"tablo":       "Tableau",
	})

	orig := New("v.mp4", "en", []Segment{
		{Start: 0, End: 1, Text: "Click open Defali to start"},
		{Start: 1, End: 2, Text: "Export from tablo, not tablorama"},
	})
	fixed := c.Correct(orig)

	assert.Equal(t, "Click Open Definely to start", fixed.Segments[0].Text)
	assert.Equal(t, "Export from Tableau, not tablorama", fixed.Segments[1].Text)
	assert.Equal(t, "Click Open Definely to start Export from Tableau, not tablorama", fixed.FullText)
	assert.Equal(t, "Click open Defali to start", orig.Segments[0].Text)
}

func TestParseWhisperJSON(t *testing.T) {
	data := []byte(`{
		"result": {"language": "en"},
		"transcription": [
			{"offsets": {"from": 0, "to": 2000}, "text": " Welcome to this tutorial"},
			{"offsets": {"from": 2000, "to": 2000}, "text": " dropped"},
			{"offsets": {"from": 2000, "to": 4500}, "text": " Click the export button"},
			{"offsets": {"from": 4500, "to": 5000}, "text": "   "}
		]
	}`)

	tr, err := parseWhisperJSON(data, "v.mp4")
	require.NoError(t, err)
	assert.Equal(t, "en", tr.Language)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, Segment{Start: 2, End: 4.5, Text: "Click the export button"}, tr.Segments[1])

	_, err = parseWhisperJSON([]byte("nope"), "v.mp4")
	assert.Error(t, err)
}

func TestGroupSentences(t *testing.T) {
	words := []word{
		{0.0, 0.4, "Click"},
		{0.4, 0.6, "the"},
		{0.6, 1.2, "button."},
		{1.5, 1.9, "Now"},
		{1.9, 2.4, "save"},
	}
	segs := groupSentences(words)
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Start: 0, End: 1.2, Text: "Click the button."}, segs[0])
	assert.Equal(t, Segment{Start: 1.5, End: 2.4, Text: "Now save"}, segs[1])

	assert.Empty(t, groupSentences(nil))
}

type fakeTranscriber struct {
	fail map[string]bool
}

func (f fakeTranscriber) Transcribe(_ context.Context, video string, _ Options) (*Transcript, error) {
	if f.fail[video] {
		return nil, errors.New("boom")
	}
	return New(video, "en", tutorialSegments()), nil
}

func TestExtractBatchContinuesPastFailures(t *testing.T) {
	out := t.TempDir()
	videos := []string{"/v/a.mp4", "/v/b.mp4", "/v/c.mp4"}
	items := ExtractBatch(context.Background(), zerolog.Nop(), fakeTranscriber{fail: map[string]bool{"/v/b.mp4": true}}, videos, out, Options{})

	require.Len(t, items, 3)
	assert.NoError(t, items[0].Err)
	assert.Error(t, items[1].Err)
	assert.NoError(t, items[2].Err)
	assert.FileExists(t, filepath.Join(out, "a_transcript.json"))
	assert.FileExists(t, filepath.Join(out, "c_transcript.json"))
	assert.NoFileExists(t, filepath.Join(out, "b_transcript.json"))
	assert.Equal(t, 5, items[2].Segments)
}

func TestExtractBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := ExtractBatch(ctx, zerolog.Nop(), fakeTranscriber{}, []string{"/v/a.mp4"}, t.TempDir(), Options{})
	require.Len(t, items, 1)
	assert.ErrorIs(t, items[0].Err, context.Canceled)
}

func TestModelSize(t *testing.T) {
	s, err := Options{}.modelSize()
	require.NoError(t, err)
	assert.Equal(t, "base", s)

	_, err = Options{ModelSize: "huge"}.modelSize()
	assert.Error(t, err)
}
