package keyframe

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInvariants(t *testing.T, res *Result, opts Options) {
	t.Helper()
	assert.LessOrEqual(t, len(res.Frames), opts.MaxFrames)
	for i, f := range res.Frames {
		assert.GreaterOrEqual(t, f.QualityScore, opts.QualityThreshold, "frame %s", f.FrameID)
		assert.FileExists(t, f.Path)
		if i > 0 {
			prev := res.Frames[i-1]
			assert.Greater(t, f.Timestamp, prev.Timestamp)
			assert.GreaterOrEqual(t, f.Timestamp-prev.Timestamp, opts.MinSpacing)
		}
	}
}

func TestExtractTutorialScenario(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{duration: 10, fps: 10}

	opts := testOptions(t)
	opts.Strategy = StrategyHybrid
	opts.MaxFrames = 3

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{
		VideoPath:  video,
		Transcript: tutorialTranscript(video),
	})
	require.NoError(t, err)
	require.Len(t, res.Frames, 3)
	assertInvariants(t, res, opts)

	wantWords := []string{"click", "select", "press"}
	wantSegments := []int{1, 2, 3}
	for i, f := range res.Frames {
		assert.Equal(t, Keyword, f.Reason.Kind)
		assert.Equal(t, "keyword:"+wantWords[i], f.Reason.String())
		assert.Equal(t, wantSegments[i], f.SegmentIndex)
	}
	assert.InDelta(t, 3.0, res.Frames[0].Timestamp, 1e-9)
	assert.InDelta(t, 5.0, res.Frames[1].Timestamp, 1e-9)
	assert.InDelta(t, 7.0, res.Frames[2].Timestamp, 1e-9)
	assert.Equal(t, "frame_0000", res.Frames[0].FrameID)
	assert.Equal(t, filepath.Join(opts.OutputDir, "frame_0002.jpg"), res.Frames[2].Path)

	assert.Equal(t, 3, res.Stats.KeywordCandidates)
	assert.Equal(t, 5, res.Stats.BoundaryCandidates)
	assert.False(t, res.Stats.FallbackUsed)
	assert.True(t, v.closed)
}

func TestExtractSceneOnlyWithoutTranscript(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{
		duration: 10,
		fps:      10,
		spans: []span{
			{0, 4, sceneA},
			{4, 7, sceneB},
			{7, 10, sceneA},
		},
	}

	opts := testOptions(t)
	opts.Strategy = StrategyScene
	opts.SceneThreshold = 0.3

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video})
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)
	assertInvariants(t, res, opts)

	for _, f := range res.Frames {
		assert.Equal(t, "scene_change", f.Reason.String())
		assert.False(t, f.HasSegment())
		assert.Greater(t, f.SceneChangeScore, 0.3)
	}
	assert.InDelta(t, 4.0, res.Frames[0].Timestamp, 1e-9)
	assert.InDelta(t, 7.0, res.Frames[1].Timestamp, 1e-9)
}

func TestSceneStrategyNeverUsesKeywords(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{duration: 10, fps: 10, spans: []span{{0, 5, sceneA}, {5, 10, sceneB}}}

	opts := testOptions(t)
	opts.Strategy = StrategyScene

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{
		VideoPath:  video,
		Transcript: tutorialTranscript(video),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Frames)
	for _, f := range res.Frames {
		assert.False(t, strings.HasPrefix(f.Reason.String(), "keyword:"))
	}
	assert.Zero(t, res.Stats.KeywordCandidates)
}

func TestEmptyTranscript(t *testing.T) {
	video := videoFile(t)
	empty := transcript.New(video, "en", nil)

	t.Run("transcript strategy yields nothing", func(t *testing.T) {
		opts := testOptions(t)
		opts.Strategy = StrategyTranscript

		res, err := newTestExtractor(t, &fakeVideo{duration: 10, fps: 10}, opts).Extract(context.Background(), Request{
			VideoPath:  video,
			Transcript: empty,
		})
		require.NoError(t, err)
		assert.Empty(t, res.Frames)
		assert.Zero(t, res.Stats.Merged)
		assert.FileExists(t, res.ManifestPath)
	})

	t.Run("hybrid falls back to uniform samples", func(t *testing.T) {
		opts := testOptions(t)
		opts.Strategy = StrategyHybrid
		opts.MaxFrames = 3

		res, err := newTestExtractor(t, &fakeVideo{duration: 10, fps: 10}, opts).Extract(context.Background(), Request{
			VideoPath:  video,
			Transcript: empty,
		})
		require.NoError(t, err)
		require.Len(t, res.Frames, 3)
		assertInvariants(t, res, opts)
		for _, f := range res.Frames {
			assert.Equal(t, UniformSample, f.Reason.Kind)
		}
		assert.True(t, res.Stats.SparsePadding)
	})
}

func TestQualityGateRunsBeforeBudget(t *testing.T) {
	video := videoFile(t)
	// keyword moments land on blank frames; only the later scene is usable
	v := &fakeVideo{
		duration: 10,
		fps:      10,
		spans:    []span{{0, 5, blank}, {5, 10, sceneA}},
	}
	tr := transcript.New(video, "en", []transcript.Segment{
		{Start: 0, End: 2, Text: "Click here"},
		{Start: 2, End: 4, Text: "Now press enter"},
	})

	opts := testOptions(t)
	opts.Strategy = StrategyHybrid
	opts.MaxFrames = 1
	opts.UseBoundaries = false

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video, Transcript: tr})
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, SceneChange, res.Frames[0].Reason.Kind)
	assert.InDelta(t, 5.0, res.Frames[0].Timestamp, 1e-9)
	assert.Equal(t, 2, res.Stats.QualityRejected)
}

func TestHybridFallbackRetriesOnce(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{
		duration: 10,
		fps:      10,
		spans:    []span{{0, 5, blank}, {5, 10, sceneA}},
	}
	tr := transcript.New(video, "en", []transcript.Segment{{Start: 0, End: 2, Text: "Click here"}})

	opts := testOptions(t)
	opts.MaxFrames = 2
	opts.MinFrames = 2
	opts.UseBoundaries = false

	t.Run("hybrid", func(t *testing.T) {
		opts := opts
		opts.Strategy = StrategyHybrid
		opts.OutputDir = filepath.Join(t.TempDir(), "out")

		res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video, Transcript: tr})
		require.NoError(t, err)
		assert.True(t, res.Stats.FallbackUsed)
		require.Len(t, res.Frames, 2)
		assertInvariants(t, res, opts)
		assert.Equal(t, SceneChange, res.Frames[0].Reason.Kind)
		assert.InDelta(t, 5.0, res.Frames[0].Timestamp, 1e-9)
		assert.Equal(t, UniformSample, res.Frames[1].Reason.Kind)
		assert.InDelta(t, 6.3, res.Frames[1].Timestamp, 1e-9)
	})

	t.Run("scene strategy never falls back", func(t *testing.T) {
		opts := opts
		opts.Strategy = StrategyScene
		opts.OutputDir = filepath.Join(t.TempDir(), "out")

		res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video, Transcript: tr})
		require.NoError(t, err)
		assert.False(t, res.Stats.FallbackUsed)
		assert.Len(t, res.Frames, 1)
	})
}

func TestExtractDeterministic(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{
		duration: 12,
		fps:      25,
		spans:    []span{{0, 3, sceneA}, {3, 6, sceneB}, {6, 9, sceneA}, {9, 12, sceneB}},
	}

	opts := testOptions(t)
	opts.MaxFrames = 4
	ex := newTestExtractor(t, v, opts)

	type pick struct {
		ts     float64
		reason string
	}
	run := func() []pick {
		res, err := ex.Extract(context.Background(), Request{VideoPath: video, Transcript: tutorialTranscript(video)})
		require.NoError(t, err)
		assertInvariants(t, res, opts)
		out := make([]pick, 0, len(res.Frames))
		for _, f := range res.Frames {
			out = append(out, pick{f.Timestamp, f.Reason.String()})
		}
		return out
	}

	first := run()
	require.Len(t, first, 4)
	assert.Equal(t, first, run())
}

func TestExtractRejectsBadInput(t *testing.T) {
	t.Run("zero max frames", func(t *testing.T) {
		opts := testOptions(t)
		opts.MaxFrames = 0
		_, err := NewExtractor(zerolog.Nop(), (&fakeVideo{duration: 1, fps: 1}).opener(), opts)
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		opts := testOptions(t)
		opts.SceneThreshold = 1.5
		_, err := NewExtractor(zerolog.Nop(), (&fakeVideo{duration: 1, fps: 1}).opener(), opts)
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("missing video", func(t *testing.T) {
		v := &fakeVideo{duration: 10, fps: 10}
		_, err := newTestExtractor(t, v, testOptions(t)).Extract(context.Background(), Request{
			VideoPath: filepath.Join(t.TempDir(), "nope.mp4"),
		})
		assert.ErrorIs(t, err, ErrVideoNotFound)
		assert.Empty(t, v.seeks)
	})

	t.Run("zero duration", func(t *testing.T) {
		v := &fakeVideo{duration: 0, fps: 10}
		_, err := newTestExtractor(t, v, testOptions(t)).Extract(context.Background(), Request{VideoPath: videoFile(t)})
		assert.ErrorIs(t, err, ErrZeroDuration)
		assert.True(t, v.closed)
	})
}

func TestExtractNoDecodableFrames(t *testing.T) {
	v := &fakeVideo{
		duration: 10,
		fps:      10,
		spans:    []span{{0, 5, sceneA}, {5, 10, sceneB}},
		failSeek: func(float64) bool { return true },
	}
	opts := testOptions(t)
	opts.Strategy = StrategyScene

	_, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: videoFile(t)})
	assert.ErrorIs(t, err, ErrNoDecodableFrames)
}

func TestExtractUndecodableVideoSceneOnly(t *testing.T) {
	v := &fakeVideo{
		duration:   10,
		fps:        10,
		failSample: true,
		failSeek:   func(float64) bool { return true },
	}
	opts := testOptions(t)
	opts.Strategy = StrategyScene

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: videoFile(t)})
	require.ErrorIs(t, err, ErrNoDecodableFrames)
	assert.Nil(t, res)
	assert.NoFileExists(t, filepath.Join(opts.OutputDir, ManifestFileName))
	assert.True(t, v.closed)
}

// oversizedAt decodes normally except that the second seek near at returns
// a picture too wide for JPEG, so only the write of that frame fails.
type oversizedAt struct {
	*fakeVideo
	at    float64
	calls int
}

func (o *oversizedAt) Seek(ctx context.Context, ts float64) (Frame, error) {
	f, err := o.fakeVideo.Seek(ctx, ts)
	if err != nil || math.Abs(ts-o.at) > 0.1 {
		return f, err
	}
	o.calls++
	if o.calls == 2 {
		f.Image = image.NewGray(image.Rect(0, 0, 70000, 1))
	}
	return f, nil
}

func TestExtractDropsUnwritableFrame(t *testing.T) {
	video := videoFile(t)
	dec := &oversizedAt{fakeVideo: &fakeVideo{duration: 10, fps: 10}, at: 5}
	opts := testOptions(t)
	opts.Strategy = StrategyTranscript
	opts.UseBoundaries = false

	ex, err := NewExtractor(zerolog.Nop(), OpenerFunc(func(ctx context.Context, path string) (Decoder, error) {
		return dec, nil
	}), opts)
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), Request{VideoPath: video, Transcript: tutorialTranscript(video)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.WriteFailures)
	assert.Equal(t, 2, res.Stats.Written)

	require.Len(t, res.Frames, 2)
	assert.Equal(t, "frame_0000", res.Frames[0].FrameID)
	assert.Equal(t, "keyword:click", res.Frames[0].Reason.String())
	assert.Equal(t, "frame_0001", res.Frames[1].FrameID)
	assert.Equal(t, "keyword:press", res.Frames[1].Reason.String())
	assert.FileExists(t, filepath.Join(opts.OutputDir, "frame_0001.jpg"))
	assert.NoFileExists(t, filepath.Join(opts.OutputDir, "frame_0002.jpg"))

	m, err := ReadManifest(opts.OutputDir)
	require.NoError(t, err)
	require.Len(t, m.Frames, 2)
	assert.Equal(t, 1, m.Stats.WriteFailures)
	assert.InDelta(t, 7.0, m.Frames[1].Timestamp, 1e-9)
}

func TestExtractSkipsSingleDecodeFailure(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{
		duration: 10,
		fps:      10,
		failSeek: func(ts float64) bool { return ts > 4.9 && ts < 5.1 },
	}
	opts := testOptions(t)
	opts.Strategy = StrategyTranscript
	opts.UseBoundaries = false

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video, Transcript: tutorialTranscript(video)})
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)
	assert.Equal(t, "keyword:click", res.Frames[0].Reason.String())
	assert.Equal(t, "keyword:press", res.Frames[1].Reason.String())
	assert.Equal(t, 1, res.Stats.DecodeFailures)
}

func TestShortVideoYieldsOneFrame(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{duration: 0.8, fps: 30}
	tr := transcript.New(video, "en", []transcript.Segment{
		{Start: 0, End: 0.4, Text: "click"},
		{Start: 0.4, End: 0.8, Text: "press"},
	})

	opts := testOptions(t)
	opts.MinSpacing = 1.0

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video, Transcript: tr})
	require.NoError(t, err)
	assert.Len(t, res.Frames, 1)
}

func TestManifestAndOverwrite(t *testing.T) {
	video := videoFile(t)
	v := &fakeVideo{duration: 10, fps: 10}
	opts := testOptions(t)
	opts.MaxFrames = 3

	require.NoError(t, os.MkdirAll(opts.OutputDir, 0755))
	stale := filepath.Join(opts.OutputDir, "frame_0042.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	res, err := newTestExtractor(t, v, opts).Extract(context.Background(), Request{VideoPath: video, Transcript: tutorialTranscript(video)})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)

	m, err := ReadManifest(opts.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, m.RunID)
	assert.Equal(t, video, m.VideoPath)
	assert.Equal(t, StrategyHybrid, m.Strategy)
	require.Len(t, m.Frames, 3)

	f := m.Frames[0]
	assert.Equal(t, "frame_0000", f.FrameID)
	assert.Equal(t, "frame_0000.jpg", f.Path)
	assert.Equal(t, "keyword:click", f.Reason.String())
	require.NotNil(t, f.TranscriptSegment)
	assert.Equal(t, 1, f.TranscriptSegment.Index)
	assert.Equal(t, "Click the export button", f.TranscriptSegment.Text)
	assert.Equal(t, filepath.Join(opts.OutputDir, "frame_0000.jpg"), m.FramePath(opts.OutputDir, f))

	raw, err := os.ReadFile(res.ManifestPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"extraction_reason": "keyword:click"`)
}

func TestRequestOutputDirOverride(t *testing.T) {
	video := videoFile(t)
	opts := testOptions(t)
	dir := filepath.Join(t.TempDir(), "custom")

	res, err := newTestExtractor(t, &fakeVideo{duration: 10, fps: 10}, opts).Extract(context.Background(), Request{
		VideoPath:  video,
		Transcript: tutorialTranscript(video),
		OutputDir:  dir,
	})
	require.NoError(t, err)
	assert.Equal(t, dir, res.OutputDir)
	assert.FileExists(t, filepath.Join(dir, ManifestFileName))
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := testOptions(t)
	opts.Strategy = StrategyScene
	_, err := newTestExtractor(t, &fakeVideo{duration: 10, fps: 10}, opts).Extract(ctx, Request{VideoPath: videoFile(t)})
	assert.ErrorIs(t, err, context.Canceled)
}
