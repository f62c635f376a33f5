package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kikiluvv/framewise/internal/embed"
	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/internal/publish"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor writes a one-frame manifest into the requested directory.
type fakeExtractor struct {
	mu       sync.Mutex
	requests []keyframe.Request
	fail     map[string]error
	delay    time.Duration
	active   atomic.Int32
	peak     atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, req keyframe.Request) (*keyframe.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := f.fail[req.VideoPath]; err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, err
	}
	m := &keyframe.Manifest{
		RunID:     "run",
		VideoPath: req.VideoPath,
		Duration:  10,
		Strategy:  keyframe.StrategyHybrid,
		Frames: []keyframe.ManifestFrame{{
			FrameID:   "frame_0001.jpg",
			Path:      "frame_0001.jpg",
			Timestamp: 2,
			Reason:    keyframe.Reason{Kind: keyframe.SceneChange},
		}},
	}
	path, err := keyframe.WriteManifest(req.OutputDir, m)
	if err != nil {
		return nil, err
	}
	return &keyframe.Result{
		RunID:        "run",
		VideoPath:    req.VideoPath,
		OutputDir:    req.OutputDir,
		ManifestPath: path,
		Duration:     10,
		Frames:       []keyframe.ExtractedFrame{{FrameID: "frame_0001.jpg", Timestamp: 2}},
	}, nil
}

type fakeTranscriber struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, videoPath string, opts transcript.Options) (*transcript.Transcript, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return transcript.New(videoPath, "en", []transcript.Segment{
		{Start: 0, End: 4, Text: "open the frame wise menu"},
	}), nil
}

type fakeVolume struct {
	stats *ffmpeg.VolumeStats
	err   error
}

func (f fakeVolume) AnalyzeVolume(ctx context.Context, input string) (*ffmpeg.VolumeStats, error) {
	return f.stats, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedFrames(ctx context.Context, dir string, m *keyframe.Manifest) ([]embed.FrameEmbedding, error) {
	out := make([]embed.FrameEmbedding, len(m.Frames))
	for i, f := range m.Frames {
		out[i] = embed.FrameEmbedding{
			Frame:     f,
			ImagePath: m.FramePath(dir, f),
			Text:      embed.FrameText(f),
			TextVec:   []float32{1, 0},
		}
	}
	return out, nil
}

type fakeIndex struct {
	mu     sync.Mutex
	videos map[string][]store.Record
}

func (f *fakeIndex) ReplaceVideo(ctx context.Context, videoPath string, recs []store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.videos == nil {
		f.videos = make(map[string][]store.Record)
	}
	f.videos[videoPath] = recs
	return nil
}

type fakePublisher struct {
	dirs []string
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, outputDir, prefix string) (*publish.Result, error) {
	f.dirs = append(f.dirs, outputDir)
	if f.err != nil {
		return nil, f.err
	}
	return &publish.Result{Bucket: "b", Prefix: filepath.Base(outputDir), Objects: []string{"frame_0001.jpg", "metadata.json"}}, nil
}

func writeVideo(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0644))
	return path
}

func newTestPipeline(t *testing.T, cfg Config, ex Extractor) *Pipeline {
	t.Helper()
	p, err := New(zerolog.Nop(), cfg, ex)
	require.NoError(t, err)
	return p
}

func TestNewRequiresExtractor(t *testing.T) {
	_, err := New(zerolog.Nop(), Config{}, nil)
	assert.Error(t, err)
}

func TestProcessTranscribesAndCaches(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "lesson.mp4")
	cfg := Config{
		FramesDir:      filepath.Join(dir, "frames"),
		TranscriptDir:  filepath.Join(dir, "transcripts"),
		SilenceFloorDB: -60,
		Corrections:    map[string]string{"frame wise": "FrameWise"},
	}

	ex := &fakeExtractor{}
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, cfg, ex).WithTranscriber(tr, fakeVolume{stats: &ffmpeg.VolumeStats{MaxVolume: -5}})

	res, err := p.Process(context.Background(), Job{VideoPath: video})
	require.NoError(t, err)
	assert.Equal(t, SourceTranscribed, res.TranscriptSource)
	assert.Equal(t, filepath.Join(cfg.TranscriptDir, "lesson_transcript.json"), res.TranscriptPath)
	assert.FileExists(t, res.TranscriptPath)

	require.Len(t, ex.requests, 1)
	assert.Equal(t, filepath.Join(cfg.FramesDir, "lesson"), ex.requests[0].OutputDir)
	require.NotNil(t, ex.requests[0].Transcript)
	assert.Equal(t, "open the FrameWise menu", ex.requests[0].Transcript.Segments[0].Text)

	// second run reads the cache
	res, err = p.Process(context.Background(), Job{VideoPath: video})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.TranscriptSource)
	assert.EqualValues(t, 1, tr.calls.Load())

	// refresh ignores it
	res, err = p.Process(context.Background(), Job{VideoPath: video, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, SourceTranscribed, res.TranscriptSource)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestProcessSkipsSilentAudio(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "silent.mp4")
	ex := &fakeExtractor{}
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, Config{FramesDir: dir, SilenceFloorDB: -60}, ex).
		WithTranscriber(tr, fakeVolume{stats: &ffmpeg.VolumeStats{MeanVolume: -91, MaxVolume: -91}})

	res, err := p.Process(context.Background(), Job{VideoPath: video})
	require.NoError(t, err)
	assert.Equal(t, SourceSilent, res.TranscriptSource)
	assert.Nil(t, res.Transcript)
	assert.Zero(t, tr.calls.Load())
	assert.Nil(t, ex.requests[0].Transcript)
}

func TestProcessDegradesOnTranscriptionFailure(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "a.mp4")
	p := newTestPipeline(t, Config{FramesDir: dir}, &fakeExtractor{}).
		WithTranscriber(&fakeTranscriber{err: errors.New("model missing")}, nil)

	res, err := p.Process(context.Background(), Job{VideoPath: video})
	require.NoError(t, err)
	assert.Equal(t, SourceFailed, res.TranscriptSource)
	assert.NotNil(t, res.Extraction)
}

func TestProcessUsesExplicitTranscript(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "a.mp4")
	tpath := filepath.Join(dir, "custom.json")
	require.NoError(t, transcript.New(video, "en", []transcript.Segment{{Start: 0, End: 1, Text: "hi"}}).Save(tpath))

	tr := &fakeTranscriber{}
	p := newTestPipeline(t, Config{FramesDir: dir}, &fakeExtractor{}).WithTranscriber(tr, nil)

	res, err := p.Process(context.Background(), Job{VideoPath: video, TranscriptPath: tpath})
	require.NoError(t, err)
	assert.Equal(t, SourceFile, res.TranscriptSource)
	assert.Zero(t, tr.calls.Load())

	_, err = p.Process(context.Background(), Job{VideoPath: video, TranscriptPath: filepath.Join(dir, "missing.json")})
	assert.Error(t, err)
}

func TestProcessIndexesAndPublishes(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "a.mp4")
	out := filepath.Join(dir, "custom-out")

	idx := &fakeIndex{}
	pub := &fakePublisher{}
	p := newTestPipeline(t, Config{}, &fakeExtractor{}).
		WithIndex(fakeEmbedder{}, idx).
		WithPublisher(pub)

	res, err := p.Process(context.Background(), Job{VideoPath: video, OutputDir: out, NoTranscript: true})
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.TranscriptSource)
	assert.Equal(t, 1, res.Indexed)
	require.NotNil(t, res.Published)
	assert.Equal(t, []string{out}, pub.dirs)

	abs, err := filepath.Abs(video)
	require.NoError(t, err)
	recs := idx.videos[abs]
	require.Len(t, recs, 1)
	assert.Equal(t, "scene_change", recs[0].Reason)
	assert.Equal(t, filepath.Join(out, "frame_0001.jpg"), recs[0].FramePath)
	assert.Equal(t, "scene change", recs[0].Text)
}

func TestProcessKeepsExtractionWhenPublishFails(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir, "a.mp4")
	p := newTestPipeline(t, Config{FramesDir: dir}, &fakeExtractor{}).
		WithPublisher(&fakePublisher{err: errors.New("bucket gone")})

	res, err := p.Process(context.Background(), Job{VideoPath: video})
	require.Error(t, err)
	assert.NotNil(t, res.Extraction)
	assert.Equal(t, err, res.Err)
}

func TestProcessMissingVideo(t *testing.T) {
	p := newTestPipeline(t, Config{}, &fakeExtractor{})
	_, err := p.Process(context.Background(), Job{VideoPath: filepath.Join(t.TempDir(), "nope.mp4")})
	assert.ErrorIs(t, err, keyframe.ErrVideoNotFound)

	_, err = p.Process(context.Background(), Job{})
	assert.Error(t, err)
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	var jobs []Job
	for i := range 6 {
		jobs = append(jobs, Job{VideoPath: writeVideo(t, dir, fmt.Sprintf("v%d.mp4", i))})
	}
	boom := errors.New("corrupt stream")
	ex := &fakeExtractor{
		fail:  map[string]error{jobs[2].VideoPath: boom},
		delay: 20 * time.Millisecond,
	}
	p := newTestPipeline(t, Config{Workers: 2, FramesDir: filepath.Join(dir, "frames")}, ex)

	batch := p.RunBatch(context.Background(), jobs)
	require.Len(t, batch.Results, 6)
	assert.Equal(t, 5, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.ErrorIs(t, batch.Results[2].Err, boom)
	assert.ErrorIs(t, batch.Err(), boom)
	for i, r := range batch.Results {
		assert.Equal(t, jobs[i].VideoPath, r.VideoPath)
	}
	assert.LessOrEqual(t, ex.peak.Load(), int32(2))
}

func TestRunBatchCancelled(t *testing.T) {
	dir := t.TempDir()
	jobs := []Job{
		{VideoPath: writeVideo(t, dir, "a.mp4")},
		{VideoPath: writeVideo(t, dir, "b.mp4")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &fakeExtractor{}
	p := newTestPipeline(t, Config{Workers: 1, FramesDir: dir}, ex)
	batch := p.RunBatch(ctx, jobs)

	assert.Equal(t, 2, batch.Failed)
	for _, r := range batch.Results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Empty(t, ex.requests)
}

func TestBatchResultErrNil(t *testing.T) {
	b := &BatchResult{Results: []JobResult{{VideoPath: "a"}}}
	assert.NoError(t, b.Err())
}
