package keyframe

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"iter"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kikiluvv/framewise/internal/transcript"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testWidth  = 64
	testHeight = 48
)

// stripes draws vertical bars alternating between two grey levels.
func stripes(lo, hi uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, testWidth, testHeight))
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			v := lo
			if (x/4)%2 == 1 {
				v = hi
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func flat(v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, testWidth, testHeight))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

var (
	sceneA = stripes(40, 120)
	sceneB = stripes(140, 220)
	blank  = flat(128)
)

// span paints one picture over [from, to).
type span struct {
	from, to float64
	img      image.Image
}

// fakeVideo is an in-memory decoder with a fixed frame rate.
type fakeVideo struct {
	duration float64
	fps      float64
	spans    []span
	failSeek func(ts float64) bool
	// failSample makes every sampled frame a decode error.
	failSample bool

	mu     sync.Mutex
	seeks  []float64
	closed bool
}

func (v *fakeVideo) pictureAt(ts float64) image.Image {
	for _, s := range v.spans {
		if ts >= s.from && ts < s.to {
			return s.img
		}
	}
	return sceneA
}

func (v *fakeVideo) Duration() float64 { return v.duration }

func (v *fakeVideo) Seek(ctx context.Context, ts float64) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	v.mu.Lock()
	v.seeks = append(v.seeks, ts)
	v.mu.Unlock()

	if ts < 0 {
		ts = 0
	}
	idx := math.Ceil(ts*v.fps - 1e-9)
	actual := idx / v.fps
	if actual >= v.duration {
		return Frame{}, io.EOF
	}
	if v.failSeek != nil && v.failSeek(ts) {
		return Frame{}, errors.New("corrupt frame")
	}
	return Frame{Image: v.pictureAt(actual), Timestamp: actual}, nil
}

func (v *fakeVideo) Sample(ctx context.Context, interval float64) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for i := 0; ; i++ {
			ts := float64(i) * interval
			if ts >= v.duration {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Frame{}, err)
				return
			}
			if v.failSample {
				if !yield(Frame{}, errors.New("codec failure")) {
					return
				}
				continue
			}
			if !yield(Frame{Image: v.pictureAt(ts), Timestamp: ts}, nil) {
				return
			}
		}
	}
}

func (v *fakeVideo) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

func (v *fakeVideo) opener() Opener {
	return OpenerFunc(func(ctx context.Context, path string) (Decoder, error) {
		return v, nil
	})
}

// videoFile creates a placeholder file so path checks pass.
func videoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tutorial.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0644))
	return path
}

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.Keywords = []string{"click", "select", "press", "export"}
	opts.OutputDir = filepath.Join(t.TempDir(), "frames")
	opts.QualityThreshold = 0.5
	return opts
}

func newTestExtractor(t *testing.T, v *fakeVideo, opts Options) *Extractor {
	t.Helper()
	ex, err := NewExtractor(zerolog.Nop(), v.opener(), opts)
	require.NoError(t, err)
	return ex
}

func tutorialTranscript(video string) *transcript.Transcript {
	return transcript.New(video, "en", []transcript.Segment{
		{Start: 0, End: 2, Text: "Welcome to this tutorial"},
		{Start: 2, End: 4, Text: "Click the export button"},
		{Start: 4, End: 6, Text: "Select your file format"},
		{Start: 6, End: 8, Text: "Press the save icon"},
		{Start: 8, End: 10, Text: "Your file is now exported"},
	})
}
