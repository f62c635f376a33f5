package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/kikiluvv/framewise/internal/ffmpeg"
	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/rs/zerolog"
)

// DefaultSampleWidth is the width of frames decoded for scene scanning.
const DefaultSampleWidth = 320

var errStopped = errors.New("sampling stopped by consumer")

// Media is the subset of the ffmpeg executor the decoder needs.
type Media interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	Pipe(ctx context.Context, opts ffmpeg.PipeOptions) error
}

// Opener opens videos for keyframe extraction through ffmpeg.
type Opener struct {
	logger      zerolog.Logger
	media       Media
	sampleWidth int
}

// NewOpener creates an opener. sampleWidth <= 0 uses DefaultSampleWidth.
func NewOpener(logger zerolog.Logger, media Media, sampleWidth int) *Opener {
	if sampleWidth <= 0 {
		sampleWidth = DefaultSampleWidth
	}
	return &Opener{
		logger:      logger.With().Str("component", "decoder").Logger(),
		media:       media,
		sampleWidth: sampleWidth,
	}
}

// Open probes path and returns a decoder for it.
func (o *Opener) Open(ctx context.Context, path string) (keyframe.Decoder, error) {
	info, err := o.media.ProbeVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	o.logger.Debug().
		Str("video", path).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Float64("duration", info.Seconds()).
		Msg("opened video")

	return &Decoder{
		logger:      o.logger,
		media:       o.media,
		path:        path,
		info:        info,
		sampleWidth: o.sampleWidth,
	}, nil
}

// Decoder reads frames of one video by running ffmpeg per request. It holds
// no open process between calls.
type Decoder struct {
	logger      zerolog.Logger
	media       Media
	path        string
	info        *ffmpeg.VideoInfo
	sampleWidth int
}

// Info returns the probed metadata.
func (d *Decoder) Info() *ffmpeg.VideoInfo {
	return d.info
}

func (d *Decoder) Duration() float64 {
	return d.info.Seconds()
}

// Seek decodes the first frame at or after ts at full resolution.
func (d *Decoder) Seek(ctx context.Context, ts float64) (keyframe.Frame, error) {
	if ts < 0 {
		ts = 0
	}
	if ts >= d.Duration() {
		return keyframe.Frame{}, io.EOF
	}

	var img image.Image
	empty := false
	pts := math.NaN()
	err := d.media.Pipe(ctx, ffmpeg.PipeOptions{
		Args: []string{
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", d.path,
			"-copyts",
			"-an", "-sn", "-dn",
			"-frames:v", "1",
			"-vf", ffmpeg.NewFilterBuilder().ShowInfo().Build(),
			"-f", "image2pipe",
			"-c:v", "png",
			"pipe:1",
		},
		Stdout: func(r io.Reader) error {
			br := bufio.NewReader(r)
			if _, err := br.Peek(1); err != nil {
				if errors.Is(err, io.EOF) {
					empty = true
					return nil
				}
				return err
			}
			decoded, err := png.Decode(br)
			if err != nil {
				return fmt.Errorf("failed to decode frame at %.3fs: %w", ts, err)
			}
			img = decoded
			return nil
		},
		LogHandler: func(line string) {
			if !math.IsNaN(pts) || !strings.Contains(line, "Parsed_showinfo") {
				return
			}
			if v, ok := ffmpeg.ParsePTSTime(line); ok {
				pts = v
			}
		},
	})
	if err != nil {
		return keyframe.Frame{}, err
	}
	// no output from a clean exit means the seek landed past the last frame
	if empty {
		return keyframe.Frame{}, io.EOF
	}

	actual := ts
	if !math.IsNaN(pts) {
		actual = math.Max(0, pts-d.info.StartTime)
	}
	return keyframe.Frame{Image: img, Timestamp: actual}, nil
}

// Sample streams downscaled greyscale frames every interval seconds from a
// single ffmpeg run. Breaking out of the loop stops ffmpeg.
func (d *Decoder) Sample(ctx context.Context, interval float64) iter.Seq2[keyframe.Frame, error] {
	return func(yield func(keyframe.Frame, error) bool) {
		if interval <= 0 {
			yield(keyframe.Frame{}, fmt.Errorf("sample interval must be positive, got %v", interval))
			return
		}

		w, h := d.sampleSize()
		filter := ffmpeg.NewFilterBuilder().
			Every(interval).
			Scale(w, h).
			Format("gray").
			Build()

		n := 0
		stopped := false
		err := d.media.Pipe(ctx, ffmpeg.PipeOptions{
			Args: []string{
				"-i", d.path,
				"-an", "-sn", "-dn",
				"-vf", filter,
				"-f", "rawvideo",
				"-pix_fmt", "gray",
				"pipe:1",
			},
			Stdout: func(r io.Reader) error {
				for {
					img := image.NewGray(image.Rect(0, 0, w, h))
					if _, err := io.ReadFull(r, img.Pix); err != nil {
						if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
							return nil
						}
						return err
					}
					ts := float64(n) * interval
					n++
					if !yield(keyframe.Frame{Image: img, Timestamp: ts}, nil) {
						stopped = true
						return errStopped
					}
				}
			},
		})

		if stopped {
			return
		}
		if err != nil {
			yield(keyframe.Frame{}, fmt.Errorf("sampling %s: %w", d.path, err))
			return
		}
		d.logger.Debug().Str("video", d.path).Int("frames", n).Msg("sampled video")
	}
}

func (d *Decoder) Close() error {
	return nil
}

// sampleSize keeps the aspect ratio at no more than sampleWidth pixels wide,
// with an even height as rawvideo scaling requires.
func (d *Decoder) sampleSize() (int, int) {
	w := d.sampleWidth
	if d.info.Width > 0 && d.info.Width < w {
		w = d.info.Width
	}
	if d.info.Width <= 0 || d.info.Height <= 0 {
		return w, evenFloor(w * 9 / 16)
	}
	h := int(math.Round(float64(w) * float64(d.info.Height) / float64(d.info.Width)))
	return w, evenFloor(h)
}

func evenFloor(v int) int {
	v -= v % 2
	if v < 2 {
		return 2
	}
	return v
}
