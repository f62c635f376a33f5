package keyframe

import (
	"context"
	"image"
	"iter"
)

// Frame is one decoded picture and its presentation time in seconds.
type Frame struct {
	Image     image.Image
	Timestamp float64
}

// Decoder is a seekable handle on one open video. Seeks may go backwards.
type Decoder interface {
	// Duration is the playable length in seconds.
	Duration() float64
	// Seek decodes the first frame at or after ts. It returns io.EOF when
	// ts lies at or beyond the end of the stream.
	Seek(ctx context.Context, ts float64) (Frame, error)
	// Sample walks the stream once, yielding a frame every interval seconds.
	// Frames may be downscaled. A yielded error for one frame does not end
	// the sequence unless the decoder stops yielding.
	Sample(ctx context.Context, interval float64) iter.Seq2[Frame, error]
	Close() error
}

// Opener creates a decoder for a video path.
type Opener interface {
	Open(ctx context.Context, path string) (Decoder, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string) (Decoder, error)

func (f OpenerFunc) Open(ctx context.Context, path string) (Decoder, error) {
	return f(ctx, path)
}
