package keyframe

import "errors"

var (
	// ErrInvalidOptions marks a rejected configuration.
	ErrInvalidOptions = errors.New("invalid extraction options")
	// ErrVideoNotFound is returned when the video path does not exist or is not a file.
	ErrVideoNotFound = errors.New("video file not found")
	// ErrZeroDuration is returned for videos reporting no playable length.
	ErrZeroDuration = errors.New("video has zero duration")
	// ErrNoDecodableFrames is returned when the video yields no picture at all:
	// every sampled frame or every candidate failed to decode.
	ErrNoDecodableFrames = errors.New("no decodable frames")
)
