package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidSegment is returned for segments whose end does not follow their start.
var ErrInvalidSegment = errors.New("invalid transcript segment")

// Segment is one timed span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Validate checks the segment interval.
func (s Segment) Validate() error {
	if s.Start < 0 {
		return fmt.Errorf("%w: negative start %.3f", ErrInvalidSegment, s.Start)
	}
	if s.End <= s.Start {
		return fmt.Errorf("%w: end %.3f must be after start %.3f", ErrInvalidSegment, s.End, s.Start)
	}
	return nil
}

// Midpoint returns the centre of the segment interval.
func (s Segment) Midpoint() float64 {
	return s.Start + (s.End-s.Start)/2
}

// Contains reports whether t falls in [Start, End).
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

// Transcript is the ordered speech timeline of one video. It is treated as
// read-only once built.
type Transcript struct {
	VideoPath string    `json:"video_path"`
	Language  string    `json:"language"`
	Segments  []Segment `json:"segments"`
	FullText  string    `json:"full_text"`
}

// New builds a transcript, deriving FullText from the segment texts.
func New(videoPath, language string, segments []Segment) *Transcript {
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	return &Transcript{
		VideoPath: videoPath,
		Language:  language,
		Segments:  segs,
		FullText:  JoinText(segs),
	}
}

// JoinText concatenates trimmed segment texts with single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Validate checks every segment and their chronological order.
func (t *Transcript) Validate() error {
	for i, s := range t.Segments {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if i > 0 && s.Start < t.Segments[i-1].Start {
			return fmt.Errorf("%w: segment %d starts before segment %d", ErrInvalidSegment, i, i-1)
		}
	}
	return nil
}

// Len returns the number of segments, treating a nil transcript as empty.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Segments)
}

// Duration is the end of the last segment.
func (t *Transcript) Duration() float64 {
	if t.Len() == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}

// SegmentAt returns the index of the segment whose [start, end) interval
// contains ts, or -1.
func (t *Transcript) SegmentAt(ts float64) int {
	if t.Len() == 0 {
		return -1
	}
	segs := t.Segments
	// first segment starting after ts; the candidate is the one before it
	i := sort.Search(len(segs), func(i int) bool { return segs[i].Start > ts })
	if i == 0 {
		return -1
	}
	if segs[i-1].Contains(ts) {
		return i - 1
	}
	return -1
}

// Segment returns the segment at index i and whether it exists.
func (t *Transcript) Segment(i int) (Segment, bool) {
	if i < 0 || i >= t.Len() {
		return Segment{}, false
	}
	return t.Segments[i], true
}

// Save writes the transcript as an indented JSON document.
func (t *Transcript) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Load reads a transcript document written by Save.
func Load(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("transcript %s: %w", path, err)
	}
	return &t, nil
}

// PathFor returns the conventional transcript location for a video inside dir.
func PathFor(dir, videoPath string) string {
	base := filepath.Base(videoPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_transcript.json")
}
