package keyframe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kikiluvv/framewise/internal/transcript"
)

// ExtractedFrame is one keyframe written to disk.
type ExtractedFrame struct {
	FrameID          string
	Path             string
	Timestamp        float64
	RequestedAt      float64
	SegmentIndex     int
	Reason           Reason
	MergedReasons    []Reason
	SceneChangeScore float64
	QualityScore     float64
	Quality          QualityReport
}

// HasSegment reports whether a transcript segment covers the frame.
func (f ExtractedFrame) HasSegment() bool {
	return f.SegmentIndex >= 0
}

// ManifestFileName is the manifest written next to the frame images.
const ManifestFileName = "metadata.json"

// Manifest describes one extraction run.
type Manifest struct {
	RunID     string          `json:"run_id"`
	VideoPath string          `json:"video_path"`
	Duration  float64         `json:"duration"`
	Strategy  Strategy        `json:"strategy"`
	CreatedAt time.Time       `json:"created_at"`
	Settings  ManifestOptions `json:"settings"`
	Stats     Stats           `json:"stats"`
	Frames    []ManifestFrame `json:"frames"`
}

// ManifestOptions echoes the settings that shaped the run.
type ManifestOptions struct {
	MaxFrames        int     `json:"max_frames_per_video"`
	SceneThreshold   float64 `json:"scene_threshold"`
	QualityThreshold float64 `json:"quality_threshold"`
	MinSpacing       float64 `json:"min_spacing_seconds"`
	SampleInterval   float64 `json:"sample_interval_seconds"`
}

// ManifestFrame is the serialised form of an ExtractedFrame.
type ManifestFrame struct {
	FrameID           string           `json:"frame_id"`
	Path              string           `json:"path"`
	Timestamp         float64          `json:"timestamp"`
	Reason            Reason           `json:"extraction_reason"`
	MergedReasons     []Reason         `json:"merged_reasons,omitempty"`
	SceneChangeScore  float64          `json:"scene_change_score"`
	QualityScore      float64          `json:"quality_score"`
	TranscriptSegment *ManifestSegment `json:"transcript_segment"`
}

// ManifestSegment resolves a frame's segment index against the transcript
// used for the run.
type ManifestSegment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func newManifestFrame(f ExtractedFrame, t *transcript.Transcript) ManifestFrame {
	mf := ManifestFrame{
		FrameID:          f.FrameID,
		Path:             filepath.Base(f.Path),
		Timestamp:        f.Timestamp,
		Reason:           f.Reason,
		MergedReasons:    f.MergedReasons,
		SceneChangeScore: f.SceneChangeScore,
		QualityScore:     f.QualityScore,
	}
	if seg, ok := t.Segment(f.SegmentIndex); ok {
		mf.TranscriptSegment = &ManifestSegment{
			Index: f.SegmentIndex,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		}
	}
	return mf
}

// WriteManifest stores m as dir/metadata.json and returns the path.
func WriteManifest(dir string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads the manifest from a frames directory or a direct path.
func ReadManifest(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ManifestFileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// FramePath returns the absolute location of a manifest frame image.
func (m *Manifest) FramePath(dir string, f ManifestFrame) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(dir, f.Path)
}
