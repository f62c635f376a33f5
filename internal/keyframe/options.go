package keyframe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultKeywords is the action vocabulary used when none is configured.
var DefaultKeywords = []string{
	"click", "select", "open", "press", "export", "save", "choose",
	"type", "enter", "drag", "drop", "navigate", "scroll", "tap",
	"toggle", "enable", "disable", "upload", "download", "create",
}

// Options configures one extractor. Seconds are fractional seconds.
type Options struct {
	Strategy         Strategy `yaml:"strategy" validate:"oneof=scene transcript hybrid"`
	MaxFrames        int      `yaml:"max_frames_per_video" validate:"gt=0"`
	MinFrames        int      `yaml:"min_frames" validate:"gte=0,ltefield=MaxFrames"`
	SceneThreshold   float64  `yaml:"scene_threshold" validate:"gte=0,lte=1"`
	QualityThreshold float64  `yaml:"quality_threshold" validate:"gte=0,lte=1"`
	MinSpacing       float64  `yaml:"min_spacing_seconds" validate:"gte=0"`
	SampleInterval   float64  `yaml:"sample_interval_seconds" validate:"gt=0"`
	AnalysisWidth    int      `yaml:"analysis_width" validate:"gte=16"`
	JPEGQuality      int      `yaml:"jpeg_quality" validate:"gte=1,lte=100"`
	UseBoundaries    bool     `yaml:"use_boundaries"`
	Keywords         []string `yaml:"keywords" validate:"dive,required"`
	OutputDir        string   `yaml:"output_dir"`
}

// DefaultOptions mirrors the settings used for screen-recorded tutorials.
func DefaultOptions() Options {
	kw := make([]string, len(DefaultKeywords))
	copy(kw, DefaultKeywords)
	return Options{
		Strategy:         StrategyHybrid,
		MaxFrames:        20,
		MinFrames:        1,
		SceneThreshold:   0.3,
		QualityThreshold: 0.3,
		MinSpacing:       1.0,
		SampleInterval:   0.5,
		AnalysisWidth:    320,
		JPEGQuality:      90,
		UseBoundaries:    true,
		Keywords:         kw,
		OutputDir:        "frames",
	}
}

var validate = validator.New()

// Validate rejects out-of-range settings with ErrInvalidOptions.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}
