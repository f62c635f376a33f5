package keyframe

import (
	"fmt"
	"strings"
)

// ReasonKind orders candidate sources by strength of evidence. Higher values
// win merges and budget cuts.
type ReasonKind int

const (
	UniformSample ReasonKind = iota + 1
	TranscriptBoundary
	SceneChange
	Keyword
)

func (k ReasonKind) String() string {
	switch k {
	case UniformSample:
		return "uniform_sample"
	case TranscriptBoundary:
		return "transcript_boundary"
	case SceneChange:
		return "scene_change"
	case Keyword:
		return "keyword"
	default:
		return fmt.Sprintf("ReasonKind(%d)", int(k))
	}
}

// Priority is the rank used when candidates compete.
func (k ReasonKind) Priority() int {
	return int(k)
}

// Reason records why a timestamp was proposed. Word is set only for Keyword.
type Reason struct {
	Kind ReasonKind
	Word string
}

// KeywordReason builds a keyword reason for a matched vocabulary entry.
func KeywordReason(word string) Reason {
	return Reason{Kind: Keyword, Word: strings.ToLower(word)}
}

// String renders the reason tag, e.g. "keyword:click".
func (r Reason) String() string {
	if r.Kind == Keyword {
		return "keyword:" + r.Word
	}
	return r.Kind.String()
}

// IsZero reports whether r is unset.
func (r Reason) IsZero() bool {
	return r.Kind == 0
}

// ParseReason parses a tag produced by String.
func ParseReason(s string) (Reason, error) {
	if word, ok := strings.CutPrefix(s, "keyword:"); ok {
		if word == "" {
			return Reason{}, fmt.Errorf("keyword reason without word: %q", s)
		}
		return KeywordReason(word), nil
	}
	switch s {
	case "scene_change":
		return Reason{Kind: SceneChange}, nil
	case "uniform_sample":
		return Reason{Kind: UniformSample}, nil
	case "transcript_boundary":
		return Reason{Kind: TranscriptBoundary}, nil
	}
	return Reason{}, fmt.Errorf("unknown extraction reason %q", s)
}

func (r Reason) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("cannot marshal empty reason")
	}
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	parsed, err := ParseReason(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Strategy selects which candidate sources feed the selector.
type Strategy string

const (
	StrategyScene      Strategy = "scene"
	StrategyTranscript Strategy = "transcript"
	StrategyHybrid     Strategy = "hybrid"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyScene, StrategyTranscript, StrategyHybrid:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidOptions, s)
}

func (s Strategy) usesScenes() bool {
	return s == StrategyScene || s == StrategyHybrid
}

func (s Strategy) usesTranscript() bool {
	return s == StrategyTranscript || s == StrategyHybrid
}

// allowsFallback reports whether uniform sampling may rescue a sparse result.
func (s Strategy) allowsFallback() bool {
	return s == StrategyHybrid
}
