package keyframe

import (
	"github.com/kikiluvv/framewise/internal/transcript"
)

// Candidate is a proposed timestamp before quality gating and the budget cut.
type Candidate struct {
	Timestamp  float64
	Reason     Reason
	SceneScore float64
	// Merged lists reasons of a different kind folded into this candidate.
	Merged []Reason
}

// priorityLess orders candidates strongest first: reason priority, then
// upstream scene score, then earlier timestamp.
func priorityLess(a, b Candidate) bool {
	if pa, pb := a.Reason.Kind.Priority(), b.Reason.Kind.Priority(); pa != pb {
		return pa > pb
	}
	if a.SceneScore != b.SceneScore {
		return a.SceneScore > b.SceneScore
	}
	return a.Timestamp < b.Timestamp
}

// absorb folds other into c, keeping c's reason.
func (c *Candidate) absorb(other Candidate) {
	if other.SceneScore > c.SceneScore {
		c.SceneScore = other.SceneScore
	}
	for _, r := range append([]Reason{other.Reason}, other.Merged...) {
		if r.Kind == c.Reason.Kind {
			continue
		}
		dup := false
		for _, m := range c.Merged {
			if m == r {
				dup = true
				break
			}
		}
		if !dup {
			c.Merged = append(c.Merged, r)
		}
	}
}

func sceneCandidates(scores []SceneScore) []Candidate {
	out := make([]Candidate, 0, len(scores))
	for _, s := range scores {
		out = append(out, Candidate{
			Timestamp:  s.Timestamp,
			Reason:     Reason{Kind: SceneChange},
			SceneScore: s.Score,
		})
	}
	return out
}

// boundaryCandidates proposes each segment start inside the video.
func boundaryCandidates(t *transcript.Transcript, duration float64) []Candidate {
	if t.Len() == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if seg.Start >= duration {
			break
		}
		out = append(out, Candidate{Timestamp: seg.Start, Reason: Reason{Kind: TranscriptBoundary}})
	}
	return out
}

// uniformCandidates spreads n timestamps at the centres of n equal slices
// of the video.
func uniformCandidates(duration float64, n int) []Candidate {
	if duration <= 0 || n <= 0 {
		return nil
	}
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			Timestamp: duration * (float64(i) + 0.5) / float64(n),
			Reason:    Reason{Kind: UniformSample},
		}
	}
	return out
}
