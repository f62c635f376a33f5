package store

import (
	"github.com/kikiluvv/framewise/internal/embed"
)

// FromEmbeddings converts embedded frames of one video into records.
func FromEmbeddings(videoPath string, embs []embed.FrameEmbedding) []Record {
	out := make([]Record, len(embs))
	for i, e := range embs {
		out[i] = Record{
			VideoPath:  videoPath,
			FrameID:    e.Frame.FrameID,
			FramePath:  e.ImagePath,
			Timestamp:  e.Frame.Timestamp,
			Reason:     e.Frame.Reason.String(),
			Text:       e.Text,
			Quality:    e.Frame.QualityScore,
			SceneScore: e.Frame.SceneChangeScore,
			TextVec:    e.TextVec,
			ImageVec:   e.ImageVec,
		}
	}
	return out
}
