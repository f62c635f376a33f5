package api

import (
	"github.com/kikiluvv/framewise/internal/store"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	QA      bool   `json:"qa_enabled"`
}

type FrameResponse struct {
	ID         string  `json:"id"`
	VideoPath  string  `json:"video_path"`
	FrameID    string  `json:"frame_id"`
	FramePath  string  `json:"frame_path"`
	ImageURL   string  `json:"image_url"`
	Timestamp  float64 `json:"timestamp"`
	Reason     string  `json:"extraction_reason"`
	Text       string  `json:"text"`
	Quality    float64 `json:"quality_score"`
	SceneScore float64 `json:"scene_change_score"`
	Score      float64 `json:"score"`
}

type SearchResponse struct {
	Query   string          `json:"query,omitempty"`
	Type    string          `json:"type"`
	Results []FrameResponse `json:"results"`
}

type AskRequest struct {
	Question   string `json:"question"`
	NumResults int    `json:"num_results"`
}

type AskResponse struct {
	Question      string          `json:"question"`
	Answer        string          `json:"answer"`
	Frames        []FrameResponse `json:"relevant_frames"`
	NumFramesUsed int             `json:"num_frames_used"`
}

func ResultToResponse(r store.Result) FrameResponse {
	return FrameResponse{
		ID:         r.ID,
		VideoPath:  r.VideoPath,
		FrameID:    r.FrameID,
		FramePath:  r.FramePath,
		ImageURL:   "/frames/" + r.ID + "/image",
		Timestamp:  r.Timestamp,
		Reason:     r.Reason,
		Text:       r.Text,
		Quality:    r.Quality,
		SceneScore: r.SceneScore,
		Score:      r.Score,
	}
}

func ResultsToResponse(rs []store.Result) []FrameResponse {
	out := make([]FrameResponse, len(rs))
	for i, r := range rs {
		out[i] = ResultToResponse(r)
	}
	return out
}
