package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxLimit caps results per request.
const maxLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", statsHandler(cfg))
	r.Get("/search", searchHandler(cfg))
	r.Post("/ask", askHandler(cfg))
	r.Get("/frames/{id}/image", frameImageHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			QA:      cfg.Asker != nil,
		})
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Index.Stats(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read stats", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// searchHandler serves GET /search?q=&limit=&type=&video=&like=. like takes
// a frame id and searches with that frame's image vector.
func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		text := strings.TrimSpace(params.Get("q"))
		like := params.Get("like")
		if text == "" && like == "" {
			WriteError(w, http.StatusBadRequest, "q or like is required", "BAD_REQUEST")
			return
		}

		limit, err := parseLimit(params.Get("limit"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		typeParam := params.Get("type")
		if typeParam == "" && like != "" && text == "" {
			typeParam = string(store.SearchImage)
		}
		searchType, err := store.ParseSearchType(typeParam)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		q := store.Query{Type: searchType, Limit: limit, VideoPath: params.Get("video")}
		if text != "" {
			vecs, err := cfg.Embedder.EmbedQuery(r.Context(), text)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "failed to embed query", "INTERNAL_ERROR")
				return
			}
			q.Text, q.Image = vecs.Text, vecs.Image
		}
		if like != "" {
			rec, err := cfg.Index.Get(r.Context(), like)
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "frame not found", "NOT_FOUND")
				return
			}
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			q.Image = rec.ImageVec
		}

		results, err := cfg.Index.Search(r.Context(), q)
		if errors.Is(err, store.ErrEmptyQuery) {
			WriteError(w, http.StatusBadRequest, "no "+string(searchType)+" vectors available for this query", "BAD_REQUEST")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, SearchResponse{
			Query:   text,
			Type:    string(searchType),
			Results: ResultsToResponse(results),
		})
	}
}

func askHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Asker == nil {
			WriteError(w, http.StatusServiceUnavailable, "question answering is not configured", "QA_DISABLED")
			return
		}

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			WriteError(w, http.StatusBadRequest, "question is required", "BAD_REQUEST")
			return
		}
		if req.NumResults < 0 || req.NumResults > maxLimit {
			WriteError(w, http.StatusBadRequest, "num_results must be between 0 and 50", "BAD_REQUEST")
			return
		}

		ans, err := cfg.Asker.Ask(r.Context(), req.Question, req.NumResults)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, AskResponse{
			Question:      ans.Question,
			Answer:        ans.Text,
			Frames:        ResultsToResponse(ans.Frames),
			NumFramesUsed: ans.NumFramesUsed,
		})
	}
}

func frameImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := cfg.Index.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "frame not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, rec.FramePath)
	}
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return store.DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxLimit {
		return 0, errors.New("limit must be an integer between 1 and 50")
	}
	return n, nil
}
