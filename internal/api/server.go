package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kikiluvv/framewise/internal/embed"
	"github.com/kikiluvv/framewise/internal/qa"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/rs/zerolog"
)

// Version is reported by /health.
var Version = "0.1.0"

// QueryEmbedder turns search text into vectors.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) (embed.QueryVectors, error)
}

// Index is the read side of the frame store.
type Index interface {
	Search(ctx context.Context, q store.Query) ([]store.Result, error)
	Get(ctx context.Context, id string) (*store.Record, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Asker answers questions; nil disables /ask.
type Asker interface {
	Ask(ctx context.Context, question string, numResults int) (*qa.Answer, error)
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Embedder     QueryEmbedder
	Index        Index
	Asker        Asker
	Logger       zerolog.Logger
	StartTime    time.Time
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	cfg.Logger = cfg.Logger.With().Str("component", "api").Logger()

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(cfg),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
