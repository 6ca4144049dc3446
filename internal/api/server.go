// Package api is the loopback HTTP surface of the agent: project editing,
// clip upload and playback, and export jobs with a progress stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elizor/elizor/internal/export"
	"github.com/elizor/elizor/internal/media"
	"github.com/elizor/elizor/internal/playback"
	"github.com/elizor/elizor/internal/project"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Version        string
	Engine         *project.Engine
	Tokens         TokenStore
	Exports        *export.Manager
	Doctor         *media.CachedDoctor
	Extractor      media.Extractor
	Playback       *playback.Server
	MaxUploadBytes int64
	ProbeTimeout   time.Duration
	Logger         *slog.Logger
	StartTime      time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			// uploads and the event stream are long-lived
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
