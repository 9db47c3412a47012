package server

import (
	"context"
	"net/http"
	"time"

	"marketchat/internal/observability"

	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
}

func New(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
			// No WriteTimeout: it would sever long-lived websocket writes.
		},
	}
}

func (s *Server) Start() error {
	observability.Log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	observability.Log.Info("shutting down server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.Shutdown(ctx)
}
