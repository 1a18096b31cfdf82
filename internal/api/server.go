package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/npezzotti/go-roomrelay/internal/server"
	"github.com/rs/zerolog"
)

type RelayApp struct {
	log            zerolog.Logger
	mux            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
	wsCfg          config.WebSocketConfig
}

// NewRelayApp wires the relay routes onto mux. mux may already carry other
// handlers, such as the stats endpoint.
func NewRelayApp(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
		wsCfg:          cfg.WebSocket,
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /health", s.health)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: s.handler(mux),
	}
	return s
}

func (s *RelayApp) handler(next http.Handler) http.Handler {
	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(s.allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(next)

	h = handlers.CombinedLoggingHandler(s.accessLog(), h)

	return s.errorHandler(h)
}

// accessLog returns a writer that emits each combined log line as a
// zerolog event.
func (s *RelayApp) accessLog() io.Writer {
	return s.log.With().Str("source", "access").Logger()
}

func (s *RelayApp) Start() error {
	s.log.Info().Str("addr", s.mux.Addr).Msg("starting server")
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
