package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// Write timeouts are left to each WebSocket session, which sets its own
// deadlines per frame.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// A clean shutdown is not reported as an error.
func StartServer(server *http.Server, log zerolog.Logger) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and waits for in-flight HTTP
// requests until ctx expires. Hijacked WebSocket connections are not tracked
// by net/http; Server.Shutdown closes those.
func ShutdownServer(ctx context.Context, server *http.Server, log zerolog.Logger) error {
	log.Info().Msg("shutting down HTTP server")

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	log.Info().Msg("HTTP server shutdown completed")
	return nil
}
