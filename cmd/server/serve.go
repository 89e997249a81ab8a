package main

import (
	"context"
	"fmt"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/bus"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/history"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// serve wires the chat server from cfg and blocks until it is shut down.
func serve(ctx context.Context, cfg config.Config) error {
	logger := component("roomchat")

	client, err := store.NewRedisClient(ctx, cfg.Redis, component("store"))
	if err != nil {
		return err
	}

	chatBus, err := bus.Open(cfg.Bus, client, component("bus"))
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("open bus: %w", err)
	}

	resolver, err := auth.New(cfg.Auth)
	if err != nil {
		_ = chatBus.Close()
		_ = client.Close()
		return fmt.Errorf("configure auth: %w", err)
	}

	srv := server.New(cfg, server.Deps{
		Limiter:  ratelimit.New(client, cfg.RateLimit, component("ratelimit")),
		History:  history.New(client, cfg.HistorySize, component("history")),
		Bus:      chatBus,
		Resolver: resolver,
		Checks: []server.HealthCheck{
			{Name: "redis", Check: func(ctx context.Context) error { return store.Ping(ctx, client) }},
			{Name: "bus", Check: chatBus.Ping},
		},
	}, component("server"))

	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	logger.Info().
		Str("bus", cfg.Bus.Driver).
		Strs("auth", cfg.Auth.Drivers).
		Int("rate_limit", cfg.RateLimit.Limit).
		Dur("rate_window", cfg.RateLimit.Window).
		Int("history_size", cfg.HistorySize).
		Msg("chat endpoint ready at /ws/chat/{room}/")

	stop := func(ctx context.Context) error {
		logger.Info().Msg("graceful shutdown initiated")
		if err := server.ShutdownServer(ctx, httpServer, logger); err != nil {
			logger.Warn().Err(err).Msg("http server did not stop cleanly")
		}
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("chat sessions did not stop cleanly")
		}
		if err := chatBus.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing bus")
		}
		return client.Close()
	}

	// Steps depend on each other, so they run as one ordered operation.
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"roomchat": stop,
	})

	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = stop(shutdownCtx)
			return fmt.Errorf("serve http: %w", err)
		}
		exitCode = <-wait
	case exitCode = <-wait:
	}

	logger.Info().Int("exit_code", exitCode).Msg("roomchat stopped")
	if exitCode != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", exitCode)
	}
	return nil
}
