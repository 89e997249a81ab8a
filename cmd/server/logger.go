package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/config"
)

func setupLogger(cfg config.LogConfig) error {
	parsedLevel, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.Format == "json" {
		output = os.Stderr
	}

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		// Write to both console and file
		output = io.MultiWriter(output, file)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(parsedLevel)
	return nil
}
