package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

// setupLogging replaces the global logger. The default level only surfaces
// warnings; --verbose opens up the per-game event stream.
func setupLogging(cfg *Config) {
	level := zerolog.WarnLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: logDate,
	}).Level(level).With().Timestamp().Logger()
}
