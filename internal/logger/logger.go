package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. An explicit level wins over the
// environment default.
func Init(environment, level string) {
	// Set logger time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Set global logger
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    environment == "production",
	})

	// Set log level based on environment
	switch environment {
	case "development":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "production":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && lvl != zerolog.NoLevel {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	log.Info().
		Str("environment", environment).
		Str("level", zerolog.GlobalLevel().String()).
		Msg("Logger initialized")
}

// GetLogger returns a logger with component context
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
