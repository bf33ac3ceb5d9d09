package cli

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lykmapipo/moron/config"
)

// newLogger builds the command logger from the logging section. Unknown
// levels fall back to info.
func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
