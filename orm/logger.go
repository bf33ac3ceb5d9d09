package orm

import (
	"context"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	l     zerolog.Logger
	level zerolog.Level
}

// NewZerologLogger returns a Logger that writes every statement as a
// structured event at debug level.
//
//	db = db.Debug(orm.NewZerologLogger(log.Logger))
func NewZerologLogger(l zerolog.Logger) Logger {
	return zerologLogger{l: l, level: zerolog.DebugLevel}
}

// NewZerologLoggerLevel is like NewZerologLogger but logs at the given level.
func NewZerologLoggerLevel(l zerolog.Logger, level zerolog.Level) Logger {
	return zerologLogger{l: l, level: level}
}

func (z zerologLogger) Log(_ context.Context, query string, args ...any) {
	z.l.WithLevel(z.level).
		Str("query", query).
		Interface("args", args).
		Msg("orm: statement")
}

// MultiLogger fans a statement out to every non-nil logger.
func MultiLogger(loggers ...Logger) Logger {
	var ls multiLogger
	for _, l := range loggers {
		if l != nil {
			ls = append(ls, l)
		}
	}
	return ls
}

type multiLogger []Logger

func (m multiLogger) Log(ctx context.Context, query string, args ...any) {
	for _, l := range m {
		l.Log(ctx, query, args...)
	}
}
