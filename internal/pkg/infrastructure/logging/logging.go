package logging

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type loggerContextKey struct {
	name string
}

var loggerCtxKey = &loggerContextKey{"logger"}

// NewLogger creates the service logger, sets the global level and stores the
// logger in the returned context. Unknown levels fall back to info.
func NewLogger(ctx context.Context, serviceName, serviceVersion, level string) (context.Context, zerolog.Logger) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := log.With().
		Str("service", strings.ToLower(serviceName)).
		Str("version", serviceVersion).
		Logger()

	return NewContextWithLogger(ctx, logger), logger
}

func NewContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

func GetLoggerFromContext(ctx context.Context) zerolog.Logger {
	logger, ok := ctx.Value(loggerCtxKey).(zerolog.Logger)
	if !ok {
		return log.Logger
	}

	return logger
}
