// Package logging builds the go-kit loggers used across the module.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// New returns a leveled logger writing to w. Format is "json" or "logfmt";
// loglevel is one of debug, info, warn, error.
func New(w io.Writer, format, loglevel string) (log.Logger, error) {
	var logger log.Logger
	switch strings.ToLower(format) {
	case "", "logfmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "", "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		return nil, fmt.Errorf("unknown log level %q", loglevel)
	}

	return logger, nil
}

// OrNop returns logger, or a no-op logger if it is nil.
func OrNop(logger log.Logger) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return logger
}
