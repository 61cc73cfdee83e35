// +build !logless

// Package logger provides the process-wide structured logger shared by
// every navcore component (internal/bus, internal/mcl, internal/likelihood,
// cmd/navcored), grounded on the teacher's pkg/logger zerolog setup. A
// logless build tag swaps Log for a no-op implementation (logger_empty.go)
// for size-constrained builds.
package logger

import (
	"os"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Log is the shared console logger. Caller() is kept so a DEBUG line points
// back at the component that emitted it; NAVCORE_LOG_LEVEL overrides the
// default Info level (trace|debug|info|warn|error|disabled).
var Log = logger.With().Caller().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if v := os.Getenv("NAVCORE_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}
