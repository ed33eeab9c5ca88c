// Package logging configures the process-wide zerolog logger and offers the
// printf-style helpers used across the module.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns a child of the global logger tagged with name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func Tracef(format string, args ...any) { log.Trace().Msgf(format, args...) }
func Debugf(format string, args ...any) { log.Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { log.Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { log.Warn().Msgf(format, args...) }
func Errf(format string, args ...any)   { log.Error().Msgf(format, args...) }
