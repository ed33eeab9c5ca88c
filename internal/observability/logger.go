package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppLogger derives an app-tagged logger from the process logger configured
// by the logging package.
func AppLogger(app string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Logger()
}
