package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with app and returns it. Call it after
// logging has configured the writer and level.
func InitLogger(app string) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
