package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved backends
func PrintBanner(config *Config, command string, logger arbor.ILogger) {
	banner.PrintSimple("Tempo", GetVersion())

	logger.Info().
		Str("command", command).
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Str("queue", config.Queue.Backend).
		Msg("Tempo event pipeline")
}
