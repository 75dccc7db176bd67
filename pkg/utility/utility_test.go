package utility

import (
	"log/slog"

	"github.com/elektrummon/elektrummon/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
