package repbot

import (
	"os"

	"github.com/charmbracelet/log"
)

const logTimeFormat = "15:04:05"

// NewLogger returns a stderr logger tagged with the component name, at the
// global log level.
func NewLogger(prefix string) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          prefix,
		Level:           log.GetLevel(),
		ReportTimestamp: true,
		TimeFormat:      logTimeFormat,
	})
}
