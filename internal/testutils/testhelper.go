package testutils

import (
	"io"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// NewTestLogger creates a debug-level logger that discards output and records
// entries in the returned hook.
func NewTestLogger() (*logrus.Logger, *logtest.Hook) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	hook := logtest.NewLocal(logger)
	return logger, hook
}

// HasEntry reports whether the hook recorded an entry with the given message
func HasEntry(hook *logtest.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}
