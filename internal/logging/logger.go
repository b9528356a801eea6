package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a JSON logger writing to stdout at the given level.
// Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

// Default returns an info level logger.
func Default() *logrus.Logger {
	return New("info")
}

// OrDefault returns logger, or a default one when it is nil.
func OrDefault(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return Default()
	}
	return logger
}
