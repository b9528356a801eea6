package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  logrus.Level
	}{
		{"debug level", "debug", logrus.DebugLevel},
		{"warn level", "WARN", logrus.WarnLevel},
		{"error level", " error ", logrus.ErrorLevel},
		{"default info", "", logrus.InfoLevel},
		{"garbage falls back", "loud", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			assert.Equal(t, tt.want, logger.GetLevel())
			_, ok := logger.Formatter.(*logrus.JSONFormatter)
			assert.True(t, ok, "expected JSON formatter")
		})
	}
}

func TestOrDefault(t *testing.T) {
	custom := New("debug")
	assert.Same(t, custom, OrDefault(custom))

	fallback := OrDefault(nil)
	assert.NotNil(t, fallback)
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}
