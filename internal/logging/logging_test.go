package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":      zapcore.DebugLevel,
		"dev":        zapcore.DebugLevel,
		"info":       zapcore.InfoLevel,
		"warning":    zapcore.WarnLevel,
		"prod":       zapcore.ErrorLevel,
		"nonsense":   zapcore.ErrorLevel,
		"production": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInitHonoursEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FORMAT", "json")

	logger := Init()

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}
