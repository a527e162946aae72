package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" ERROR ": LevelError,
		"info":    LevelInfo,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevel(LevelError)
	assert.False(t, level.Enabled(zapcore.InfoLevel))
	assert.True(t, level.Enabled(zapcore.ErrorLevel))

	SetLevel(LevelDebug)
	assert.True(t, level.Enabled(zapcore.DebugLevel))
}

func TestConfigure(t *testing.T) {
	defer func() { require.NoError(t, Configure(LevelInfo, "console")) }()

	require.NoError(t, Configure(LevelDebug, "json"))
	assert.True(t, level.Enabled(zapcore.DebugLevel))

	// Must not panic with odd key/value lists or nil errors.
	Debug("debug message", "k", 1)
	Info("info message", "dangling")
	Error("error message", nil)
	Error("error message", errors.New("boom"), "k", "v")
	Sync()
}
