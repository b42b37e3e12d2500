package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetGlobal(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})
}

func TestInitConfiguresGlobalLogger(t *testing.T) {
	resetGlobal(t)

	require.NoError(t, Init("debug"))

	logger := Logger()
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("chatty"))
	require.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	resetGlobal(t)
	core, recorded := observer.New(zap.DebugLevel)
	globalLogger = zap.New(core)

	Info("grant issued", zap.String("app_code", "billing"))
	Error("release failed")
	Warn("apply expired")
	Debug("cache miss")

	entries := recorded.All()
	require.Len(t, entries, 4)

	want := []string{"grant issued", "release failed", "apply expired", "cache miss"}
	for i, entry := range entries {
		require.Equal(t, want[i], entry.Message)
	}
	require.Equal(t, "billing", entries[0].ContextMap()["app_code"])
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	resetGlobal(t)
	core, recorded := observer.New(zap.InfoLevel)
	globalLogger = zap.New(core)

	WithModule("permissions").Info("renewal window opened")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "permissions", entries[0].ContextMap()["module"])
}
