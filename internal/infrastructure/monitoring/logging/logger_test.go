package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: "debug", Format: format, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_BadOutputPath(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/sub/app.log"}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestZapLogger_FieldsAreTyped(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)

	l.Info("item done",
		ItemID("sku-9"),
		Int("attempts", 2),
		Duration("took", 15*time.Millisecond),
		Bool("cached", false),
		Float64("mem_mb", 1.5),
		Any("uint", uint64(7)),
		Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "item done", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "sku-9", ctx[KeyItemID])
	assert.Equal(t, int64(2), ctx["attempts"])
	assert.Equal(t, 15*time.Millisecond, ctx["took"])
	assert.Equal(t, false, ctx["cached"])
	assert.Equal(t, uint64(7), ctx["uint"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)

	child := l.Named("engine").With(RunID("run-1"))
	child.Warn("slow chunk")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "engine", entry.LoggerName)
	assert.Equal(t, "run-1", entry.ContextMap()[KeyRunID])
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
}

func TestZapLogger_SetLevelAppliesToChildren(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)
	child := l.Named("child")

	setter, ok := l.(LevelSetter)
	require.True(t, ok)

	child.Debug("visible")
	setter.SetLevel("warn")
	child.Debug("hidden")
	child.Info("hidden too")
	child.Error("visible again")

	assert.Equal(t, "warn", setter.Level())
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
	assert.Equal(t, "visible again", logs.All()[1].Message)
}

func TestErr_Nil(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.With(String("a", "b")).Named("n").Error("y")
	})
}

func TestDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newObservedLogger(zapcore.InfoLevel)
	SetDefault(l)
	assert.Same(t, l, Default())

	SetDefault(nil)
	assert.Same(t, l, Default())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l, _ := newObservedLogger(zapcore.InfoLevel)
	assert.Same(t, l, OrNop(l))
}
