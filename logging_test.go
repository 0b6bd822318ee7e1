package drawpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLoggerDebugToggle(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggerFrom(zap.New(core))
	assert.True(t, l.DebugEnabled())

	l.Debugf("culled %d groups", 3)
	l.SetDebug(false)
	assert.False(t, l.DebugEnabled())
	l.Debugf("hidden")
	l.Warnf("target %s fell back", "shadow.sun")
	l.Errorf("boom")

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "culled 3 groups", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "target shadow.sun fell back", entries[1].Message)
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	}
}

func TestNewDefaultLogger(t *testing.T) {
	l := NewDefaultLogger("drawpipe", false)
	assert.False(t, l.DebugEnabled())
	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
}

func TestAppLogger(t *testing.T) {
	var nilApp *App
	assert.NotNil(t, nilApp.Logger())

	app := NewAppBuilder().Build()
	assert.False(t, app.Logger().DebugEnabled())

	app = NewAppBuilder().UseModule(LoggingModule{Prefix: "test", Debug: true}).Build()
	_, ok := app.Logger().(*DefaultLogger)
	assert.True(t, ok)
	assert.True(t, app.Logger().DebugEnabled())
}
