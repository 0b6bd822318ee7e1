package drawpipe

import (
	"github.com/gekko3d/drawpipe/rt/core"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is shared with every rt package.
type Logger = core.Logger

// DefaultLogger writes through a zap console logger. Debug output can be
// toggled at runtime.
type DefaultLogger struct {
	level zap.AtomicLevel
	log   *zap.SugaredLogger
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	if prefix != "" {
		base = base.Named(prefix)
	}
	return &DefaultLogger{level: level, log: base.Sugar()}
}

// NewLoggerFrom wraps an existing zap logger.
func NewLoggerFrom(l *zap.Logger) *DefaultLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if l.Core().Enabled(zapcore.DebugLevel) {
		level.SetLevel(zapcore.DebugLevel)
	}
	return &DefaultLogger{level: level, log: l.Sugar()}
}

func (l *DefaultLogger) DebugEnabled() bool { return l.level.Enabled(zapcore.DebugLevel) }

func (l *DefaultLogger) SetDebug(enabled bool) {
	if enabled {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.InfoLevel)
	}
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if !l.DebugEnabled() {
		return
	}
	l.log.Debugf(format, args...)
}

func (l *DefaultLogger) Infof(format string, args ...any)  { l.log.Infof(format, args...) }
func (l *DefaultLogger) Warnf(format string, args ...any)  { l.log.Warnf(format, args...) }
func (l *DefaultLogger) Errorf(format string, args ...any) { l.log.Errorf(format, args...) }

// Sync flushes buffered entries.
func (l *DefaultLogger) Sync() error { return l.log.Sync() }

// LoggingModule installs a default logger as a resource.
type LoggingModule struct {
	Prefix string
	Debug  bool
}

func (m LoggingModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewDefaultLogger(m.Prefix, m.Debug))
}

func NewNopLogger() Logger { return core.NewNopLogger() }

// Logger returns the first Logger resource if present, otherwise a no-op logger.
// Safe to call at any time; never returns nil.
func (app *App) Logger() Logger {
	if app == nil {
		return NewNopLogger()
	}
	for _, r := range app.resources {
		if l, ok := r.(Logger); ok {
			return l
		}
	}
	return NewNopLogger()
}
