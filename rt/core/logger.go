package core

import "fmt"

// Logger is the logging surface every pipeline stage writes to.
type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func NewNopLogger() Logger { return &nopLogger{} }

func (n *nopLogger) DebugEnabled() bool                { return false }
func (n *nopLogger) SetDebug(enabled bool)             {}
func (n *nopLogger) Debugf(format string, args ...any) {}
func (n *nopLogger) Infof(format string, args ...any)  {}
func (n *nopLogger) Warnf(format string, args ...any)  {}
func (n *nopLogger) Errorf(format string, args ...any) {}

// OrNop never returns nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

// Invariant reports a programmer error: it panics when strict is set and
// logs otherwise so release builds keep rendering.
func Invariant(strict bool, log Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if strict {
		panic(msg)
	}
	OrNop(log).Errorf("invariant violated: %s", msg)
}
