// Package definition holds the peer-facing ambient interfaces that don't
// belong to any single CRDT component: the logger contract and its default
// implementation.
package definition

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging contract every core component is handed at
// construction time. Shaped after the teacher project's definition.Logger,
// kept so callers that already depend on this interface don't need to
// change, with the default implementation now backed by logrus instead of
// the standard library's log.Logger.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}

// DefaultLogger is the logrus-backed Logger used when no caller-supplied
// implementation is configured. It tags every line with stable fields so
// multi-peer test output and production logs can be filtered per peer.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a DefaultLogger that attaches peer/channel fields
// to every emitted line.
func NewDefaultLogger(peer, channel string) *DefaultLogger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	entry := base.WithFields(logrus.Fields{
		"component": "scribe",
		"peer":      peer,
		"channel":   channel,
	})
	return &DefaultLogger{entry: entry}
}

func (l *DefaultLogger) Info(v ...interface{})  { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}
func (l *DefaultLogger) Warn(v ...interface{}) { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}
func (l *DefaultLogger) Error(v ...interface{}) { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}
func (l *DefaultLogger) Debug(v ...interface{}) { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}
func (l *DefaultLogger) Fatal(v ...interface{}) { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}
func (l *DefaultLogger) Panic(v ...interface{}) { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{}) {
	l.entry.Panicf(format, v...)
}

// ToggleDebug flips the minimum level between Info and Debug, returning the
// new debug state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

// NoopLogger discards everything. Handy for tests that don't want log
// output cluttering -v runs.
type NoopLogger struct{}

func (NoopLogger) Info(...interface{})            {}
func (NoopLogger) Infof(string, ...interface{})   {}
func (NoopLogger) Warn(...interface{})            {}
func (NoopLogger) Warnf(string, ...interface{})   {}
func (NoopLogger) Error(...interface{})           {}
func (NoopLogger) Errorf(string, ...interface{})  {}
func (NoopLogger) Debug(...interface{})           {}
func (NoopLogger) Debugf(string, ...interface{})  {}
func (NoopLogger) Fatal(...interface{})           {}
func (NoopLogger) Fatalf(string, ...interface{})  {}
func (NoopLogger) Panic(...interface{})           {}
func (NoopLogger) Panicf(string, ...interface{})  {}
func (NoopLogger) ToggleDebug(bool) bool          { return false }
