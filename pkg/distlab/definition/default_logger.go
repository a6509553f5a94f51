package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewDefaultLogger builds the Logger used if the caller does not
// supply its own implementation. It writes to stderr, one peer's
// identity worth of fields already attached.
func NewDefaultLogger(peer string) *DefaultLogger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Level = logrus.InfoLevel
	return &DefaultLogger{
		entry: l.WithField("peer", peer),
	}
}

// DefaultLogger adapts a logrus entry to the Logger interface.
type DefaultLogger struct {
	entry *logrus.Entry
}

func (l *DefaultLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}
func (l *DefaultLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

// ToggleDebug flips the logger's level between Info and Debug,
// returning the new state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.Level = logrus.DebugLevel
	} else {
		l.entry.Logger.Level = logrus.InfoLevel
	}
	return value
}
