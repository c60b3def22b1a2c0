// Package logrus adapts a logrus entry to cacheaside.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/cacheaside"
)

var _ cacheaside.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=cacheaside.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "cacheaside")}
}

func (l Logger) Debug(msg string, f cacheaside.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f cacheaside.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f cacheaside.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f cacheaside.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f cacheaside.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	if err, ok := f["err"].(error); ok {
		// logrus renders the error under its own key
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return l.E.WithError(err).WithFields(rest)
	}
	return l.E.WithFields(logrus.Fields(f))
}
