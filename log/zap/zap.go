// Package zap adapts a *zap.Logger to cacheaside.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/cacheaside"
)

var _ cacheaside.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "cacheaside" so cache events are easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("cacheaside")} }

func (z Logger) Debug(msg string, f cacheaside.Fields) { z.log(zap.DebugLevel, msg, f) }
func (z Logger) Info(msg string, f cacheaside.Fields)  { z.log(zap.InfoLevel, msg, f) }
func (z Logger) Warn(msg string, f cacheaside.Fields)  { z.log(zap.WarnLevel, msg, f) }
func (z Logger) Error(msg string, f cacheaside.Fields) { z.log(zap.ErrorLevel, msg, f) }

func (z Logger) log(lvl zapcore.Level, msg string, f cacheaside.Fields) {
	// skip field construction for disabled levels on the hot path
	ce := z.L.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(fields(f)...)
}

// fields renders f in key order so log lines are stable.
func fields(f cacheaside.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
