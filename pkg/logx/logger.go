// Package logx provides the structured, leveled, component-scoped logger
// used throughout condrules, wrapping logrus the way every package in this
// repository expects: Info/Debug/Warn/Error taking a message and an
// even-length list of key/value pairs.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger at the given level ("trace", "debug", "info",
// "warn", "error"; unrecognized values fall back to "info") tagged with
// component, which every log line carries as a field.
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(parseLevel(level))

	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// With returns a derived logger carrying additional fields for every
// subsequent call, without mutating the receiver.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(kv))}
}

func (l *Logger) Trace(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Trace(msg) }
func (l *Logger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }

func fields(kv []any) logrus.Fields {
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]any); ok {
			return logrus.Fields(m)
		}
	}
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}
