// Package logger provides structured logging scoped to a run, a worker,
// or a package.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface the rest of the project depends on.
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithScope(scope string) Logger
}

// Field is a structured key/value pair attached to a log entry
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ScopedLogger routes calls to a shared logrus instance, tagging every
// entry with its scope.
type ScopedLogger struct {
	base  *logrus.Logger
	scope string
}

// forgeFormatter renders entries as
// "⚒ 15:04:05 LEVEL [scope] message key=value ...".
type forgeFormatter struct {
	colors bool
}

var levelStyles = map[logrus.Level]struct {
	label string
	style *color.Color
}{
	logrus.ErrorLevel: {"ERROR", color.New(color.FgRed, color.Bold)},
	logrus.WarnLevel:  {"WARN", color.New(color.FgYellow, color.Bold)},
	logrus.InfoLevel:  {"INFO", color.New(color.FgCyan)},
	logrus.DebugLevel: {"DEBUG", color.New(color.FgWhite, color.Faint)},
}

func (f *forgeFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	style, ok := levelStyles[entry.Level]
	if !ok {
		style.label = strings.ToUpper(entry.Level.String())
		style.style = color.New(color.FgGreen)
	}

	label := style.label
	scope := ""
	if s, found := entry.Data["scope"]; found {
		scope = fmt.Sprintf("%v", s)
	}
	if f.colors {
		label = style.style.Sprint(label)
		if scope != "" {
			scope = color.BlueString(scope)
		}
	}

	var b strings.Builder
	b.WriteString("⚒ ")
	b.WriteString(entry.Time.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(label)
	if scope != "" {
		fmt.Fprintf(&b, " [%s]", scope)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "scope" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func newBase(logLevel string, colors bool, output io.Writer) *logrus.Logger {
	base := logrus.New()
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		base.SetLevel(level)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	base.SetFormatter(&forgeFormatter{colors: colors})
	base.SetOutput(output)
	return base
}

// CreateLogger creates a console logger, optionally mirrored to a file
func CreateLogger(logFile string, logLevel string) Logger {
	output := io.Writer(os.Stdout)
	if logFile != "" {
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666); err == nil {
			output = io.MultiWriter(os.Stdout, file)
		}
	}
	return &ScopedLogger{base: newBase(logLevel, true, output)}
}

// CreateLoggerWithOutput creates a logger writing to the given output.
// A nil output discards everything, which tests use to silence noise.
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	if output == nil {
		output = io.Discard
	}
	return &ScopedLogger{base: newBase(logLevel, false, output)}
}

// WithScope returns a logger tagging entries with the given scope
func (l *ScopedLogger) WithScope(scope string) Logger {
	return &ScopedLogger{base: l.base, scope: scope}
}

func (l *ScopedLogger) entry(fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields)+1)
	if l.scope != "" {
		data["scope"] = l.scope
	}
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.base.WithFields(data)
}

func (l *ScopedLogger) Info(message string, fields ...Field) {
	l.entry(fields).Info(message)
}

func (l *ScopedLogger) Error(message string, fields ...Field) {
	l.entry(fields).Error(message)
}

func (l *ScopedLogger) Warn(message string, fields ...Field) {
	l.entry(fields).Warn(message)
}

func (l *ScopedLogger) Debug(message string, fields ...Field) {
	l.entry(fields).Debug(message)
}

// Success logs at info level with a success marker
func (l *ScopedLogger) Success(message string, fields ...Field) {
	l.entry(fields).Info("✅ " + message)
}
