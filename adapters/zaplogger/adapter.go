// Package zaplogger backs the glog logging contracts with a zap
// SugaredLogger.
package zaplogger

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger adapts a zap SugaredLogger. Trace maps to zap's debug level.
type Logger struct {
	sugar *zap.SugaredLogger
}

func New(sugar *zap.SugaredLogger) *Logger {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Logger{sugar: sugar}
}

// NewWithLevel builds a production JSON logger writing to stderr at level
// (debug, info, warn, error). Development mode switches to the console
// encoder.
func NewWithLevel(level string, development bool) (*Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("zaplogger: build logger: %w", err)
	}
	return New(base.Sugar()), nil
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("zaplogger: unknown level %q", level)
	}
}

func (l *Logger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, normalizeArgs(args)...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, normalizeArgs(args)...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, normalizeArgs(args)...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, normalizeArgs(args)...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, normalizeArgs(args)...) }
func (l *Logger) Fatal(msg string, args ...any) { l.sugar.Fatalw(msg, normalizeArgs(args)...) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

// Named returns a child logger with the zap name set.
func (l *Logger) Named(name string) *Logger {
	if strings.TrimSpace(name) == "" {
		return l
	}
	return &Logger{sugar: l.sugar.Named(name)}
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Provider hands out named children of a root Logger.
type Provider struct {
	root *Logger
}

func NewProvider(root *Logger) *Provider {
	if root == nil {
		root = New(nil)
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	return p.root.Named(name)
}

// normalizeArgs stringifies non-string keys and pads a dangling key so zap
// never reports an odd key/value list.
func normalizeArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args)+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			out = append(out, key, "(missing)")
			break
		}
		value := args[i+1]
		if err, isErr := value.(error); isErr && err != nil {
			value = err.Error()
		}
		out = append(out, key, value)
	}
	return out
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
