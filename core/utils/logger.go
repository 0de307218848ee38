package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger keeps the Printf/Errorf call sites of the handlers while writing
// structured output through zap.
type Logger struct {
	z *zap.SugaredLogger
}

func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.Sugar()}
}

func NewDevelopmentLogger() *Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.Sugar()}
}

func NewNopLogger() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

func NewLoggerFromZap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNopLogger()
	}
	return &Logger{z: z.Sugar()}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Infow(msg string, kv ...any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Infow(msg, kv...)
}

func (l *Logger) Warnw(msg string, kv ...any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warnw(msg, kv...)
}

func (l *Logger) With(kv ...any) *Logger {
	if l == nil || l.z == nil {
		return l
	}
	return &Logger{z: l.z.With(kv...)}
}

func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}
