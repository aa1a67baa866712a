// Package logging wraps zap into the package-level logger used across the
// server: a console encoder with colored levels and short caller info,
// exposed through a handful of printf-style helpers so call sites don't
// have to import zap directly.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

func init() {
	log = build(zapcore.InfoLevel)
}

func build(level zapcore.Level) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

// SetLevel rebuilds the global logger at the given level. Called once from
// config load; "debug" enables caller-level Debug output.
func SetLevel(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	lvl := zapcore.InfoLevel
	if debug {
		lvl = zapcore.DebugLevel
	}
	log = build(lvl)
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

func Infof(format string, args ...interface{})  { L().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { L().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { L().Error(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...interface{}) { L().Debug(fmt.Sprintf(format, args...)) }

// With returns a child logger with the given structured fields attached,
// for components that want to avoid repeating e.g. guild_id on every line.
func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }
