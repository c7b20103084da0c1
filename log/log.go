//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package log provides the structured logger used across the
// memoization pipeline: a thin zap wrapper behind a small interface so
// callers can swap it out without touching call sites.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level name constants accepted by SetLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Logger is the logging surface every call site in this module uses.
// Default satisfies it out of the box; swap Default for a different
// implementation (e.g. to route into a host application's own logger)
// as long as it implements this interface.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// atomicLevel backs SetLevel and is shared with Default's zap core so
// changing it takes effect on the next log call with no rebuild.
var atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var consoleEncoding = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalColorLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Default is the package-level Logger every Debug/Info/.../Fatal
// free function delegates to. It writes console-encoded lines to
// stdout at atomicLevel, which SetLevel adjusts at runtime.
var Default Logger = zap.New(
	zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoding), zapcore.AddSync(os.Stdout), atomicLevel),
	zap.AddCaller(),
	zap.AddCallerSkip(1),
).Sugar()

// SetLevel adjusts the minimum level Default emits. An unrecognized
// level falls back to info rather than erroring, since log setup runs
// before most validation paths exist to report it through.
func SetLevel(level string) {
	lvl, ok := map[string]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
		LevelFatal: zapcore.FatalLevel,
	}[level]
	if !ok {
		lvl = zapcore.InfoLevel
	}
	atomicLevel.SetLevel(lvl)
}

func Debug(args ...any)                 { Default.Debug(args...) }
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }
func Info(args ...any)                  { Default.Info(args...) }
func Infof(format string, args ...any)  { Default.Infof(format, args...) }
func Warn(args ...any)                  { Default.Warn(args...) }
func Warnf(format string, args ...any)  { Default.Warnf(format, args...) }
func Error(args ...any)                 { Default.Error(args...) }
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }
func Fatal(args ...any)                 { Default.Fatal(args...) }
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }

// Tracef logs at debug level with a "[TRACE] " prefix; the underlying
// Logger interface has no dedicated trace level.
func Tracef(format string, args ...any) {
	Default.Debugf("[TRACE] "+format, args...)
}
