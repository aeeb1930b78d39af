// Package logger is a process-wide leveled logger backed by zap.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global = zap.NewNop().Sugar()
	// logFile is the file opened by the last Init, closed when replaced.
	logFile *os.File
)

// Init configures the global logger. format is "json" or "console"; a
// non-empty file is written in addition to stderr.
func Init(level, format, file string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	var f *os.File
	if file != "" {
		if dir := filepath.Dir(file); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err = os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), lvl)
	if err := set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(), f); err != nil {
		Warnf("Failed to close previous log file: %v", err)
	}
	return nil
}

// SetLogger replaces the global logger; tests use it with zaptest or observer cores.
func SetLogger(l *zap.Logger) {
	_ = set(l.WithOptions(zap.AddCallerSkip(1)).Sugar(), nil)
}

// set swaps the global logger and closes the file owned by the previous one.
func set(s *zap.SugaredLogger, f *os.File) error {
	mu.Lock()
	prev, prevFile := global, logFile
	global, logFile = s, f
	mu.Unlock()
	if prevFile == nil {
		return nil
	}
	_ = prev.Sync()
	return prevFile.Close()
}

// Close flushes the logger and releases its log file, leaving a no-op logger.
func Close() error {
	return set(zap.NewNop().Sugar(), nil)
}

// L returns the global logger for structured calls.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func Debugf(format string, args ...any) { L().Debugf(format, args...) }

func Infof(format string, args ...any) { L().Infof(format, args...) }

func Warnf(format string, args ...any) { L().Warnf(format, args...) }

func Errorf(format string, args ...any) { L().Errorf(format, args...) }

// Sync flushes buffered entries.
func Sync() error { return L().Sync() }
