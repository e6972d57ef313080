// Package klog is the kernel's leveled logger, modeled on gvisor's
// pkg/log: a small Level type, a BasicLogger interface that every
// subsystem logs through, and a swappable package-level default so the
// host-test binary (cmd/mizu) and the real SBI-console target can each
// plug in their own emitter without subsystems caring which one is live.
package klog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a logging verbosity level, ordered least to most severe.
type Level int32

const (
	Debug Level = iota
	Info
	Warning
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// Emitter receives a fully formatted log line at a given level.
type Emitter interface {
	Emit(level Level, timestamp time.Time, format string, args ...any)
}

// BasicLogger is the interface every kernel subsystem logs through.
type BasicLogger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	IsLogging(level Level) bool
}

// Logger pairs an Emitter with a minimum level filter.
type Logger struct {
	min     atomic.Int32
	emitter Emitter
}

// NewLogger creates a Logger at the given minimum level.
func NewLogger(min Level, emitter Emitter) *Logger {
	l := &Logger{emitter: emitter}
	l.min.Store(int32(min))
	return l
}

// SetLevel adjusts the minimum level at runtime (e.g. a debug build
// raising verbosity after a panic).
func (l *Logger) SetLevel(min Level) { l.min.Store(int32(min)) }

// IsLogging implements BasicLogger.
func (l *Logger) IsLogging(level Level) bool { return int32(level) >= l.min.Load() }

func (l *Logger) emit(level Level, format string, args []any) {
	if !l.IsLogging(level) {
		return
	}
	l.emitter.Emit(level, time.Now(), format, args...)
}

// Debugf implements BasicLogger.
func (l *Logger) Debugf(format string, args ...any) { l.emit(Debug, format, args) }

// Infof implements BasicLogger.
func (l *Logger) Infof(format string, args ...any) { l.emit(Info, format, args) }

// Warningf implements BasicLogger.
func (l *Logger) Warningf(format string, args ...any) { l.emit(Warning, format, args) }

var (
	defaultMu sync.RWMutex
	def       BasicLogger = NewLogger(Info, writerEmitter{})
)

// SetDefault swaps the package-level default logger, e.g. cmd/mizu wiring
// in a logrus-backed emitter for host runs.
func SetDefault(l BasicLogger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	def = l
}

func current() BasicLogger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return def
}

// Debugf logs at Debug level on the default logger.
func Debugf(format string, args ...any) { current().Debugf(format, args...) }

// Infof logs at Info level on the default logger.
func Infof(format string, args ...any) { current().Infof(format, args...) }

// Warningf logs at Warning level on the default logger.
func Warningf(format string, args ...any) { current().Warningf(format, args...) }

// TB is the subset of testing.T/B this package logs through, so
// pkg/klog itself never imports the testing package.
type TB interface {
	Logf(format string, args ...any)
}

// TestEmitter routes log lines through a testing.T/B's Logf, the way
// gvisor's pkg/log tests capture output through a recording io.Writer
// (pkg/log/log_test.go's testWriter) rather than stdout, so a failing
// assertion's log context only shows up attached to that test's output.
type TestEmitter struct {
	TB TB
}

// NewTestLogger returns a Logger at Debug level backed by a TestEmitter,
// for tests that want every subsystem's klog output attributed to the
// current test.
func NewTestLogger(tb TB) *Logger {
	return NewLogger(Debug, TestEmitter{TB: tb})
}

// Emit implements Emitter.
func (e TestEmitter) Emit(level Level, ts time.Time, format string, args ...any) {
	e.TB.Logf("%s %s", level, fmt.Sprintf(format, args...))
}

// writerEmitter is the minimal emitter used before any host wiring has
// happened (first boot on the real target, where stdout is the SBI
// console). It never imports os/fmt.Println directly from callers.
type writerEmitter struct{}

func (writerEmitter) Emit(level Level, ts time.Time, format string, args ...any) {
	fmt.Printf("%s %s %s\n", ts.Format(time.RFC3339Nano), level, fmt.Sprintf(format, args...))
}
