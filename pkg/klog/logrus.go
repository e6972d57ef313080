package klog

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusEmitter adapts klog onto a logrus.Logger, used by cmd/mizu so host
// runs get readable, structured output; the real SBI-console build never
// imports this file's dependency because nothing on that path calls
// NewLogrusEmitter.
type LogrusEmitter struct {
	L *logrus.Logger
}

// NewLogrusEmitter returns an Emitter backed by a fresh logrus.Logger.
func NewLogrusEmitter() *LogrusEmitter {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &LogrusEmitter{L: l}
}

// Emit implements Emitter.
func (e *LogrusEmitter) Emit(level Level, _ time.Time, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case Debug:
		e.L.Debug(msg)
	case Warning:
		e.L.Warning(msg)
	default:
		e.L.Info(msg)
	}
}
