package klog

import (
	"fmt"
	"strings"
	"testing"
)

type recordingTB struct {
	lines []string
}

func (r *recordingTB) Logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestTestLoggerRoutesThroughLogf(t *testing.T) {
	tb := &recordingTB{}
	l := NewTestLogger(tb)

	l.Debugf("frame %d allocated", 7)
	l.Warningf("flusher retry on backend")

	if len(tb.lines) != 2 {
		t.Fatalf("got %d log lines, want 2: %v", len(tb.lines), tb.lines)
	}
	if !strings.Contains(tb.lines[0], "frame 7 allocated") {
		t.Errorf("line 0 = %q, want it to contain the formatted message", tb.lines[0])
	}
	if !strings.HasPrefix(tb.lines[0], "DEBUG") {
		t.Errorf("line 0 = %q, want a DEBUG prefix", tb.lines[0])
	}
	if !strings.HasPrefix(tb.lines[1], "WARNING") {
		t.Errorf("line 1 = %q, want a WARNING prefix", tb.lines[1])
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	tb := &recordingTB{}
	l := NewLogger(Warning, TestEmitter{TB: tb})

	l.Debugf("dropped")
	l.Infof("also dropped")
	l.Warningf("kept")

	if len(tb.lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %v", len(tb.lines), tb.lines)
	}
	if !strings.Contains(tb.lines[0], "kept") {
		t.Errorf("line 0 = %q, want it to contain %q", tb.lines[0], "kept")
	}
}
