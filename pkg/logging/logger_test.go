package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{" debug ", DebugLevel},
		{"info", InfoLevel},
		{"Warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRoutingFields(t *testing.T) {
	if f := Step(7); f.Key != "step" || f.Value != 7 {
		t.Errorf("Step() = %+v", f)
	}
	if f := Segment(1234); f.Key != "segment" || f.Value != int64(1234) {
		t.Errorf("Segment() = %+v", f)
	}
	if f := Duration("dt", 5*time.Minute); f.Value != "5m0s" {
		t.Errorf("Duration() = %+v", f)
	}
	if f := Error(nil); f.Value != nil {
		t.Errorf("Error(nil) = %+v", f)
	}
	if f := Error(errors.New("boom")); f.Value != "boom" {
		t.Errorf("Error() = %+v", f)
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("Failed to unmarshal %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestJSONLogger_BasicLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	logger.Info("step complete", Step(3), Reach(9))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != "INFO" || e.Message != "step complete" {
		t.Errorf("entry = %+v", e)
	}
	if e.Fields["step"] != float64(3) || e.Fields["reach"] != float64(9) {
		t.Errorf("fields = %v", e.Fields)
	}
}

func TestJSONLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")

	if got := len(decodeLines(t, &buf)); got != 2 {
		t.Errorf("got %d entries, want 2", got)
	}
}

func TestJSONLogger_WithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := NewJSONLogger(&buf, InfoLevel)
	child := root.With(RunID("abc"), Component("scheduler"))

	root.SetLevel(ErrorLevel)
	child.Info("suppressed")
	child.Error("kept", Step(1))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Fields["run_id"] != "abc" || entries[0].Fields["component"] != "scheduler" {
		t.Errorf("child fields not carried: %v", entries[0].Fields)
	}
	if child.GetLevel() != ErrorLevel {
		t.Errorf("child level = %v, want ERROR", child.GetLevel())
	}
}

func TestJSONLogger_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.With(Reach(i)).Info("reach done")
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 16 {
		t.Errorf("got %d entries, want 16", got)
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	op := StartTimer(logger, "run step", Step(2))
	op.EndError(errors.New("convergence"), Reach(4))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != "ERROR" {
		t.Errorf("Level = %v, want ERROR", e.Level)
	}
	for _, key := range []string{"step", "reach", "latency", "error"} {
		if _, ok := e.Fields[key]; !ok {
			t.Errorf("missing field %q in %v", key, e.Fields)
		}
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = NewNopLogger()
	l.Info("nothing")
	if l.With(Step(1)) == nil {
		t.Error("With() returned nil")
	}
}

func TestOrDefault(t *testing.T) {
	custom := NewNopLogger()
	if OrDefault(custom) != custom {
		t.Error("OrDefault should keep a non-nil logger")
	}
	if OrDefault(nil) == nil {
		t.Error("OrDefault(nil) returned nil")
	}
}
