package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{input: "ERROR", expected: LevelError},
		{input: "warn", expected: LevelWarn},
		{input: "Warning", expected: LevelWarn},
		{input: " info ", expected: LevelInfo},
		{input: "DEBUG", expected: LevelDebug},
		{input: "trace", expected: LevelTrace},
		{input: "verbose", expected: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if level != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestPrefixedLoggerSharesLevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger("test")
	root.SetOutput(&buf)
	root.SetLevel(LevelWarn)

	child := root.WithPrefix("child")
	child.Info("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("Info should be filtered at WARN, got %q", buf.String())
	}

	child.Warn("shown %d", 2)
	out := buf.String()
	if !strings.Contains(out, "shown 2") {
		t.Errorf("Expected message in output, got %q", out)
	}
	if !strings.Contains(out, "component=child") {
		t.Errorf("Expected component field in output, got %q", out)
	}

	root.SetLevel(LevelTrace)
	if !child.Enabled(LevelTrace) {
		t.Error("Child should follow the parent's level")
	}
	if child.Level() != LevelTrace {
		t.Errorf("Expected TRACE, got %v", child.Level())
	}
}
