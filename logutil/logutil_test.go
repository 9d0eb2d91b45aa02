package logutil

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)

	logger.Log(context.Background(), LevelTrace, "trace message")
	logger.Info("info message", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("trace level not renamed: %s", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Errorf("attribute missing: %s", out)
	}
	if strings.Contains(out, "/") {
		t.Errorf("source path not trimmed to base name: %s", out)
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, 0) // info

	logger.Debug("dropped")
	if buf.Len() != 0 {
		t.Errorf("debug record passed an info-level handler: %s", buf.String())
	}

	logger.Info("kept")
	if buf.Len() == 0 {
		t.Error("info record dropped")
	}
}
