package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.Info().Int64("attempts", 42).Msg("mining progress")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "mining progress" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["attempts"] != float64(42) {
		t.Errorf("attempts = %v", entry["attempts"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestSetVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	l.SetVerbose(true)
	l.Debug().Msg("shown")
	if buf.Len() == 0 {
		t.Fatal("debug not written in verbose mode")
	}
}

func TestSetOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewWriter(&first)
	l.SetOutput(&second)
	l.Info().Msg("moved")

	if first.Len() != 0 || second.Len() == 0 {
		t.Errorf("first=%q second=%q", first.String(), second.String())
	}
}
