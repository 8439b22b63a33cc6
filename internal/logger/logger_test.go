package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestProductionLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("production", &buf)
	log.Info("sale recorded", "invoice", 7)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "sale recorded" {
		t.Fatalf("unexpected msg %v", line["msg"])
	}
}

func TestDevelopmentLoggerEmitsText(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("development", &buf)
	log.Debug("cache miss", "key", "dashboard")

	if !strings.Contains(buf.String(), "key=dashboard") {
		t.Fatalf("expected text attrs, got %q", buf.String())
	}
}
