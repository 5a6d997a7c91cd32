package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q (%v)", line, err)
	}
	return entry
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "DEBUG", JSONFormat: true, Component: "cache"})

	l.Info("cache miss", "key", "search:ibm", "err", errors.New("boom"))

	entry := decodeLine(t, &buf)
	if entry["message"] != "cache miss" {
		t.Errorf("Expected message 'cache miss', got %v", entry["message"])
	}
	if entry["component"] != "cache" {
		t.Errorf("Expected component cache, got %v", entry["component"])
	}
	if entry["key"] != "search:ibm" {
		t.Errorf("Expected key field, got %v", entry["key"])
	}
	if entry["err"] != "boom" {
		t.Errorf("Expected error rendered as string, got %v", entry["err"])
	}
}

func TestPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l.Info("resolved %s via %s", "IBM", "static")

	entry := decodeLine(t, &buf)
	if entry["message"] != "resolved IBM via static" {
		t.Errorf("Expected formatted message, got %v", entry["message"])
	}
}

func TestEscapedPercentKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l.Info("budget at 100%%", "source", "alphavantage")

	entry := decodeLine(t, &buf)
	if entry["source"] != "alphavantage" {
		t.Errorf("Expected source field, got %v", entry["source"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "WARN", JSONFormat: true})

	l.Info("dropped")
	l.Debug("dropped too")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below WARN, got %q", buf.String())
	}

	l.Warn("kept")
	if buf.Len() == 0 {
		t.Error("Expected WARN entry to be written")
	}
}

func TestDerivedLoggersKeepFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l := base.WithComponent("risk").WithField("symbol", "AAPL").WithTraceID("abc")
	l.Info("protect")

	entry := decodeLine(t, &buf)
	if entry["component"] != "risk" || entry["symbol"] != "AAPL" || entry["trace_id"] != "abc" {
		t.Errorf("Derived fields missing: %v", entry)
	}
	if l.Component() != "risk" {
		t.Errorf("Expected component risk, got %s", l.Component())
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true}).WithComponent("ctx")

	ctx := NewContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("Expected logger from context")
	}

	traced, tl := WithTraceContext(ctx)
	if TraceID(traced) == "" {
		t.Error("Expected trace ID on context")
	}
	if FromContext(traced) != tl {
		t.Error("Expected traced logger on context")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DEBUG, "warning": WARN, "ERROR": ERROR, "bogus": INFO}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}
