package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"trace":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentResolvesLazily(t *testing.T) {
	log := Component("early")

	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)
	log.Info("hello", "n", 1)
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["component"] != "early" || rec["msg"] != "hello" {
		t.Errorf("record = %v", rec)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	ctx := ContextWithBlock(ContextWithSessionID(context.Background(), "s-1"), 3)
	if SessionID(ctx) != "s-1" {
		t.Errorf("SessionID = %q", SessionID(ctx))
	}
	if b, ok := Block(ctx); !ok || b != 3 {
		t.Errorf("Block = %d, %v", b, ok)
	}
	if _, ok := Block(context.Background()); ok {
		t.Error("empty context has a block")
	}

	WithContext(ctx, Component("engine")).Info("call")
	out := buf.String()
	for _, want := range []string{"session_id=s-1", "block=3", "component=engine"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}
