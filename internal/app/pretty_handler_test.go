package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_WritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h)

	log.Info("relay.register", "source_id", "caller-0001")
	log.Warn("relay.dispatch.malformed", "reason", "bad json")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "relay.register") || !strings.Contains(lines[0], "source_id=caller-0001") {
		t.Fatalf("first line missing expected fields: %q", lines[0])
	}
	if !strings.Contains(lines[1], "WARN") {
		t.Fatalf("second line missing level tag: %q", lines[1])
	}
}

func TestPrettyHandler_WithAttrsCarriesForward(t *testing.T) {
	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h).With("target", "responder-0002")

	log.Info("relay.forward")

	if !strings.Contains(buf.String(), "target=responder-0002") {
		t.Fatalf("expected carried attr in output: %q", buf.String())
	}
}

func TestPrettyHandler_EnabledRespectsLevel(t *testing.T) {
	h := newPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("expected info to be disabled at warn threshold")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("expected error to be enabled at warn threshold")
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_JSONFormat(t *testing.T) {
	t.Parallel()
	h := newHandler(slog.LevelInfo, "json")
	if _, ok := h.(*slog.JSONHandler); !ok {
		t.Fatalf("expected *slog.JSONHandler, got %T", h)
	}
}

func TestNewHandler_TextFormat(t *testing.T) {
	t.Parallel()
	h := newHandler(slog.LevelInfo, "text")
	if _, ok := h.(*slog.TextHandler); !ok {
		t.Fatalf("expected *slog.TextHandler, got %T", h)
	}
}

func TestNewHandler_PrettyFormatExplicit(t *testing.T) {
	t.Parallel()
	h := newHandler(slog.LevelInfo, "pretty")
	if _, ok := h.(*prettyHandler); !ok {
		t.Fatalf("expected *prettyHandler, got %T", h)
	}
}

func TestStripANSI_RemovesColorCodes(t *testing.T) {
	colored := ansiRed + "boom" + ansiReset
	if got := stripANSI(colored); got != "boom" {
		t.Fatalf("stripANSI(%q)=%q want boom", colored, got)
	}
}

func TestTruncateString_AddsEllipsis(t *testing.T) {
	if got := truncateString("hello world", 5); got != "hell…" {
		t.Fatalf("truncateString=%q", got)
	}
	if got := truncateString("short", 10); got != "short" {
		t.Fatalf("truncateString should not modify short strings, got %q", got)
	}
}
