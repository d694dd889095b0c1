package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

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

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("debug", "json", &buf).Debug("ingest.accepted", "device_id", "ESP32_001")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json format: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "ingest.accepted" || rec["device_id"] != "ESP32_001" {
		t.Fatalf("unexpected record %v", rec)
	}

	buf.Reset()
	t.Setenv("NO_COLOR", "1")
	NewLogger("warn", "pretty", &buf).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level: %q", buf.String())
	}
	NewLogger("info", "pretty", &buf).Info("server.start", "addr", ":8000")
	if got := buf.String(); !strings.Contains(got, "server.start") || !strings.Contains(got, "addr=:8000") {
		t.Fatalf("unexpected pretty output %q", got)
	}
}
