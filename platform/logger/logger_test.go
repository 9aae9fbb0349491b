package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWithContextAddsRequestAndUser(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserIDKey, "user-1")
	log.WithContext(ctx).Info("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["request_id"] != "req-1" || lines[0]["user_id"] != "user-1" {
		t.Fatalf("unexpected log output %v", lines)
	}
}

func TestTransitionEventLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	log.TransitionEvent("d1", "sourcing", "screening", "manual", true, "")
	log.TransitionEvent("d1", "screening", "closing", "", false, "invalid_transition")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["level"] != "INFO" || lines[0]["type"] != "manual" {
		t.Fatalf("unexpected success line %v", lines[0])
	}
	if lines[1]["level"] != "WARN" || lines[1]["failure"] != "invalid_transition" {
		t.Fatalf("unexpected failure line %v", lines[1])
	}
	if _, ok := lines[1]["type"]; ok {
		t.Fatalf("rejected transitions carry no type: %v", lines[1])
	}
}

func TestMaintenanceStepWarnsOnFailures(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)
	log.MaintenanceStep("job", "detect_stale_deals", "partial_success", 10, 2, 40)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "WARN" {
		t.Fatalf("expected a warn line, got %v", lines)
	}
}

func TestLevelOverride(t *testing.T) {
	if level("error", true) != slog.LevelError {
		t.Fatal("LOG_LEVEL must win over the environment default")
	}
	if level("", false) != slog.LevelInfo || level("", true) != slog.LevelDebug {
		t.Fatal("unexpected defaults")
	}
	if level("loud", false) != slog.LevelInfo {
		t.Fatal("invalid levels fall back to the default")
	}
}

func TestNopDiscards(t *testing.T) {
	Nop().DatabaseError("op", errors.New("x"))
}
