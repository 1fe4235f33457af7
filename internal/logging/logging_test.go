package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: slog.LevelInfo, Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Flush(time.Second)

	Debug("hidden")
	With("ticket", 7).Info("push applied", "ref", "refs/tickets/07/7/1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, "push applied") || !strings.Contains(out, "ticket=7") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: slog.LevelDebug, Output: &buf, JSON: true}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Flush(time.Second)

	Warn("push rejected", "ref", "refs/heads/ticket/x")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if rec["msg"] != "push rejected" || rec["ref"] != "refs/heads/ticket/x" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestReinitKeepsDerivedLoggersWriting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "ticketd.log")
	second := filepath.Join(dir, "ticketd-2.log")

	if err := Init(Config{Level: slog.LevelInfo, LogFile: first}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	inflight := With("ticket", 7)

	// Reload with the same file, then move to another one.
	if err := Init(Config{Level: slog.LevelDebug, LogFile: first}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	inflight.Info("after same-path reload")
	if err := Init(Config{Level: slog.LevelInfo, LogFile: second}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	inflight.Info("after path change")
	Info("new logger")
	Flush(time.Second)

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	for _, msg := range []string{"after same-path reload", "after path change"} {
		if !strings.Contains(string(data), msg) {
			t.Errorf("%s missing %q:\n%s", first, msg, data)
		}
	}
	data, err = os.ReadFile(second)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "new logger") {
		t.Errorf("%s missing new logger output:\n%s", second, data)
	}
}

func TestCapturePanicReturnsValue(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: slog.LevelInfo, Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Flush(time.Second)

	if v := CapturePanic("boom", "method", "receive_push"); v != "boom" {
		t.Errorf("CapturePanic = %v", v)
	}
	if CapturePanic(nil) != nil {
		t.Error("nil panic should return nil")
	}
	if !strings.Contains(buf.String(), "panic: boom") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestSlogLevelToSentry(t *testing.T) {
	if slogLevelToSentry(slog.LevelError) != "error" || slogLevelToSentry(slog.LevelWarn) != "warning" {
		t.Error("unexpected sentry level mapping")
	}
}
