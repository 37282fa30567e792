package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newWriter(w io.Writer, level string) Logger {
	setGlobals()
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{fixed: &zl}
}

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := newWriter(&buf, "debug").Component("sweep")
	log.Info("tick done", Int("users", 3), Err(errors.New("boom")), String("comp", "override"))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "tick done" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["users"] != float64(3) {
		t.Fatalf("users = %v", m["users"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["comp"] != "override" {
		t.Fatalf("comp = %v, want call-site field to win", m["comp"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := newWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error should be enabled")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop() should not be zero")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"x","comp":"notifier","caller":"deliver.go:9","message":"dispatch failed","user":42,"channel":"email"}`
	got := formatChatLine([]byte(line))
	want := "⚠️ [notifier] dispatch failed\nchannel: email\nuser: 42"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}

	raw := formatChatLine([]byte("  not json  \n"))
	if raw != "not json" {
		t.Fatalf("raw = %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate(strings.Repeat("é", 10), 8); got != "éé..." {
		t.Fatalf("truncate split a rune: %q", got)
	}
}
