// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestLogging_NoOpLogger(t *testing.T) {
	var logger Logger = &NoOpLogger{}
	logger.Debug("debug", Field{Key: "k", Value: 1})
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	if _, ok := logger.With(Field{Key: "k", Value: "v"}).(*NoOpLogger); !ok {
		t.Error("With() did not return a NoOpLogger")
	}
	if _, ok := OrNoOp(nil).(*NoOpLogger); !ok {
		t.Error("OrNoOp(nil) did not return a NoOpLogger")
	}
	if got := OrNoOp(logger); got != logger {
		t.Error("OrNoOp() replaced a non-nil logger")
	}
}

func TestLogging_StandardLogger(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		log   func(Logger)
		want  string
	}{
		{"debug", LevelDebug, func(l Logger) { l.Debug("painting", Field{Key: "rects", Value: 3}) }, "[DEBUG] painting rects=3"},
		{"info", LevelDebug, func(l Logger) { l.Info("server started", Field{Key: "port", Value: 5900}) }, "[INFO] server started port=5900"},
		{"quoted string", LevelDebug, func(l Logger) { l.Warn("capture", Field{Key: "display", Value: "screen 0"}) }, `[WARN] capture display="screen 0"`},
		{"error value", LevelDebug, func(l Logger) { l.Error("failed", Field{Key: "error", Value: errors.New("eof")}) }, `[ERROR] failed error="eof"`},
		{"below level", LevelWarn, func(l Logger) { l.Info("dropped") }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(&StandardLogger{Logger: log.New(&buf, "", 0), Level: tt.level})
			if got := strings.TrimSuffix(buf.String(), "\n"); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogging_StandardLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	base := &StandardLogger{Logger: log.New(&buf, "", 0), Level: LevelInfo}
	child := base.With(Field{Key: "plugin", Value: "DummyFramebuffer"})
	child.With(Field{Key: "client", Value: 7}).Info("connected", Field{Key: "addr", Value: "127.0.0.1"})
	child.Debug("dropped")

	want := "[INFO] connected plugin=DummyFramebuffer client=7 addr=127.0.0.1\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	base.Info("plain")
	if !strings.HasSuffix(buf.String(), "[INFO] plain\n") {
		t.Errorf("With() leaked fields into the parent: %q", buf.String())
	}
}

func TestLogging_SlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: SlogLevel(LevelInfo)})
	logger := NewSlogLogger(slog.New(handler)).With(Field{Key: "component", Value: "server"})
	logger.Debug("dropped")
	logger.Warn("capture failed", Field{Key: "error", Value: errors.New("no display")})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if record["msg"] != "capture failed" || record["level"] != "WARN" {
		t.Errorf("record = %v", record)
	}
	if record["component"] != "server" || record["error"] != "no display" {
		t.Errorf("fields = %v", record)
	}
}

func TestLogging_ParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, %v", tt.name, got, err)
			}
			if err != nil && !IsVNCError(err, ErrConfiguration) {
				t.Errorf("error %v is not a configuration error", err)
			}
		})
	}
}

func TestLogging_SlogLevel(t *testing.T) {
	for level, want := range map[Level]slog.Level{
		LevelDebug: slog.LevelDebug,
		LevelInfo:  slog.LevelInfo,
		LevelWarn:  slog.LevelWarn,
		LevelError: slog.LevelError,
	} {
		if got := SlogLevel(level); got != want {
			t.Errorf("SlogLevel(%v) = %v, want %v", level, got, want)
		}
	}
}
