package utils

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesFormattedMessages(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewLoggerFromZap(zap.New(core)).With("component", "test")
	logger.Printf("REQ %s %s", "GET", "/api/incidents")
	logger.Errorf("boom %d", 42)
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "REQ GET /api/incidents" {
		t.Fatalf("unexpected message %q", entries[0].Message)
	}
	if entries[1].Level != zap.ErrorLevel {
		t.Fatalf("expected error level, got %s", entries[1].Level)
	}
	if entries[0].ContextMap()["component"] != "test" {
		t.Fatalf("expected component field, got %v", entries[0].ContextMap())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Printf("ignored")
	l.Errorf("ignored")
	if err := l.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2024, 3, 9, 17, 45, 3, 0, time.FixedZone("CET", 3600))
	got := StartOfDay(in)
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
