package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_RejectsUnknownLevelAndFormat(t *testing.T) {
	if err := Init("loud", "json", ""); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := Init("info", "xml", ""); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestInit_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sigma.log")
	if err := Init("debug", "json", path); err != nil {
		t.Fatalf("Init error = %v", err)
	}
	Infof("loaded %d rules", 3)
	_ = Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "loaded 3 rules") {
		t.Fatalf("log file missing entry: %s", b)
	}
	if err := Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
}

func TestInit_ClosesReplacedFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init("info", "json", filepath.Join(dir, "first.log")); err != nil {
		t.Fatal(err)
	}
	first := logFile
	if err := Init("info", "console", filepath.Join(dir, "second.log")); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Write([]byte("x")); err == nil {
		t.Fatalf("first log file still open")
	}
	second := logFile
	if err := Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Write([]byte("x")); err == nil {
		t.Fatalf("second log file still open after Close")
	}
	if logFile != nil {
		t.Fatalf("logFile not cleared")
	}
}

func TestSetLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	Debugf("hidden")
	Infof("hidden")
	Warnf("skipped rule %s", "x")
	Errorf("boom")

	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	if got := logs.All()[0].Message; got != "skipped rule x" {
		t.Fatalf("message = %q", got)
	}
}
