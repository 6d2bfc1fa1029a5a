package logger

import "testing"

func TestInitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, true); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Info("hello %s", "world")

	if Slog() == nil {
		t.Fatal("Slog() returned nil after Init")
	}
}

func TestSlogDefaultsWithoutInit(t *testing.T) {
	slogger = nil
	if Slog() == nil {
		t.Fatal("Slog() must fall back to slog.Default() when Init was never called")
	}
}
