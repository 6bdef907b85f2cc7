package spvengine

import (
	"path/filepath"
	"testing"
)

func TestNewOpensStore(t *testing.T) {
	e, err := New(Options{DataDir: filepath.Join(t.TempDir())})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.IsRunning() {
		t.Fatal("expected a freshly constructed engine to not be running")
	}
	tip, err := e.TipHeight()
	if err != nil {
		t.Fatalf("TipHeight: %v", err)
	}
	if tip != -1 {
		t.Fatalf("expected -1 tip for an empty store, got %d", tip)
	}
}
