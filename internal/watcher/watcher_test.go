package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherEmitsEventForStabilizedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	reqPath := filepath.Join(dir, "request.json")
	if err := os.WriteFile(reqPath, []byte(`{"op":"enroll"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != reqPath {
			t.Fatalf("expected event for %s, got %s", reqPath, ev.Path)
		}
	case err := <-w.Errors():
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stabilized-file event")
	}
}

func TestStartRejectsNonDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "not_a_dir.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := New([]string{filePath}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err == nil {
		t.Fatal("expected error watching a non-directory path")
	}
}

func TestWatchedPathsReturnsConfiguredPaths(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.WatchedPaths()) != 1 || w.WatchedPaths()[0] != dir {
		t.Fatalf("unexpected watched paths: %v", w.WatchedPaths())
	}
}
