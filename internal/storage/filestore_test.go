package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/kvfile/internal/kvdb"
)

func TestDiskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "prefs.json")
	f, err := NewDiskFile(path)
	if err != nil {
		t.Fatalf("NewDiskFile failed: %v", err)
	}
	if f.Path() != path {
		t.Errorf("Path() = %q, want %q", f.Path(), path)
	}
	if f.Exists() {
		t.Error("Exists() = true before first write")
	}
	if _, err := f.ReadAll(); !errors.Is(err, kvdb.ErrNotFound) {
		t.Errorf("ReadAll of absent file = %v, want ErrNotFound", err)
	}

	content := []byte("{\"a\":1}\n")
	if err := f.WriteAll(content); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if !f.Exists() {
		t.Error("Exists() = false after write")
	}
	got, err := f.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("ReadAll = %q, want %q", got, content)
	}

	// The atomic write must not leave temp files behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/data", "settings", ""); got != filepath.Join("/data", "settings.json") {
		t.Errorf("ResolvePath = %q", got)
	}
	if got := ResolvePath("/data", "settings", "/elsewhere/s.json"); got != "/elsewhere/s.json" {
		t.Errorf("explicit path ignored: %q", got)
	}
}

func TestOpener(t *testing.T) {
	dir := t.TempDir()
	open := Opener(dir)
	f, err := open("settings", "")
	if err != nil {
		t.Fatalf("Opener failed: %v", err)
	}
	if want := filepath.Join(dir, "settings.json"); f.Path() != want {
		t.Errorf("Path() = %q, want %q", f.Path(), want)
	}
}

// TestStoreOnDisk runs the engine against the real filesystem.
func TestStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	reg := kvdb.NewRegistry(Opener(dir))

	s, err := reg.Get("prefs", "", map[string]any{"theme": "dark"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if err := s.Set("volume", float64(11)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// A fresh registry (fresh process, conceptually) sees the same state.
	reg2 := kvdb.NewRegistry(Opener(dir))
	s2, err := reg2.Get("prefs", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := s2.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if v, _ := s2.Get("theme"); v != "dark" {
		t.Errorf("Get(theme) = %v, want dark", v)
	}
	if v, _ := s2.Get("volume"); v != float64(11) {
		t.Errorf("Get(volume) = %v, want 11", v)
	}
}

// TestStoreOnDiskCorrupt seeds a broken file and checks the engine reports
// a load error but keeps working.
func TestStoreOnDiskCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	reg := kvdb.NewRegistry(Opener(dir))
	s, err := reg.Get("prefs", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := s.WaitReady(context.Background()); err == nil {
		t.Fatal("WaitReady succeeded on corrupt file")
	}
	if err := s.Set("fresh", true); err != nil {
		t.Fatalf("Set after corrupt load failed: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush after corrupt load failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if want := "{\"fresh\":true}\n"; string(data) != want {
		t.Errorf("recovered file = %q, want %q", data, want)
	}
}
