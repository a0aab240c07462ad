package kvdb

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
)

// fakeOpener hands out one shared fakeFile per name so stores created for
// the same name observe the same backing bytes.
type fakeOpener struct {
	mu    sync.Mutex
	files map[string]*fakeFile
	paths map[string]string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{files: make(map[string]*fakeFile), paths: make(map[string]string)}
}

func (o *fakeOpener) open(name, path string) (FileStore, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[name]
	if !ok {
		f = &fakeFile{}
		o.files[name] = f
		o.paths[name] = path
	}
	return f, nil
}

func TestRegistrySingleton(t *testing.T) {
	reg := NewRegistry(newFakeOpener().open)

	s1, err := reg.Get("alpha", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	s2, err := reg.Get("alpha", "/ignored/after/first/use.json", map[string]any{"ignored": true})
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if s1 != s2 {
		t.Fatal("two Gets for the same name returned different instances")
	}

	mustReady(t, s1)
	if err := s1.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, ok := s2.Get("k"); !ok || v != "v" {
		t.Errorf("mutation via one reference not visible via the other: %v, %v", v, ok)
	}
	if _, ok := s2.Get("ignored"); ok {
		t.Error("initial data from a second Get was applied")
	}
}

func TestRegistryDistinctNames(t *testing.T) {
	reg := NewRegistry(newFakeOpener().open)
	s1, err := reg.Get("a", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	s2, err := reg.Get("b", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s1 == s2 {
		t.Error("different names share one instance")
	}

	names := reg.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}

func TestRegistryEmptyName(t *testing.T) {
	reg := NewRegistry(newFakeOpener().open)
	if _, err := reg.Get("", "", nil); err == nil {
		t.Error("Get with empty name succeeded")
	}
}

func TestRegistryOpenerFailure(t *testing.T) {
	reg := NewRegistry(func(name, path string) (FileStore, error) {
		return nil, errors.New("no such directory")
	})
	_, err := reg.Get("a", "", nil)
	if err == nil {
		t.Fatal("Get succeeded with a failing opener")
	}
	var serr *StoreError
	if !errors.As(err, &serr) || serr.Code() != CodeIO {
		t.Errorf("Get error = %v, want StoreError with %s", err, CodeIO)
	}
}

func TestRegistryFlush(t *testing.T) {
	opener := newFakeOpener()
	reg := NewRegistry(opener.open)

	s1, err := reg.Get("a", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	s2, err := reg.Get("b", "", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	mustReady(t, s1)
	mustReady(t, s2)
	if err := s1.Set("x", float64(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s2.Set("y", float64(2)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := reg.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	for name, key := range map[string]string{"a": "x", "b": "y"} {
		var m map[string]any
		if err := json.Unmarshal(opener.files[name].bytes(), &m); err != nil {
			t.Fatalf("store %q file invalid: %v", name, err)
		}
		if _, ok := m[key]; !ok {
			t.Errorf("store %q file missing key %q: %v", name, key, m)
		}
	}

	// Disposed stores are skipped, and stay cached: a later Get still
	// returns the inert instance.
	s1.Dispose()
	if err := reg.Flush(); err != nil {
		t.Fatalf("Flush with a disposed store failed: %v", err)
	}
	s1b, err := reg.Get("a", "", nil)
	if err != nil {
		t.Fatalf("Get after dispose failed: %v", err)
	}
	if s1b != s1 || !s1b.Disposed() {
		t.Error("registry did not return the cached disposed instance")
	}
}
