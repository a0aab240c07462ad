package kvdb

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
)

// DefaultFlushDelay is the debounce window for coalesced writes. Mutations
// within one window collapse into a single write of the full mapping.
const DefaultFlushDelay = 50 * time.Millisecond

// FileStore is the byte-level backing file capability a Store is configured
// with. ReadAll returns ErrNotFound when the file does not exist yet.
type FileStore interface {
	Exists() bool
	ReadAll() ([]byte, error)
	WriteAll(data []byte) error
	Path() string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithFlushDelay overrides the debounce window for coalesced writes.
func WithFlushDelay(d time.Duration) Option {
	return func(s *Store) {
		s.flushDelay = d
	}
}

// box wraps every stored value. The gods map reports found as value != nil,
// so a JSON null stored bare would be indistinguishable from an absent key.
type box struct {
	value any
}

// Store is one named, file-backed key-value mapping.
//
// The in-memory mapping is the source of truth for reads; the backing file
// is an async mirror, eventually consistent within one flush window. A
// Store is safe for concurrent use.
type Store struct {
	name       string
	file       FileStore
	flushDelay time.Duration

	mu          sync.Mutex
	data        *linkedhashmap.Map // string -> JSON value, insertion order
	initialized bool
	pending     bool // a mutation happened since the last successful flush
	lastErr     error
	disposed    bool
	flushTimer  *time.Timer
	subs        map[uuid.UUID]chan Event
	errWatch    map[uuid.UUID]chan error

	ready   chan struct{}
	initErr error // settled before ready is closed
}

// Open creates a Store bound to file and starts loading it in the
// background. If the file exists and is non-empty its content replaces the
// mapping; otherwise initial is written as the starting content.
//
// Callers must observe WaitReady before relying on the initial contents;
// operations issued earlier act on whatever state exists at that moment.
func Open(name string, file FileStore, initial map[string]any, opts ...Option) *Store {
	s := &Store{
		name:       name,
		file:       file,
		flushDelay: DefaultFlushDelay,
		data:       linkedhashmap.New(),
		subs:       make(map[uuid.UUID]chan Event),
		errWatch:   make(map[uuid.UUID]chan error),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.load(initial)
	return s
}

// WaitReady blocks until the initial load settles and returns its outcome.
// A failed load does not make the store unusable: it stays ready with
// whatever state survived (usually empty) and the failure is also recorded
// in the error slot.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) load(initial map[string]any) {
	err := s.loadOnce(initial)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.initErr = err
	if err != nil {
		s.recordErrLocked(err)
		slog.Error("Failed to load store", "store", s.name, "path", s.file.Path(), "err", err)
	} else {
		s.publishLocked()
	}
	close(s.ready)
}

func (s *Store) loadOnce(initial map[string]any) error {
	data, err := s.file.ReadAll()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return IOError("failed to read store file", err)
	}
	if errors.Is(err, ErrNotFound) || len(bytes.TrimSpace(data)) == 0 {
		return s.seed(initial)
	}
	m := linkedhashmap.New()
	if err := decodeObject(data, m); err != nil {
		return LoadError("store file is corrupt", err)
	}
	s.mu.Lock()
	s.data = m
	s.mu.Unlock()
	return nil
}

// seed writes initial as the starting content. Keys are inserted in sorted
// order so the first serialization is deterministic.
func (s *Store) seed(initial map[string]any) error {
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.data.Put(k, box{initial[k]})
	}
	// The seeded state has not reached disk yet; flushLocked clears the
	// flag only on a successful write, so a failed seed stays retryable.
	s.pending = true
	return s.flushLocked()
}

// Name returns the store's name.
func (s *Store) Name() string {
	return s.name
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.file.Path()
}

// Initialized reports whether the initial load has settled.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Dirty reports whether a mutation happened since the last successful flush.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Disposed reports whether Dispose was called.
func (s *Store) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// LastErr returns the most recent failure. It is sticky: success never
// clears it, so out-of-band observers keep the failure history.
func (s *Store) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Get returns the value for key, or false if absent. It never fails and
// never touches the backing file.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.Get(key)
	if !ok {
		return nil, false
	}
	return v.(box).value, true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Size()
}

// Keys returns the mapping keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keysLocked()
}

// Snapshot returns a copy of the full mapping.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) keysLocked() []string {
	keys := make([]string, 0, s.data.Size())
	it := s.data.Iterator()
	for it.Next() {
		keys = append(keys, it.Key().(string))
	}
	return keys
}

func (s *Store) snapshotLocked() map[string]any {
	out := make(map[string]any, s.data.Size())
	it := s.data.Iterator()
	for it.Next() {
		out[it.Key().(string)] = it.Value().(box).value
	}
	return out
}

// Set inserts or replaces the entry for key. Existing keys keep their
// insertion position; new keys append. The value must already be
// JSON-representable (see Normalize). The mutation applies to memory
// immediately, publishes on the change stream, and schedules a debounced
// flush; Set never blocks on disk I/O.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.data.Put(key, box{value})
	s.markDirtyLocked()
	return nil
}

// Delete removes the entry for key. Deleting an absent key is a no-op, not
// an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.data.Remove(key)
	s.markDirtyLocked()
	return nil
}

// Clear empties the mapping.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.data.Clear()
	s.markDirtyLocked()
	return nil
}

func (s *Store) markDirtyLocked() {
	s.pending = true
	s.publishLocked()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(s.flushDelay, s.flushEventually)
}

// flushEventually runs when the debounce timer elapses. It writes the
// mapping state as of now, which folds in any mutations that happened
// after the timer was armed.
func (s *Store) flushEventually() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || !s.pending {
		return
	}
	if err := s.flushLocked(); err != nil {
		slog.Error("Debounced flush failed", "store", s.name, "path", s.file.Path(), "err", err)
	}
}

// Flush writes the full current mapping to the backing file immediately.
// It is idempotent: flushing with no pending changes still rewrites the
// current state, so callers can use it as a durability point before
// process exit. On failure the in-memory state is unchanged and the store
// stays dirty, so a later flush retries.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := encodeObject(s.data)
	if err != nil {
		serr := SerializationError("failed to serialize mapping", err)
		s.recordErrLocked(serr)
		return serr
	}
	if err := s.file.WriteAll(data); err != nil {
		serr := IOError("failed to write store file", err)
		s.recordErrLocked(serr)
		return serr
	}
	s.pending = false
	return nil
}

// Dispose closes the change stream and error watch and cancels any pending
// debounce timer without a final flush; callers needing durability must
// Flush first. Mutations already flushed stay durable; pending ones stay
// in memory only. Dispose does not remove the store from its Registry.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	for id, ch := range s.errWatch {
		delete(s.errWatch, id)
		close(ch)
	}
}
