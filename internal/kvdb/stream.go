package kvdb

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
)

// Event is one change-stream publication: the full mapping after a
// successful mutation or initial load, not a diff.
type Event struct {
	// ID is k-sortable, so observers can order events from multiple stores.
	ID ksid.ID `json:"id"`
	// Keys lists the mapping keys in insertion order.
	Keys []string `json:"keys"`
	// Data is a copy of the full mapping.
	Data map[string]any `json:"data"`
}

// subscriberBuffer bounds how far a subscriber may lag before events are
// dropped for it. Mutators never block on slow subscribers.
const subscriberBuffer = 16

// Subscribe registers a change-stream subscriber. The stream is hot: only
// updates published after the call are delivered. The returned cancel
// function unregisters the subscriber and closes the channel; Dispose does
// the same for all subscribers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.New()
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// WatchErrors registers an observer for the error slot. Every failure
// recorded after the call is delivered; LastErr holds the most recent one
// for late observers.
func (s *Store) WatchErrors() (<-chan error, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan error, subscriberBuffer)
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.New()
	s.errWatch[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.errWatch[id]; ok {
			delete(s.errWatch, id)
			close(c)
		}
	}
}

// publishLocked sends the current full mapping to every subscriber, in
// mutation order. Callers must hold s.mu.
func (s *Store) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	ev := Event{ID: ksid.NewID(), Keys: s.keysLocked(), Data: s.snapshotLocked()}
	for id, ch := range s.subs {
		// Each subscriber gets its own copy so one consumer mutating the
		// payload cannot corrupt what the others see.
		out := Event{ID: ev.ID, Keys: slices.Clone(ev.Keys), Data: maps.Clone(ev.Data)}
		select {
		case ch <- out:
		default:
			slog.Warn("Dropping change event for slow subscriber", "store", s.name, "subscriber", id)
		}
	}
}

// recordErrLocked updates the sticky error slot and notifies watchers.
// Callers must hold s.mu.
func (s *Store) recordErrLocked(err error) {
	s.lastErr = err
	for id, ch := range s.errWatch {
		select {
		case ch <- err:
		default:
			slog.Warn("Dropping error event for slow watcher", "store", s.name, "watcher", id)
		}
	}
}
