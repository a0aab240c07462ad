// Package kvdb provides a single-file key-value persistence engine.
//
// Each Store maps string keys to JSON values, mirrors its state to one
// backing file as a single JSON object, and coalesces writes through a
// debounced flush. Mutations apply to memory immediately; the file catches
// up within one flush window. A Registry hands out at most one live Store
// per name within a process.
//
// The byte-level file access is an injected FileStore capability, so the
// engine can be tested against fakes and pointed at any writable location.
package kvdb
