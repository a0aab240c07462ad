package kvdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// encodeObject serializes the mapping as a single JSON object, keys in
// insertion order so repeated flushes of the same state are byte-identical.
func encodeObject(m *linkedhashmap.Map) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	it := m.Iterator()
	first := true
	for it.Next() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(it.Key())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %v: %w", it.Key(), err)
		}
		value, err := json.Marshal(it.Value().(box).value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value for key %v: %w", it.Key(), err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decodeObject parses data as a single JSON object into m, preserving the
// key order of the file.
func decodeObject(data []byte, m *linkedhashmap.Map) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to parse store file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("store file root is not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to parse key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to parse value for key %q: %w", key, err)
		}
		m.Put(key, box{value})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to parse store file: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON object")
	}
	return nil
}
