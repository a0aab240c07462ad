package kvdb

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures for observers.
type ErrorCode string

const (
	// CodeLoad is reported when the backing file exists but does not contain
	// a valid JSON object.
	CodeLoad ErrorCode = "LOAD_ERROR"
	// CodeIO is reported when the backing file cannot be read or written.
	CodeIO ErrorCode = "IO_ERROR"
	// CodeSerialization is reported when a value cannot be represented as JSON.
	CodeSerialization ErrorCode = "SERIALIZATION_ERROR"
)

var (
	// ErrNotFound is returned by FileStore.ReadAll when the backing file does
	// not exist yet.
	ErrNotFound = errors.New("file not found")
	// ErrDisposed is returned by operations on a disposed Store.
	ErrDisposed = errors.New("store is disposed")

	errNameRequired = errors.New("store name is required")
)

// StoreError is a classified engine failure. It is what the error slot and
// the error watch carry.
type StoreError struct {
	code    ErrorCode
	message string
	wrapped error
}

// NewStoreError creates a StoreError with the given code and message.
func NewStoreError(code ErrorCode, message string) *StoreError {
	return &StoreError{code: code, message: message}
}

// Wrap attaches an underlying error.
func (e *StoreError) Wrap(err error) *StoreError {
	e.wrapped = err
	return e
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

// Code returns the error classification.
func (e *StoreError) Code() ErrorCode {
	return e.code
}

// Unwrap returns the wrapped error if any.
func (e *StoreError) Unwrap() error {
	return e.wrapped
}

// LoadError creates a LOAD_ERROR wrapping err.
func LoadError(message string, err error) *StoreError {
	return NewStoreError(CodeLoad, message).Wrap(err)
}

// IOError creates an IO_ERROR wrapping err.
func IOError(message string, err error) *StoreError {
	return NewStoreError(CodeIO, message).Wrap(err)
}

// SerializationError creates a SERIALIZATION_ERROR wrapping err.
func SerializationError(message string, err error) *StoreError {
	return NewStoreError(CodeSerialization, message).Wrap(err)
}
