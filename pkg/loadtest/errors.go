package loadtest

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned by stores when no record has the given id
var ErrRecordNotFound = errors.New("test record not found")

// TransportError is a network-level failure delivering a request. It is
// recorded as a failed outcome and never aborts a run.
type TransportError struct {
	Method Method
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a store failure while creating or updating a record
type PersistenceError struct {
	Op  string // "create" or "update"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s test record: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an out-of-range TestConfiguration field
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
