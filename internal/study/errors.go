package study

import (
	"errors"
	"fmt"
	"strings"
)

// Runtime errors.
var (
	// ErrAlreadyInitialized is returned on a second initialize without
	// an intervening destroy; use Reset instead.
	ErrAlreadyInitialized = errors.New("coordinator is already initialized")

	// ErrUnknownStudy is returned when an id is not registered.
	ErrUnknownStudy = errors.New("study is not registered")
)

// DiscoveryError indicates the plugin root could not be enumerated.
// It is logged, never fatal: discovery simply yields an empty set.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover studies in %q: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ValidationError reports the lifecycle methods a candidate export
// failed to provide. A study that fails validation is never registered
// and never receives a lifecycle call.
type ValidationError struct {
	ID      string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("study %q missing lifecycle methods: %s", e.ID, strings.Join(e.Missing, ", "))
}

// LifecycleCallError wraps a failure from a single study's lifecycle
// call. Batch operations log it and continue with the remaining
// studies; it never aborts a batch or crashes the host.
type LifecycleCallError struct {
	ID  string
	Op  string
	Err error
}

func (e *LifecycleCallError) Error() string {
	return fmt.Sprintf("study %q: %s: %v", e.ID, e.Op, e.Err)
}

func (e *LifecycleCallError) Unwrap() error {
	return e.Err
}
