package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an operation requires a prior
	// successful InitializeAsync.
	ErrNotInitialized = errors.New("client is not initialized")

	// ErrUnknownSession is returned by the agreement service when a metadata
	// token references a session it no longer holds.
	ErrUnknownSession = errors.New("unknown agreement session")
)

// ConfigError reports an invalid cache configuration. It is fatal at
// initialization and never recoverable by retry.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cache configuration: %s", e.Reason)
}

// StorageError reports an unreadable, unwritable, or corrupted storage
// location. Other locations keep serving; capacity degrades instead of the
// whole cache aborting.
type StorageError struct {
	LocationID string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage location %q: %v", e.LocationID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SecretMismatchError reports that the device secret cannot decrypt existing
// cached random. It is fatal to the affected operation and never auto-resolved:
// recovery requires re-running the rotation with the correct secret, or a wipe.
type SecretMismatchError struct {
	LocationID string
	BlockID    string
}

func (e *SecretMismatchError) Error() string {
	if e.LocationID == "" {
		return "device secret does not match the active device secret"
	}
	if e.BlockID == "" {
		return fmt.Sprintf("device secret does not match cached random in location %q", e.LocationID)
	}
	return fmt.Sprintf("device secret does not match block %s in location %q", e.BlockID, e.LocationID)
}

// InsufficientRandomError reports a withdrawal exceeding the usable supply.
// Callers must wait for maintenance to replenish the cache; no random is ever
// reused to satisfy a request.
type InsufficientRandomError struct {
	Requested uint64
	Available uint64
}

func (e *InsufficientRandomError) Error() string {
	return fmt.Sprintf("insufficient cached random: requested %d bytes, %d available", e.Requested, e.Available)
}

// CacheBusyError reports that a device secret rotation or wipe holds the
// engine. The caller may retry once the exclusive operation completes.
type CacheBusyError struct {
	Operation string
}

func (e *CacheBusyError) Error() string {
	return fmt.Sprintf("cache is busy: %s in progress", e.Operation)
}
