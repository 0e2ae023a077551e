// Package interfaces defines the core types and service contracts for the
// quantum-entropy key generation SDK. It provides the contract between
// components without implementation details.
package interfaces

import (
	"fmt"
	"time"
)

// SymmetricKeyMode selects the symmetric key algorithm.
type SymmetricKeyMode int

const (
	// SymmetricKeyModeAES256 derives a fixed-size 256-bit key.
	SymmetricKeyModeAES256 SymmetricKeyMode = iota

	// SymmetricKeyModeOTP returns raw random bytes of the requested size.
	SymmetricKeyModeOTP
)

// AES256KeySize is the key length produced in AES-256 mode.
const AES256KeySize = 32

// String returns the mode name.
func (m SymmetricKeyMode) String() string {
	switch m {
	case SymmetricKeyModeAES256:
		return "aes-256"
	case SymmetricKeyModeOTP:
		return "otp"
	default:
		return "unknown"
	}
}

// ParseSymmetricKeyMode converts a mode name as produced by String.
func ParseSymmetricKeyMode(s string) (SymmetricKeyMode, error) {
	switch s {
	case "aes-256":
		return SymmetricKeyModeAES256, nil
	case "otp":
		return SymmetricKeyModeOTP, nil
	default:
		return 0, fmt.Errorf("unknown symmetric key mode: %q", s)
	}
}

// AsymmetricKeyMode selects the asymmetric key algorithm.
type AsymmetricKeyMode int

const (
	// AsymmetricKeyModeECDH generates an elliptic-curve Diffie-Hellman key pair.
	AsymmetricKeyModeECDH AsymmetricKeyMode = iota

	// AsymmetricKeyModeFrodo generates a FrodoKEM key pair.
	AsymmetricKeyModeFrodo

	// AsymmetricKeyModeKyber generates a Kyber key pair.
	AsymmetricKeyModeKyber
)

// String returns the mode name.
func (m AsymmetricKeyMode) String() string {
	switch m {
	case AsymmetricKeyModeECDH:
		return "ecdh"
	case AsymmetricKeyModeFrodo:
		return "frodo"
	case AsymmetricKeyModeKyber:
		return "kyber"
	default:
		return "unknown"
	}
}

// ParseAsymmetricKeyMode converts a mode name as produced by String.
func ParseAsymmetricKeyMode(s string) (AsymmetricKeyMode, error) {
	switch s {
	case "ecdh":
		return AsymmetricKeyModeECDH, nil
	case "frodo":
		return AsymmetricKeyModeFrodo, nil
	case "kyber":
		return AsymmetricKeyModeKyber, nil
	default:
		return 0, fmt.Errorf("unknown asymmetric key mode: %q", s)
	}
}

// CacheState describes whether the random cache has reached its minimum
// usable threshold.
type CacheState int

const (
	// CacheStateDownloading means the cache is below its minimum threshold
	// and the maintenance loop is still filling it.
	CacheStateDownloading CacheState = iota

	// CacheStateReady means the minimum usable threshold has been reached.
	CacheStateReady
)

// String returns the state name.
func (s CacheState) String() string {
	switch s {
	case CacheStateDownloading:
		return "downloading"
	case CacheStateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// LocationConfig describes one directory-backed random storage location.
type LocationConfig struct {
	// ID uniquely identifies the location within a cache configuration.
	ID string

	// Path is the directory holding the location's blocks and index.
	Path string

	// AvailableSize is the maximum on-disk bytes the location may use for
	// encrypted random blocks.
	AvailableSize uint64
}

// CacheConfig configures a random cache engine. All fields are required.
// DeviceSecret is the only field that may change over the engine's lifetime,
// via the device secret rotation operation.
type CacheConfig struct {
	// DeviceSecret encrypts every random block at rest. It is never persisted
	// in cleartext.
	DeviceSecret []byte

	// Locations lists the storage locations. IDs must be unique.
	Locations []LocationConfig

	// MaxNumCachedBytes is the usable-byte level maintenance tops up toward.
	MaxNumCachedBytes uint64

	// MinNumCachedBytes is the usable-byte level at which the cache reports
	// CacheStateReady.
	MinNumCachedBytes uint64

	// MaintenanceInterval is the period between download attempts.
	MaintenanceInterval time.Duration
}

// Validate checks the configuration invariants. It returns a *ConfigError
// describing the first violation found.
func (c *CacheConfig) Validate() error {
	if len(c.DeviceSecret) == 0 {
		return &ConfigError{Reason: "device secret must not be empty"}
	}
	if len(c.Locations) == 0 {
		return &ConfigError{Reason: "at least one storage location is required"}
	}
	seen := make(map[string]struct{}, len(c.Locations))
	for _, loc := range c.Locations {
		if loc.ID == "" {
			return &ConfigError{Reason: "location id must not be empty"}
		}
		if _, dup := seen[loc.ID]; dup {
			return &ConfigError{Reason: fmt.Sprintf("duplicate location id %q", loc.ID)}
		}
		seen[loc.ID] = struct{}{}
		if loc.Path == "" {
			return &ConfigError{Reason: fmt.Sprintf("location %q has no path", loc.ID)}
		}
		if loc.AvailableSize == 0 {
			return &ConfigError{Reason: fmt.Sprintf("location %q has zero available size", loc.ID)}
		}
	}
	if c.MaxNumCachedBytes == 0 {
		return &ConfigError{Reason: "maxNumCachedBytes must be greater than zero"}
	}
	if c.MinNumCachedBytes > c.MaxNumCachedBytes {
		return &ConfigError{Reason: "minNumCachedBytes must not exceed maxNumCachedBytes"}
	}
	if c.MaintenanceInterval <= 0 {
		return &ConfigError{Reason: "maintenanceInterval must be greater than zero"}
	}
	return nil
}

// CacheStatus is a read-only snapshot of the cache. It is recomputed on demand
// and never persisted.
type CacheStatus struct {
	// State is the advisory download state.
	State CacheState

	// RemainingCapacity is the aggregate usable random bytes across all
	// locations at the time of the snapshot.
	RemainingCapacity uint64

	// TotalDownloadedRandom counts every random byte ever written to disk
	// over the engine's lifetime. It never decreases, including across wipes.
	TotalDownloadedRandom uint64
}

// SymmetricKeyData holds a generated symmetric key together with the metadata
// token the other party needs to derive the same key. The metadata is opaque
// and safe to share over an insecure channel; it does not reveal the key.
type SymmetricKeyData struct {
	Key      []byte
	Metadata []byte
}

// AsymmetricKeyPair holds a generated key pair. Ownership passes exclusively
// to the caller; no component retains a copy.
type AsymmetricKeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}
