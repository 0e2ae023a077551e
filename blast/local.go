package blast

import (
	"fmt"
	"log/slog"

	"github.com/quantropy/keygen/cache"
	"github.com/quantropy/keygen/cryptoutils"
	"github.com/quantropy/keygen/interfaces"
)

// LocalClient generates cryptographic keys from locally cached quantum
// random. Every generated key consumes fresh random from the cache; no seed
// byte is ever used twice, including across clients sharing a storage
// location on disk.
type LocalClient struct {
	engine *cache.Engine
	log    *slog.Logger
}

// NewLocalClient creates a client backed by the given entropy source. The
// client is unusable until InitializeAsync succeeds.
func NewLocalClient(source interfaces.EntropySource, log *slog.Logger) *LocalClient {
	return &LocalClient{
		engine: cache.NewEngine(source, log),
		log:    log,
	}
}

// InitializeAsync validates the cache configuration, opens the storage
// locations, and starts background cache maintenance. It returns before the
// cache is filled; key generation before the cache holds enough random fails
// with an InsufficientRandomError.
func (c *LocalClient) InitializeAsync(token string, cfg interfaces.CacheConfig) error {
	return c.engine.InitializeAsync(token, cfg)
}

// GenSymmetricKey generates a symmetric key of the given mode. In AES-256
// mode keySize is ignored and a 32-byte key is derived from withdrawn
// random. In OTP mode keySize raw random bytes are withdrawn and returned
// directly as the pad.
func (c *LocalClient) GenSymmetricKey(mode interfaces.SymmetricKeyMode, keySize uint64) ([]byte, error) {
	switch mode {
	case interfaces.SymmetricKeyModeAES256:
		seed, err := c.engine.Withdraw(interfaces.AES256KeySize)
		if err != nil {
			return nil, err
		}
		key, err := cryptoutils.DeriveSymmetricKey(seed, interfaces.AES256KeySize)
		cryptoutils.Zeroize(seed)
		if err != nil {
			return nil, err
		}
		return key, nil

	case interfaces.SymmetricKeyModeOTP:
		if keySize == 0 {
			return nil, fmt.Errorf("one-time-pad mode requires a key size greater than zero")
		}
		return c.engine.Withdraw(keySize)

	default:
		return nil, fmt.Errorf("unknown symmetric key mode: %d", mode)
	}
}

// GenAsymmetricKeys generates an asymmetric key pair of the given mode from
// withdrawn random. The seed is consumed even when derivation fails; failed
// attempts never return random to the cache.
func (c *LocalClient) GenAsymmetricKeys(mode interfaces.AsymmetricKeyMode) (interfaces.AsymmetricKeyPair, error) {
	seedSize, err := cryptoutils.SeedSize(mode)
	if err != nil {
		return interfaces.AsymmetricKeyPair{}, err
	}

	seed, err := c.engine.Withdraw(seedSize)
	if err != nil {
		return interfaces.AsymmetricKeyPair{}, err
	}
	defer cryptoutils.Zeroize(seed)

	return cryptoutils.GenerateKeyPair(mode, seed)
}

// UpdateDeviceSecret re-encrypts all cached random from the old device secret
// to the new one. Key generation fails fast with a CacheBusyError for the
// duration.
func (c *LocalClient) UpdateDeviceSecret(oldSecret, newSecret []byte) error {
	return c.engine.UpdateDeviceSecret(oldSecret, newSecret)
}

// Wipe securely erases all cached random. The cache refills afterwards; the
// lifetime download counter is preserved.
func (c *LocalClient) Wipe() error {
	return c.engine.Wipe()
}

// CheckCacheStatus re-validates the storage locations and returns a snapshot
// of the cache.
func (c *LocalClient) CheckCacheStatus() (interfaces.CacheStatus, error) {
	return c.engine.CheckCacheStatus()
}

// Close stops cache maintenance and releases the storage locations. Cached
// random stays on disk, encrypted, for the next client instance.
func (c *LocalClient) Close() error {
	return c.engine.Close()
}
