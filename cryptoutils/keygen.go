package cryptoutils

import (
	"crypto/ecdh"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/frodo/frodo640shake"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/hkdf"

	"github.com/quantropy/keygen/interfaces"
)

// ECDHSeedSize is the random seed length consumed per ECDH key pair.
const ECDHSeedSize = 32

// SeedSize returns the number of random bytes a mode consumes to derive one
// key pair.
func SeedSize(mode interfaces.AsymmetricKeyMode) (uint64, error) {
	switch mode {
	case interfaces.AsymmetricKeyModeECDH:
		return ECDHSeedSize, nil
	case interfaces.AsymmetricKeyModeFrodo:
		return uint64(frodo640shake.Scheme().SeedSize()), nil
	case interfaces.AsymmetricKeyModeKyber:
		return uint64(kyber768.Scheme().SeedSize()), nil
	default:
		return 0, fmt.Errorf("unknown asymmetric key mode: %d", mode)
	}
}

// DeriveSymmetricKey stretches withdrawn random into a fixed-length key using
// HKDF-SHA256. One-time-pad material must never pass through here; it is
// returned to the caller as raw entropy.
func DeriveSymmetricKey(random []byte, size int) ([]byte, error) {
	if len(random) == 0 {
		return nil, errors.New("no random material provided")
	}
	if size <= 0 {
		return nil, errors.New("key size must be greater than zero")
	}

	r := hkdf.New(sha256.New, random, nil, []byte("quantropy-symmetric-key"))
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// GenerateKeyPair derives an asymmetric key pair of the given mode from seed.
// The seed is consumed by the caller regardless of the outcome here; a failed
// derivation still discards the withdrawn bytes.
func GenerateKeyPair(mode interfaces.AsymmetricKeyMode, seed []byte) (interfaces.AsymmetricKeyPair, error) {
	want, err := SeedSize(mode)
	if err != nil {
		return interfaces.AsymmetricKeyPair{}, err
	}
	if uint64(len(seed)) != want {
		return interfaces.AsymmetricKeyPair{}, fmt.Errorf("mode %s requires a %d-byte seed, got %d", mode, want, len(seed))
	}

	switch mode {
	case interfaces.AsymmetricKeyModeECDH:
		return generateECDHKeyPair(seed)
	case interfaces.AsymmetricKeyModeFrodo:
		return generateKEMKeyPair(frodo640shake.Scheme(), seed)
	case interfaces.AsymmetricKeyModeKyber:
		return generateKEMKeyPair(kyber768.Scheme(), seed)
	default:
		return interfaces.AsymmetricKeyPair{}, fmt.Errorf("unknown asymmetric key mode: %d", mode)
	}
}

// generateECDHKeyPair derives a P-256 key pair deterministically from seed.
// Candidate scalars are drawn from an HKDF stream until one is a valid private
// key; the first candidate is accepted with overwhelming probability.
func generateECDHKeyPair(seed []byte) (interfaces.AsymmetricKeyPair, error) {
	curve := ecdh.P256()
	r := hkdf.New(sha256.New, seed, nil, []byte("quantropy-ecdh-scalar"))

	for attempt := 0; attempt < 64; attempt++ {
		candidate := make([]byte, 32)
		if _, err := io.ReadFull(r, candidate); err != nil {
			return interfaces.AsymmetricKeyPair{}, fmt.Errorf("scalar derivation failed: %w", err)
		}

		priv, err := curve.NewPrivateKey(candidate)
		Zeroize(candidate)
		if err != nil {
			continue
		}

		return interfaces.AsymmetricKeyPair{
			PrivateKey: priv.Bytes(),
			PublicKey:  priv.PublicKey().Bytes(),
		}, nil
	}

	return interfaces.AsymmetricKeyPair{}, errors.New("could not derive a valid ECDH scalar from seed")
}

func generateKEMKeyPair(scheme kem.Scheme, seed []byte) (interfaces.AsymmetricKeyPair, error) {
	pub, priv := scheme.DeriveKeyPair(seed)

	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return interfaces.AsymmetricKeyPair{}, fmt.Errorf("failed to marshal %s private key: %w", scheme.Name(), err)
	}

	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		Zeroize(privBytes)
		return interfaces.AsymmetricKeyPair{}, fmt.Errorf("failed to marshal %s public key: %w", scheme.Name(), err)
	}

	return interfaces.AsymmetricKeyPair{PrivateKey: privBytes, PublicKey: pubBytes}, nil
}
