// Package cryptoutils provides the cryptographic boundary of the SDK: the
// AEAD cipher protecting cached random at rest, key derivation for symmetric
// keys, seeded asymmetric key pair generation, and zeroization of sensitive
// buffers.
package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// gcmNonceSize is the standard 12-byte GCM nonce.
const gcmNonceSize = 12

// ErrDecryptionFailed is returned when a sealed block cannot be opened. The
// dominant cause is a device secret mismatch; callers translate it into their
// own error taxonomy.
var ErrDecryptionFailed = errors.New("decryption failed")

// cacheKeySalt domain-separates cache encryption keys from any other use of
// the device secret.
var cacheKeySalt = []byte("quantropy-random-cache-v1")

// BlockCipher encrypts random blocks at rest under a key derived from the
// device secret with Argon2id. The derived key lives only inside the cipher
// and is zeroized by Close.
type BlockCipher struct {
	key  []byte
	aead cipher.AEAD
}

// NewBlockCipher derives the at-rest encryption key from the device secret.
func NewBlockCipher(deviceSecret []byte) (*BlockCipher, error) {
	if len(deviceSecret) == 0 {
		return nil, errors.New("device secret must not be empty")
	}

	// Parameters: time=1, memory=64MB, threads=4, keyLen=32
	key := argon2.IDKey(deviceSecret, cacheKeySalt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		Zeroize(key)
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		Zeroize(key)
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &BlockCipher{key: key, aead: aead}, nil
}

// Seal encrypts a plaintext block. Output format: [nonce][ciphertext+tag],
// with a fresh random nonce per block.
func (c *BlockCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, gcmNonceSize+len(plaintext)+c.aead.Overhead())
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a block produced by Seal. Any authentication failure is
// reported as ErrDecryptionFailed.
func (c *BlockCipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < gcmNonceSize+c.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := c.aead.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead returns the per-block ciphertext expansion.
func (c *BlockCipher) Overhead() int {
	return gcmNonceSize + c.aead.Overhead()
}

// Equal reports whether both ciphers were derived from the same device secret.
func (c *BlockCipher) Equal(other *BlockCipher) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(c.key, other.key) == 1
}

// Close zeroizes the derived key. The cipher must not be used afterwards.
func (c *BlockCipher) Close() {
	Zeroize(c.key)
}

// Checksum computes the SHA-256 digest used to detect block corruption
// without decrypting.
func Checksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
