package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSealOpenRoundTrip tests that sealed blocks open back to the original
// plaintext.
func TestSealOpenRoundTrip(t *testing.T) {
	cipher, err := NewBlockCipher([]byte("test-device-secret"))
	require.NoError(t, err)
	defer cipher.Close()

	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "Short block",
			data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD},
		},
		{
			name: "Single byte",
			data: []byte{0x42},
		},
		{
			name: "Large block",
			data: bytes.Repeat([]byte{0xAB}, 32*1024),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := cipher.Seal(tc.data)
			require.NoError(t, err)
			require.Len(t, sealed, len(tc.data)+cipher.Overhead())

			opened, err := cipher.Open(sealed)
			require.NoError(t, err)
			require.Equal(t, tc.data, opened)
		})
	}
}

// TestSealUsesFreshNonces tests that sealing the same plaintext twice yields
// different ciphertexts.
func TestSealUsesFreshNonces(t *testing.T) {
	cipher, err := NewBlockCipher([]byte("test-device-secret"))
	require.NoError(t, err)
	defer cipher.Close()

	plaintext := []byte("same plaintext, different nonce")

	sealed1, err := cipher.Seal(plaintext)
	require.NoError(t, err)
	sealed2, err := cipher.Seal(plaintext)
	require.NoError(t, err)

	require.NotEqual(t, sealed1, sealed2)
}

// TestOpenWithWrongSecret tests that a cipher derived from a different device
// secret cannot open sealed blocks.
func TestOpenWithWrongSecret(t *testing.T) {
	cipher1, err := NewBlockCipher([]byte("device-secret-one"))
	require.NoError(t, err)
	defer cipher1.Close()

	cipher2, err := NewBlockCipher([]byte("device-secret-two"))
	require.NoError(t, err)
	defer cipher2.Close()

	sealed, err := cipher1.Seal([]byte("random material"))
	require.NoError(t, err)

	_, err = cipher2.Open(sealed)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

// TestOpenTamperedBlock tests that flipping any ciphertext bit fails
// authentication.
func TestOpenTamperedBlock(t *testing.T) {
	cipher, err := NewBlockCipher([]byte("test-device-secret"))
	require.NoError(t, err)
	defer cipher.Close()

	sealed, err := cipher.Seal([]byte("random material"))
	require.NoError(t, err)

	tampered := make([]byte, len(sealed))
	copy(tampered, sealed)
	tampered[len(tampered)/2] ^= 0x01

	_, err = cipher.Open(tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = cipher.Open(sealed[:cipher.Overhead()-1])
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

// TestCipherEqual tests that Equal reports same-secret ciphers and rejects
// different-secret ciphers.
func TestCipherEqual(t *testing.T) {
	cipher1, err := NewBlockCipher([]byte("shared-secret"))
	require.NoError(t, err)
	defer cipher1.Close()

	cipher2, err := NewBlockCipher([]byte("shared-secret"))
	require.NoError(t, err)
	defer cipher2.Close()

	cipher3, err := NewBlockCipher([]byte("other-secret"))
	require.NoError(t, err)
	defer cipher3.Close()

	require.True(t, cipher1.Equal(cipher2))
	require.False(t, cipher1.Equal(cipher3))
	require.False(t, cipher1.Equal(nil))
}

// TestEmptyDeviceSecret tests that an empty device secret is rejected.
func TestEmptyDeviceSecret(t *testing.T) {
	_, err := NewBlockCipher(nil)
	require.Error(t, err)
}
