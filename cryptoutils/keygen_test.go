package cryptoutils

import (
	"crypto/ecdh"
	"crypto/rand"
	"io"
	"testing"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/stretchr/testify/require"

	"github.com/quantropy/keygen/interfaces"
)

func randomSeed(t *testing.T, size uint64) []byte {
	t.Helper()
	seed := make([]byte, size)
	_, err := io.ReadFull(rand.Reader, seed)
	require.NoError(t, err)
	return seed
}

// TestSeedSizes tests that every mode reports a positive seed size.
func TestSeedSizes(t *testing.T) {
	for _, mode := range []interfaces.AsymmetricKeyMode{
		interfaces.AsymmetricKeyModeECDH,
		interfaces.AsymmetricKeyModeFrodo,
		interfaces.AsymmetricKeyModeKyber,
	} {
		size, err := SeedSize(mode)
		require.NoError(t, err, mode.String())
		require.Greater(t, size, uint64(0), mode.String())
	}

	_, err := SeedSize(interfaces.AsymmetricKeyMode(99))
	require.Error(t, err)
}

// TestGenerateKeyPairDeterministic tests that the same seed always derives
// the same pair and different seeds derive different pairs.
func TestGenerateKeyPairDeterministic(t *testing.T) {
	for _, mode := range []interfaces.AsymmetricKeyMode{
		interfaces.AsymmetricKeyModeECDH,
		interfaces.AsymmetricKeyModeFrodo,
		interfaces.AsymmetricKeyModeKyber,
	} {
		t.Run(mode.String(), func(t *testing.T) {
			size, err := SeedSize(mode)
			require.NoError(t, err)
			seed := randomSeed(t, size)

			pair1, err := GenerateKeyPair(mode, seed)
			require.NoError(t, err)
			require.NotEmpty(t, pair1.PrivateKey)
			require.NotEmpty(t, pair1.PublicKey)

			pair2, err := GenerateKeyPair(mode, seed)
			require.NoError(t, err)
			require.Equal(t, pair1, pair2)

			other, err := GenerateKeyPair(mode, randomSeed(t, size))
			require.NoError(t, err)
			require.NotEqual(t, pair1.PublicKey, other.PublicKey)
		})
	}
}

// TestGenerateKeyPairSeedLength tests that a wrong-length seed is rejected
// for every mode.
func TestGenerateKeyPairSeedLength(t *testing.T) {
	for _, mode := range []interfaces.AsymmetricKeyMode{
		interfaces.AsymmetricKeyModeECDH,
		interfaces.AsymmetricKeyModeFrodo,
		interfaces.AsymmetricKeyModeKyber,
	} {
		_, err := GenerateKeyPair(mode, []byte("too short"))
		require.Error(t, err, mode.String())
	}
}

// TestECDHKeyAgreement tests that two derived ECDH pairs produce the same
// shared secret from either side.
func TestECDHKeyAgreement(t *testing.T) {
	pairA, err := GenerateKeyPair(interfaces.AsymmetricKeyModeECDH, randomSeed(t, ECDHSeedSize))
	require.NoError(t, err)
	pairB, err := GenerateKeyPair(interfaces.AsymmetricKeyModeECDH, randomSeed(t, ECDHSeedSize))
	require.NoError(t, err)

	curve := ecdh.P256()
	privA, err := curve.NewPrivateKey(pairA.PrivateKey)
	require.NoError(t, err)
	privB, err := curve.NewPrivateKey(pairB.PrivateKey)
	require.NoError(t, err)
	pubA, err := curve.NewPublicKey(pairA.PublicKey)
	require.NoError(t, err)
	pubB, err := curve.NewPublicKey(pairB.PublicKey)
	require.NoError(t, err)

	sharedA, err := privA.ECDH(pubB)
	require.NoError(t, err)
	sharedB, err := privB.ECDH(pubA)
	require.NoError(t, err)

	require.Equal(t, sharedA, sharedB)
}

// TestKyberEncapsulation tests that a derived Kyber pair completes a KEM
// round trip.
func TestKyberEncapsulation(t *testing.T) {
	scheme := kyber768.Scheme()
	pair, err := GenerateKeyPair(interfaces.AsymmetricKeyModeKyber, randomSeed(t, uint64(scheme.SeedSize())))
	require.NoError(t, err)

	pub, err := scheme.UnmarshalBinaryPublicKey(pair.PublicKey)
	require.NoError(t, err)
	priv, err := scheme.UnmarshalBinaryPrivateKey(pair.PrivateKey)
	require.NoError(t, err)

	ciphertext, shared, err := scheme.Encapsulate(pub)
	require.NoError(t, err)

	decapsulated, err := scheme.Decapsulate(priv, ciphertext)
	require.NoError(t, err)
	require.Equal(t, shared, decapsulated)
}

// TestDeriveSymmetricKey tests determinism and input validation of symmetric
// key derivation.
func TestDeriveSymmetricKey(t *testing.T) {
	random := randomSeed(t, 32)

	key1, err := DeriveSymmetricKey(random, 32)
	require.NoError(t, err)
	require.Len(t, key1, 32)

	key2, err := DeriveSymmetricKey(random, 32)
	require.NoError(t, err)
	require.Equal(t, key1, key2)

	other, err := DeriveSymmetricKey(randomSeed(t, 32), 32)
	require.NoError(t, err)
	require.NotEqual(t, key1, other)

	_, err = DeriveSymmetricKey(nil, 32)
	require.Error(t, err)
	_, err = DeriveSymmetricKey(random, 0)
	require.Error(t, err)
}
