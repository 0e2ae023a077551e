package blast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quantropy/keygen/interfaces"
	"github.com/quantropy/keygen/qrand"
	"github.com/quantropy/keygen/simulator"
)

// TestDistributedKeyAgreement tests that the responding side derives the
// initiator's key from the metadata token.
func TestDistributedKeyAgreement(t *testing.T) {
	log := testLogger()
	svc := simulator.NewService(log)

	initiator := NewDistributedClient(svc, log)
	initiator.Initialize("test-token")

	responder := NewDistributedClient(svc, log)
	responder.Initialize("test-token")

	keyData, err := initiator.GenInit(context.Background(), interfaces.SymmetricKeyModeAES256, 0)
	require.NoError(t, err)
	require.Len(t, keyData.Key, interfaces.AES256KeySize)
	require.NotEmpty(t, keyData.Metadata)
	assert.NotContains(t, string(keyData.Metadata), string(keyData.Key))

	key, err := responder.GenSync(context.Background(), keyData.Metadata)
	require.NoError(t, err)
	assert.Equal(t, keyData.Key, key)

	// Syncing again within the session lifetime returns the same key.
	again, err := responder.GenSync(context.Background(), keyData.Metadata)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

// TestDistributedOTPAgreement tests OTP mode with an explicit pad size.
func TestDistributedOTPAgreement(t *testing.T) {
	log := testLogger()
	svc := simulator.NewService(log)

	client := NewDistributedClient(svc, log)
	client.Initialize("test-token")

	keyData, err := client.GenInit(context.Background(), interfaces.SymmetricKeyModeOTP, 100)
	require.NoError(t, err)
	require.Len(t, keyData.Key, 100)

	_, err = client.GenInit(context.Background(), interfaces.SymmetricKeyModeOTP, 0)
	require.Error(t, err)
}

// TestDistributedUnknownSession tests that a foreign metadata token fails
// with ErrUnknownSession.
func TestDistributedUnknownSession(t *testing.T) {
	log := testLogger()

	client := NewDistributedClient(simulator.NewService(log), log)
	client.Initialize("test-token")

	other := NewDistributedClient(simulator.NewService(log), log)
	other.Initialize("test-token")

	keyData, err := client.GenInit(context.Background(), interfaces.SymmetricKeyModeAES256, 0)
	require.NoError(t, err)

	_, err = other.GenSync(context.Background(), keyData.Metadata)
	require.ErrorIs(t, err, interfaces.ErrUnknownSession)
}

// TestDistributedRequiresInitialization tests that calls before Initialize
// fail.
func TestDistributedRequiresInitialization(t *testing.T) {
	client := NewDistributedClient(simulator.NewService(testLogger()), testLogger())

	_, err := client.GenInit(context.Background(), interfaces.SymmetricKeyModeAES256, 0)
	require.ErrorIs(t, err, interfaces.ErrNotInitialized)
	_, err = client.GenSync(context.Background(), []byte("metadata"))
	require.ErrorIs(t, err, interfaces.ErrNotInitialized)
}

// TestDistributedPassesToken tests that the configured bearer token reaches
// the agreement service.
func TestDistributedPassesToken(t *testing.T) {
	svc := new(qrand.MockAgreementService)
	svc.On("Initiate", mock.Anything, "configured-token", interfaces.SymmetricKeyModeAES256, uint64(0)).
		Return(interfaces.SymmetricKeyData{Key: []byte("key"), Metadata: []byte("meta")}, nil)
	svc.On("Sync", mock.Anything, "configured-token", []byte("meta")).
		Return([]byte("key"), nil)

	client := NewDistributedClient(svc, testLogger())
	client.Initialize("configured-token")

	keyData, err := client.GenInit(context.Background(), interfaces.SymmetricKeyModeAES256, 0)
	require.NoError(t, err)

	key, err := client.GenSync(context.Background(), keyData.Metadata)
	require.NoError(t, err)
	assert.Equal(t, keyData.Key, key)

	svc.AssertExpectations(t)
}

// TestDistributedServiceError tests that service failures propagate.
func TestDistributedServiceError(t *testing.T) {
	svc := new(qrand.MockAgreementService)
	svc.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.SymmetricKeyData{}, errors.New("service unavailable"))

	client := NewDistributedClient(svc, testLogger())
	client.Initialize("test-token")

	_, err := client.GenInit(context.Background(), interfaces.SymmetricKeyModeAES256, 0)
	require.Error(t, err)
}
