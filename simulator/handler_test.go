package simulator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantropy/keygen/interfaces"
	"github.com/quantropy/keygen/qrand"
)

func setupTestServer(t *testing.T) (*httptest.Server, *qrand.Client) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := chi.NewRouter()
	NewHandler(NewService(log), "test-token", log).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, &qrand.Client{ServerAddr: server.URL}
}

// TestEntropyEndpoint tests random download over the wire.
func TestEntropyEndpoint(t *testing.T) {
	_, client := setupTestServer(t)

	random, err := client.FetchRandom(context.Background(), "test-token", 1024)
	require.NoError(t, err)
	require.Len(t, random, 1024)

	other, err := client.FetchRandom(context.Background(), "test-token", 1024)
	require.NoError(t, err)
	assert.NotEqual(t, random, other)
}

// TestEntropyEndpointTruncatesLargeRequests tests the partial-download
// behavior above the per-request cap.
func TestEntropyEndpointTruncatesLargeRequests(t *testing.T) {
	_, client := setupTestServer(t)

	random, err := client.FetchRandom(context.Background(), "test-token", MaxFetchSize+1)
	require.NoError(t, err)
	assert.Len(t, random, MaxFetchSize)
}

// TestEntropyEndpointRejectsBadRequests tests token and parameter validation.
func TestEntropyEndpointRejectsBadRequests(t *testing.T) {
	server, client := setupTestServer(t)

	_, err := client.FetchRandom(context.Background(), "wrong-token", 16)
	require.Error(t, err)

	resp, err := http.Get(server.URL + "/api/v1/entropy?size=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestAgreementOverHTTP tests a full init/sync round through the HTTP client.
func TestAgreementOverHTTP(t *testing.T) {
	_, client := setupTestServer(t)

	keyData, err := client.Initiate(context.Background(), "test-token", interfaces.SymmetricKeyModeAES256, 0)
	require.NoError(t, err)
	require.Len(t, keyData.Key, interfaces.AES256KeySize)
	require.NotEmpty(t, keyData.Metadata)

	key, err := client.Sync(context.Background(), "test-token", keyData.Metadata)
	require.NoError(t, err)
	assert.Equal(t, keyData.Key, key)
}

// TestAgreementSyncUnknownSession tests that an unknown session maps back to
// ErrUnknownSession on the client side.
func TestAgreementSyncUnknownSession(t *testing.T) {
	_, client := setupTestServer(t)

	metadata := []byte(`{"v":1,"session_id":"0f000000-0000-0000-0000-000000000000","mode":"aes-256"}`)
	_, err := client.Sync(context.Background(), "test-token", metadata)
	require.ErrorIs(t, err, interfaces.ErrUnknownSession)
}

// TestAgreementInitValidation tests mode and key size validation over the
// wire.
func TestAgreementInitValidation(t *testing.T) {
	_, client := setupTestServer(t)

	_, err := client.Initiate(context.Background(), "test-token", interfaces.SymmetricKeyModeOTP, 0)
	require.Error(t, err)

	_, err = client.Initiate(context.Background(), "wrong-token", interfaces.SymmetricKeyModeAES256, 0)
	require.Error(t, err)
}
