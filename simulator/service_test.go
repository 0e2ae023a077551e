package simulator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantropy/keygen/interfaces"
)

// TestSessionExpiry tests that sync fails once the session TTL has passed.
func TestSessionExpiry(t *testing.T) {
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.ttl = time.Millisecond

	keyData, err := svc.Initiate(context.Background(), "test-token", interfaces.SymmetricKeyModeAES256, 0)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Sync(context.Background(), "test-token", keyData.Metadata)
	require.ErrorIs(t, err, interfaces.ErrUnknownSession)
}

// TestSyncRejectsMalformedMetadata tests metadata parsing failures.
func TestSyncRejectsMalformedMetadata(t *testing.T) {
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Sync(context.Background(), "test-token", []byte("not json"))
	require.Error(t, err)

	_, err = svc.Sync(context.Background(), "test-token", []byte(`{"v":2,"session_id":"x"}`))
	require.Error(t, err)

	_, err = svc.Sync(context.Background(), "test-token", []byte(`{"v":1,"session_id":"not-a-uuid"}`))
	require.Error(t, err)
}
