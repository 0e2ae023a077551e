package qrand

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/quantropy/keygen/interfaces"
)

// MockEntropySource implements a mock interfaces.EntropySource for testing.
type MockEntropySource struct {
	mock.Mock
}

// FetchRandom implements the EntropySource interface for testing.
// The behavior is determined by how the mock is configured in tests.
func (m *MockEntropySource) FetchRandom(ctx context.Context, token string, numBytes uint64) ([]byte, error) {
	args := m.Called(ctx, token, numBytes)
	random, _ := args.Get(0).([]byte)
	return random, args.Error(1)
}

// MockAgreementService implements a mock interfaces.AgreementService for testing.
type MockAgreementService struct {
	mock.Mock
}

// Initiate implements the AgreementService interface for testing.
func (m *MockAgreementService) Initiate(ctx context.Context, token string, mode interfaces.SymmetricKeyMode, keySize uint64) (interfaces.SymmetricKeyData, error) {
	args := m.Called(ctx, token, mode, keySize)
	data, _ := args.Get(0).(interfaces.SymmetricKeyData)
	return data, args.Error(1)
}

// Sync implements the AgreementService interface for testing.
func (m *MockAgreementService) Sync(ctx context.Context, token string, metadata []byte) ([]byte, error) {
	args := m.Called(ctx, token, metadata)
	key, _ := args.Get(0).([]byte)
	return key, args.Error(1)
}
