// Package simulator provides an in-process stand-in for the remote quantum
// entropy service. It implements interfaces.EntropySource and
// interfaces.AgreementService over the operating system CSPRNG, for
// development and testing against the same contracts the production service
// honors. The Handler serves the simulator over the qrand wire format.
package simulator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantropy/keygen/interfaces"
)

// MaxFetchSize caps a single entropy request, mirroring the throttling of the
// production service. Larger requests are served partially.
const MaxFetchSize = 1 << 20

// DefaultSessionTTL is how long an agreement session honors sync requests.
const DefaultSessionTTL = time.Hour

type session struct {
	key       []byte
	expiresAt time.Time
}

// metadataEnvelope is the opaque token handed to the responding party. It
// references the session; it carries no key material.
type metadataEnvelope struct {
	Version   int    `json:"v"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	KeySize   uint64 `json:"key_size,omitempty"`
}

// Service simulates the remote entropy and agreement service in memory.
// Sessions expire after TTL; syncing the same metadata twice within the TTL
// returns the same key.
type Service struct {
	log *slog.Logger
	ttl time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]session
}

// NewService creates a simulator with the default session TTL.
func NewService(log *slog.Logger) *Service {
	return &Service{
		log:      log,
		ttl:      DefaultSessionTTL,
		sessions: make(map[uuid.UUID]session),
	}
}

// FetchRandom returns up to numBytes of CSPRNG output. Requests beyond
// MaxFetchSize are truncated, exercising the partial-download path of
// callers.
func (s *Service) FetchRandom(_ context.Context, _ string, numBytes uint64) ([]byte, error) {
	if numBytes == 0 {
		return nil, fmt.Errorf("requested zero bytes")
	}
	if numBytes > MaxFetchSize {
		numBytes = MaxFetchSize
	}

	random := make([]byte, numBytes)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("could not generate random: %w", err)
	}
	return random, nil
}

// Initiate starts an agreement session and returns the initiator's key plus
// the metadata token for the responding party.
func (s *Service) Initiate(_ context.Context, _ string, mode interfaces.SymmetricKeyMode, keySize uint64) (interfaces.SymmetricKeyData, error) {
	switch mode {
	case interfaces.SymmetricKeyModeAES256:
		keySize = interfaces.AES256KeySize
	case interfaces.SymmetricKeyModeOTP:
		if keySize == 0 {
			return interfaces.SymmetricKeyData{}, fmt.Errorf("one-time-pad mode requires a key size greater than zero")
		}
	default:
		return interfaces.SymmetricKeyData{}, fmt.Errorf("unknown symmetric key mode: %d", mode)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return interfaces.SymmetricKeyData{}, fmt.Errorf("could not generate key: %w", err)
	}

	id := uuid.New()
	metadata, err := json.Marshal(metadataEnvelope{
		Version:   1,
		SessionID: id.String(),
		Mode:      mode.String(),
		KeySize:   keySize,
	})
	if err != nil {
		return interfaces.SymmetricKeyData{}, err
	}

	s.mu.Lock()
	s.sessions[id] = session{key: key, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	s.log.Debug("Agreement session created",
		slog.String("sessionID", id.String()),
		slog.String("mode", mode.String()))

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return interfaces.SymmetricKeyData{Key: keyCopy, Metadata: metadata}, nil
}

// Sync presents a metadata token and returns the session's key. Expired and
// unknown sessions fail with ErrUnknownSession.
func (s *Service) Sync(_ context.Context, _ string, metadata []byte) ([]byte, error) {
	var envelope metadataEnvelope
	if err := json.Unmarshal(metadata, &envelope); err != nil {
		return nil, fmt.Errorf("could not parse metadata: %w", err)
	}
	if envelope.Version != 1 {
		return nil, fmt.Errorf("unsupported metadata version: %d", envelope.Version)
	}
	id, err := uuid.Parse(envelope.SessionID)
	if err != nil {
		return nil, fmt.Errorf("could not parse session id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, interfaces.ErrUnknownSession
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.sessions, id)
		return nil, interfaces.ErrUnknownSession
	}

	key := make([]byte, len(sess.key))
	copy(key, sess.key)
	return key, nil
}
