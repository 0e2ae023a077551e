package interfaces

import "context"

// EntropySource supplies raw quantum-derived random bytes. It is the only
// network dependency of the cache engine. Implementations may return fewer
// bytes than requested; callers must treat short reads as partial success and
// retry the shortfall later.
type EntropySource interface {
	// FetchRandom requests numBytes of fresh random using the bearer token.
	FetchRandom(ctx context.Context, token string, numBytes uint64) ([]byte, error)
}

// AgreementService performs BLAST key agreement rounds. The initiating side
// receives a key plus a metadata token; the responding side presents the token
// and derives the same key. The service, not the client, decides how long a
// session honors replays of the same token.
type AgreementService interface {
	// Initiate starts an agreement round and returns this side's key together
	// with the metadata token for the other party. keySize is ignored in
	// AES-256 mode.
	Initiate(ctx context.Context, token string, mode SymmetricKeyMode, keySize uint64) (SymmetricKeyData, error)

	// Sync presents a metadata token and derives the key the initiator holds.
	Sync(ctx context.Context, token string, metadata []byte) ([]byte, error)
}
