package blast

import (
	"context"
	"log/slog"

	"github.com/quantropy/keygen/interfaces"
)

// DistributedClient generates keys shared between two parties through a
// remote BLAST agreement service. It holds no local random cache; all key
// material is derived by the service per session.
type DistributedClient struct {
	svc   interfaces.AgreementService
	log   *slog.Logger
	token string
	ready bool
}

// NewDistributedClient creates a client backed by the given agreement
// service. The client is unusable until Initialize is called.
func NewDistributedClient(svc interfaces.AgreementService, log *slog.Logger) *DistributedClient {
	return &DistributedClient{svc: svc, log: log}
}

// Initialize stores the bearer token used to authenticate against the
// agreement service.
func (c *DistributedClient) Initialize(token string) {
	c.token = token
	c.ready = true
}

// GenInit starts an agreement round. It returns this side's key together with
// the opaque metadata token the other party passes to GenSync. keySize is
// ignored in AES-256 mode; in OTP mode it is the pad length in bytes.
func (c *DistributedClient) GenInit(ctx context.Context, mode interfaces.SymmetricKeyMode, keySize uint64) (interfaces.SymmetricKeyData, error) {
	if !c.ready {
		return interfaces.SymmetricKeyData{}, interfaces.ErrNotInitialized
	}
	return c.svc.Initiate(ctx, c.token, mode, keySize)
}

// GenSync presents a metadata token received from an initiator and returns
// the same key the initiator holds. An expired or unknown token fails with
// ErrUnknownSession.
func (c *DistributedClient) GenSync(ctx context.Context, metadata []byte) ([]byte, error) {
	if !c.ready {
		return nil, interfaces.ErrNotInitialized
	}
	return c.svc.Sync(ctx, c.token, metadata)
}
