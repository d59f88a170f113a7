package crypto

import "context"

// Signer is the capability to produce a signature for an exact message payload
// on behalf of an address. Local keys, replayed remote signatures and external
// signing services all satisfy it.
type Signer interface {
	Address() Address
	Sign(ctx context.Context, message []byte) (Signature, error)
}

// Sign implements Signer for local keys.
func (k *PrivateKey) Sign(_ context.Context, message []byte) (Signature, error) {
	return k.SignMessage(message), nil
}

var _ Signer = (*PrivateKey)(nil)
