// Package signer fills transaction signature slots from local keys, replayed
// remote signatures and signing services, and carries partially signed
// transactions across the offline hand-off.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

var (
	// ErrPresignerVerification is returned when a replayed signature does not
	// verify over the message it is asked to sign.
	ErrPresignerVerification = errors.New("signer: presigned signature does not verify")
	// ErrMissingSignatures is returned when required slots remain empty.
	ErrMissingSignatures = errors.New("signer: missing signatures")
	// ErrDigestMismatch is returned when a transaction no longer matches the
	// message digest it was signed under.
	ErrDigestMismatch = errors.New("signer: message digest mismatch")
)

// MissingSignaturesError lists the signers whose slots are empty.
type MissingSignaturesError struct {
	Signers []crypto.Address
}

func (e *MissingSignaturesError) Error() string {
	names := make([]string, len(e.Signers))
	for i, addr := range e.Signers {
		names[i] = addr.String()
	}
	return fmt.Sprintf("%s: %s", ErrMissingSignatures, strings.Join(names, ", "))
}

func (e *MissingSignaturesError) Unwrap() error { return ErrMissingSignatures }

// Presigner replays a signature produced elsewhere. It only ever returns the
// signature for the exact message it was made over.
type Presigner struct {
	address   crypto.Address
	signature crypto.Signature
}

// NewPresigner wraps a signature made by address.
func NewPresigner(address crypto.Address, signature crypto.Signature) *Presigner {
	return &Presigner{address: address, signature: signature}
}

func (p *Presigner) Address() crypto.Address { return p.address }

func (p *Presigner) Sign(_ context.Context, message []byte) (crypto.Signature, error) {
	if !p.signature.Verify(p.address, message) {
		return crypto.Signature{}, fmt.Errorf("%w: %s", ErrPresignerVerification, p.address)
	}
	return p.signature, nil
}

// NullSigner names a required signer whose slot is left empty on purpose,
// typically because another party signs offline.
type NullSigner struct {
	address crypto.Address
}

func NewNullSigner(address crypto.Address) NullSigner { return NullSigner{address: address} }

func (n NullSigner) Address() crypto.Address { return n.address }

// Sign returns the zero signature, which SignTransaction leaves unset.
func (n NullSigner) Sign(context.Context, []byte) (crypto.Signature, error) {
	return crypto.Signature{}, nil
}

var (
	_ crypto.Signer = (*Presigner)(nil)
	_ crypto.Signer = NullSigner{}
)

// SignTransaction signs tx's message once per distinct signer. Every signer
// must be one of the transaction's required signers.
func SignTransaction(ctx context.Context, tx *types.Transaction, signers ...crypto.Signer) error {
	if tx == nil {
		return fmt.Errorf("signer: transaction required")
	}
	message := tx.MessageBytes()
	seen := make(map[crypto.Address]struct{}, len(signers))
	for _, s := range signers {
		if s == nil {
			continue
		}
		addr := s.Address()
		if _, dup := seen[addr]; dup {
			continue
		}
		if tx.Message.SignerIndex(addr) < 0 {
			return fmt.Errorf("%w: %s", types.ErrSignerNotRequired, addr)
		}
		sig, err := s.Sign(ctx, message)
		if err != nil {
			return fmt.Errorf("signer: sign for %s: %w", addr, err)
		}
		// A placeholder does not claim the slot; a later signer may fill it.
		if sig.IsZero() {
			continue
		}
		seen[addr] = struct{}{}
		if err := tx.AddSignature(addr, sig); err != nil {
			return err
		}
	}
	return nil
}

// RequireComplete returns a MissingSignaturesError unless every slot is filled.
func RequireComplete(tx *types.Transaction) error {
	if missing := tx.MissingSigners(); len(missing) > 0 {
		return &MissingSignaturesError{Signers: missing}
	}
	return nil
}
