// Package ledger defines the boundary between the client engine and a ledger
// node: the queries and submissions the engine performs, and the errors a
// ledger reports back.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

// Commitment selects how settled ledger state must be before it is reported.
type Commitment string

const (
	CommitmentRecent    Commitment = "recent"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment normalises user input, defaulting to recent.
func ParseCommitment(s string) (Commitment, error) {
	switch c := Commitment(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CommitmentRecent, nil
	case CommitmentRecent, CommitmentConfirmed, CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("ledger: unknown commitment %q", s)
	}
}

// rank orders commitments from least to most settled.
func (c Commitment) rank() int {
	switch c {
	case CommitmentConfirmed:
		return 1
	case CommitmentFinalized:
		return 2
	default:
		return 0
	}
}

// Satisfies reports whether a status reported at c meets the target level.
func (c Commitment) Satisfies(target Commitment) bool {
	return c.rank() >= target.rank()
}

// FeeCalculator is the fee-rate snapshot attached to a blockhash.
type FeeCalculator struct {
	LamportsPerSignature uint64 `json:"lamportsPerSignature"`
}

// Fee returns the fee for a message requiring numSignatures signatures.
func (f FeeCalculator) Fee(numSignatures int) uint64 {
	return f.LamportsPerSignature * uint64(numSignatures)
}

// SignatureStatus is the ledger's view of a submitted transaction.
type SignatureStatus struct {
	Slot       uint64            `json:"slot"`
	Commitment Commitment        `json:"confirmationStatus"`
	Err        *TransactionError `json:"err,omitempty"`
}

// TransactionMeta carries execution details of a confirmed transaction.
type TransactionMeta struct {
	Fee          uint64            `json:"fee"`
	PreBalances  []uint64          `json:"preBalances"`
	PostBalances []uint64          `json:"postBalances"`
	LogMessages  []string          `json:"logMessages,omitempty"`
	Events       []types.Event     `json:"events,omitempty"`
	Err          *TransactionError `json:"err,omitempty"`
}

// ConfirmedTransaction pairs a landed transaction with its execution metadata.
type ConfirmedTransaction struct {
	Slot        uint64             `json:"slot"`
	Transaction *types.Transaction `json:"-"`
	Meta        TransactionMeta    `json:"meta"`
}

// Client is the read/submit surface of a ledger node.
type Client interface {
	// GetRecentBlockhash returns the newest blockhash and its fee rate.
	GetRecentBlockhash(ctx context.Context, commitment Commitment) (crypto.Hash, FeeCalculator, error)
	// GetFeeCalculatorForBlockhash returns ErrBlockhashNotFound when the hash has expired.
	GetFeeCalculatorForBlockhash(ctx context.Context, blockhash crypto.Hash) (FeeCalculator, error)
	// GetAccount returns ErrAccountNotFound for unknown addresses.
	GetAccount(ctx context.Context, addr crypto.Address, commitment Commitment) (*types.Account, error)
	GetBalance(ctx context.Context, addr crypto.Address, commitment Commitment) (uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, size int) (uint64, error)
	// SendTransaction accepts a serialized, fully signed transaction.
	SendTransaction(ctx context.Context, raw []byte) (crypto.Signature, error)
	// GetSignatureStatus returns nil, nil when the ledger has not seen sig.
	GetSignatureStatus(ctx context.Context, sig crypto.Signature) (*SignatureStatus, error)
	// GetConfirmedTransaction returns nil, nil when sig is unknown.
	GetConfirmedTransaction(ctx context.Context, sig crypto.Signature) (*ConfirmedTransaction, error)
}

// Faucet funds accounts on development ledgers.
type Faucet interface {
	RequestAirdrop(ctx context.Context, addr crypto.Address, lamports uint64) (crypto.Signature, error)
}
