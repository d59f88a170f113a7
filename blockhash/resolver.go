package blockhash

import (
	"context"
	"errors"
	"fmt"

	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/native/system"
)

// ErrNonceStateInvalid is returned when a nonce account exists but cannot
// serve as a durable nonce.
var ErrNonceStateInvalid = errors.New("blockhash: nonce account state invalid")

// Resolved is the outcome of a Query.
type Resolved struct {
	Blockhash crypto.Hash
	// FeeCalculator is nil for Static queries.
	FeeCalculator *ledger.FeeCalculator
	// Nonce is set whenever a durable nonce account backs the blockhash.
	Nonce *DurableNonce
}

// Resolver answers blockhash queries against a ledger.
type Resolver struct {
	client     ledger.Client
	commitment ledger.Commitment
}

// NewResolver returns a resolver reading at commitment. client may be nil when
// only Static queries are resolved.
func NewResolver(client ledger.Client, commitment ledger.Commitment) *Resolver {
	if commitment == "" {
		commitment = ledger.CommitmentRecent
	}
	return &Resolver{client: client, commitment: commitment}
}

// Resolve answers q. It never writes to the ledger.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Resolved, error) {
	if q == nil {
		return nil, fmt.Errorf("blockhash: query required")
	}
	res := &resolution{ctx: ctx, r: r}
	if err := q.Accept(res); err != nil {
		return nil, err
	}
	return res.out, nil
}

type resolution struct {
	ctx context.Context
	r   *Resolver
	out *Resolved
}

func (res *resolution) VisitStatic(q Static) error {
	out := &Resolved{Blockhash: q.Blockhash}
	if q.Nonce != nil {
		nonce := *q.Nonce
		out.Nonce = &nonce
	}
	res.out = out
	return nil
}

func (res *resolution) VisitFetch(q Fetch) error {
	if err := res.r.requireClient(); err != nil {
		return err
	}
	switch src := q.Source.(type) {
	case Cluster:
		hash, fee, err := res.r.client.GetRecentBlockhash(res.ctx, res.r.commitment)
		if err != nil {
			return fmt.Errorf("blockhash: fetch recent blockhash: %w", err)
		}
		res.out = &Resolved{Blockhash: hash, FeeCalculator: &fee}
		return nil
	case NonceAccount:
		state, err := FetchNonceState(res.ctx, res.r.client, src.Address, res.r.commitment)
		if err != nil {
			return err
		}
		res.out = nonceResolved(src.Address, state)
		return nil
	default:
		return fmt.Errorf("blockhash: unsupported source %T", q.Source)
	}
}

func (res *resolution) VisitValidated(q Validated) error {
	if err := res.r.requireClient(); err != nil {
		return err
	}
	switch src := q.Source.(type) {
	case Cluster:
		fee, err := res.r.client.GetFeeCalculatorForBlockhash(res.ctx, q.Blockhash)
		if err != nil {
			return fmt.Errorf("blockhash: validate %s: %w", q.Blockhash, err)
		}
		res.out = &Resolved{Blockhash: q.Blockhash, FeeCalculator: &fee}
		return nil
	case NonceAccount:
		state, err := FetchNonceState(res.ctx, res.r.client, src.Address, res.r.commitment)
		if err != nil {
			return err
		}
		if state.Blockhash != q.Blockhash {
			return fmt.Errorf("%w: account %s stores %s, expected %s",
				ledger.ErrNonceMismatch, src.Address, state.Blockhash, q.Blockhash)
		}
		res.out = nonceResolved(src.Address, state)
		return nil
	default:
		return fmt.Errorf("blockhash: unsupported source %T", q.Source)
	}
}

func (r *Resolver) requireClient() error {
	if r.client == nil {
		return fmt.Errorf("blockhash: ledger client required for network queries")
	}
	return nil
}

func nonceResolved(addr crypto.Address, state system.NonceState) *Resolved {
	fee := ledger.FeeCalculator{LamportsPerSignature: state.LamportsPerSignature}
	return &Resolved{
		Blockhash:     state.Blockhash,
		FeeCalculator: &fee,
		Nonce:         &DurableNonce{Account: addr, Authority: state.Authority},
	}
}

// FetchNonceState reads and validates a durable nonce account.
func FetchNonceState(ctx context.Context, client ledger.Client, addr crypto.Address, commitment ledger.Commitment) (system.NonceState, error) {
	acct, err := client.GetAccount(ctx, addr, commitment)
	if err != nil {
		return system.NonceState{}, fmt.Errorf("blockhash: nonce account %s: %w", addr, err)
	}
	if acct.Owner != system.ProgramID {
		return system.NonceState{}, fmt.Errorf("%w: %s is owned by %s", ErrNonceStateInvalid, addr, acct.Owner)
	}
	state, err := system.DecodeNonceState(acct.Data)
	if err != nil {
		return system.NonceState{}, fmt.Errorf("%w: %s: %v", ErrNonceStateInvalid, addr, err)
	}
	if state.Status != system.NonceInitialized {
		return system.NonceState{}, fmt.Errorf("%w: %s is not initialized", ErrNonceStateInvalid, addr)
	}
	return state, nil
}
