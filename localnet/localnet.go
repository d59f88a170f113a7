// Package localnet is an in-memory ledger for tests and local development. It
// executes the system, nonce and escrow programs, charges fees, tracks recent
// blockhashes and exposes the same ledger.Client surface as a real node.
package localnet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/native/system"
)

const (
	defaultLamportsPerSignature = 5000
	defaultMaxRecentBlockhashes = 150
	defaultRentLamportsPerByte  = 10
	defaultFaucetLamports       = 1_000_000_000_000
	accountStorageOverhead      = 128
)

type blockhashEntry struct {
	hash crypto.Hash
	fee  ledger.FeeCalculator
}

type record struct {
	slot         uint64
	tx           *types.Transaction
	meta         ledger.TransactionMeta
	pendingPolls int
}

// Ledger is a single-node, in-memory ledger. It is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	accounts    map[crypto.Address]*types.Account
	blockhashes []blockhashEntry
	processed   map[crypto.Signature]*record
	slot        uint64

	lamportsPerSignature uint64
	maxRecentBlockhashes int
	rentPerByte          uint64
	pendingPolls         int
	failSends            int

	faucet *crypto.PrivateKey
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLamportsPerSignature sets the fee rate attached to new blockhashes.
func WithLamportsPerSignature(lamports uint64) Option {
	return func(l *Ledger) { l.lamportsPerSignature = lamports }
}

// WithMaxRecentBlockhashes bounds how many blockhashes stay valid.
func WithMaxRecentBlockhashes(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRecentBlockhashes = n
		}
	}
}

// WithPendingPolls makes each transaction report a non-final status for the
// first n status queries.
func WithPendingPolls(n int) Option {
	return func(l *Ledger) { l.pendingPolls = n }
}

// WithLogger overrides the logger used to trace processed transactions.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a ledger with a funded faucet and a genesis blockhash.
func New(opts ...Option) (*Ledger, error) {
	faucet, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("localnet: faucet key: %w", err)
	}
	l := &Ledger{
		accounts:             make(map[crypto.Address]*types.Account),
		processed:            make(map[crypto.Signature]*record),
		lamportsPerSignature: defaultLamportsPerSignature,
		maxRecentBlockhashes: defaultMaxRecentBlockhashes,
		rentPerByte:          defaultRentLamportsPerByte,
		faucet:               faucet,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.accounts[faucet.Address()] = &types.Account{Lamports: defaultFaucetLamports, Owner: system.ProgramID}
	l.pushBlockhash(crypto.HashData([]byte("localnet genesis"), faucet.Address().Bytes()))
	return l, nil
}

func (l *Ledger) pushBlockhash(h crypto.Hash) {
	l.blockhashes = append(l.blockhashes, blockhashEntry{
		hash: h,
		fee:  ledger.FeeCalculator{LamportsPerSignature: l.lamportsPerSignature},
	})
	if extra := len(l.blockhashes) - l.maxRecentBlockhashes; extra > 0 {
		l.blockhashes = append([]blockhashEntry(nil), l.blockhashes[extra:]...)
	}
}

func (l *Ledger) latest() blockhashEntry {
	return l.blockhashes[len(l.blockhashes)-1]
}

func (l *Ledger) lookupBlockhash(h crypto.Hash) (ledger.FeeCalculator, bool) {
	for _, entry := range l.blockhashes {
		if entry.hash == h {
			return entry.fee, true
		}
	}
	return ledger.FeeCalculator{}, false
}

func (l *Ledger) rentExemptMinimum(size int) uint64 {
	return uint64(size+accountStorageOverhead) * l.rentPerByte
}

// --- Test and operator controls ---

// Fund credits lamports to addr outside of any transaction.
func (l *Ledger) Fund(addr crypto.Address, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[addr]
	if acct == nil {
		acct = &types.Account{Owner: system.ProgramID}
		l.accounts[addr] = acct
	}
	acct.Lamports += lamports
}

// Balance returns the lamports held by addr, zero when absent.
func (l *Ledger) Balance(addr crypto.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct := l.accounts[addr]; acct != nil {
		return acct.Lamports
	}
	return 0
}

// FailNextSends makes the next n SendTransaction calls fail transiently.
func (l *Ledger) FailNextSends(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSends = n
}

// SetPendingPolls changes how many status queries report a non-final status.
func (l *Ledger) SetPendingPolls(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingPolls = n
}

// SetLamportsPerSignature changes the fee rate of blockhashes produced from now on.
func (l *Ledger) SetLamportsPerSignature(lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lamportsPerSignature = lamports
}

// AdvanceBlockhash produces a new blockhash without processing a transaction.
func (l *Ledger) AdvanceBlockhash() crypto.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot++
	prev := l.latest().hash
	h := crypto.HashData(prev[:], []byte("tick"))
	l.pushBlockhash(h)
	return h
}

// ExpireBlockhashes forgets every blockhash except the newest.
func (l *Ledger) ExpireBlockhashes() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockhashes = []blockhashEntry{l.latest()}
}

// FaucetAddress is the address that funds airdrops.
func (l *Ledger) FaucetAddress() crypto.Address { return l.faucet.Address() }

// --- ledger.Client ---

func (l *Ledger) GetRecentBlockhash(_ context.Context, _ ledger.Commitment) (crypto.Hash, ledger.FeeCalculator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.latest()
	return entry.hash, entry.fee, nil
}

func (l *Ledger) GetFeeCalculatorForBlockhash(_ context.Context, blockhash crypto.Hash) (ledger.FeeCalculator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fee, ok := l.lookupBlockhash(blockhash)
	if !ok {
		return ledger.FeeCalculator{}, fmt.Errorf("%w: %s", ledger.ErrBlockhashNotFound, blockhash)
	}
	return fee, nil
}

func (l *Ledger) GetAccount(_ context.Context, addr crypto.Address, _ ledger.Commitment) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[addr]
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	return acct.Clone(), nil
}

func (l *Ledger) GetBalance(_ context.Context, addr crypto.Address, _ ledger.Commitment) (uint64, error) {
	return l.Balance(addr), nil
}

func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, size int) (uint64, error) {
	if size < 0 {
		return 0, fmt.Errorf("localnet: negative account size %d", size)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rentExemptMinimum(size), nil
}

func (l *Ledger) SendTransaction(_ context.Context, raw []byte) (crypto.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSends > 0 {
		l.failSends--
		return crypto.Signature{}, &ledger.TransientError{Err: ledger.ErrBusy}
	}
	tx, err := types.DeserializeTransaction(raw)
	if err != nil {
		return crypto.Signature{}, fmt.Errorf("localnet: decode transaction: %w", err)
	}
	return l.process(tx)
}

func (l *Ledger) GetSignatureStatus(_ context.Context, sig crypto.Signature) (*ledger.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.processed[sig]
	if rec == nil {
		return nil, nil
	}
	status := &ledger.SignatureStatus{
		Slot:       rec.slot,
		Commitment: ledger.CommitmentFinalized,
		Err:        rec.meta.Err,
	}
	if rec.pendingPolls > 0 {
		rec.pendingPolls--
		status.Commitment = ledger.CommitmentRecent
	}
	return status, nil
}

func (l *Ledger) GetConfirmedTransaction(_ context.Context, sig crypto.Signature) (*ledger.ConfirmedTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.processed[sig]
	if rec == nil {
		return nil, nil
	}
	tx, err := types.DeserializeTransaction(rec.tx.Serialize())
	if err != nil {
		return nil, err
	}
	return &ledger.ConfirmedTransaction{Slot: rec.slot, Transaction: tx, Meta: rec.meta}, nil
}

// RequestAirdrop transfers lamports from the faucet in a regular transaction.
func (l *Ledger) RequestAirdrop(_ context.Context, addr crypto.Address, lamports uint64) (crypto.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	faucet := l.faucet.Address()
	msg, err := types.NewMessage([]types.Instruction{system.Transfer(faucet, addr, lamports)}, &faucet)
	if err != nil {
		return crypto.Signature{}, err
	}
	msg.RecentBlockhash = l.latest().hash
	tx := types.NewTransaction(msg)
	if err := tx.AddSignature(faucet, l.faucet.SignMessage(tx.MessageBytes())); err != nil {
		return crypto.Signature{}, err
	}
	return l.process(tx)
}

var (
	_ ledger.Client = (*Ledger)(nil)
	_ ledger.Faucet = (*Ledger)(nil)
)
