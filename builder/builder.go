// Package builder turns commands into unsigned transactions. Building is pure:
// ledger state the checks need (balances, rent minimum) is passed in.
package builder

import (
	"errors"
	"fmt"

	"ledgerpay/blockhash"
	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/native/escrow"
	"ledgerpay/native/system"
)

var (
	// ErrInsufficientFunds is returned when balances cannot cover amount and fee.
	ErrInsufficientFunds = errors.New("builder: insufficient funds")
	// ErrBelowRentExemption is returned when a new account would not be rent exempt.
	ErrBelowRentExemption = errors.New("builder: amount below rent-exemption minimum")
	// ErrSpendAllOffline is returned for SpendAll without known balances or fee rate.
	ErrSpendAllOffline = errors.New("builder: ALL requires an online balance and fee rate")
)

// Inputs is ledger state sampled by the caller. A nil Balances map means
// offline: balance checks are skipped.
type Inputs struct {
	Balances          map[crypto.Address]uint64
	RentExemptMinimum uint64
}

// Offline reports whether no balances were sampled.
func (in Inputs) Offline() bool { return in.Balances == nil }

// Built is an unsigned transaction and what went into it.
type Built struct {
	Tx *types.Transaction
	// Signers lists the required signers in slot order.
	Signers []crypto.Address
	// Fee is zero when the fee rate is unknown.
	Fee uint64
	// Amount is the resolved lamport amount, zero for commands without one.
	Amount uint64
	// Contract is set when the transaction creates an escrow contract.
	Contract *crypto.Address
}

// Build assembles cmd into an unsigned transaction paid by feePayer. When the
// resolved blockhash comes from a durable nonce the advance instruction is
// always first.
func Build(cmd Command, resolved *blockhash.Resolved, feePayer crypto.Address, inputs Inputs) (*Built, error) {
	if cmd == nil {
		return nil, fmt.Errorf("builder: command required")
	}
	if resolved == nil {
		return nil, fmt.Errorf("builder: resolved blockhash required")
	}
	b := &build{resolved: resolved, feePayer: feePayer, inputs: inputs}
	if err := cmd.Accept(b); err != nil {
		return nil, err
	}
	return b.out, nil
}

type build struct {
	resolved *blockhash.Resolved
	feePayer crypto.Address
	inputs   Inputs
	out      *Built
}

// compile prepends the nonce advance and compiles ixs into a transaction.
func (b *build) compile(ixs []types.Instruction) (*types.Transaction, error) {
	if nonce := b.resolved.Nonce; nonce != nil {
		ixs = append([]types.Instruction{system.AdvanceNonceAccount(nonce.Account, nonce.Authority)}, ixs...)
	}
	payer := b.feePayer
	msg, err := types.NewMessage(ixs, &payer)
	if err != nil {
		return nil, fmt.Errorf("builder: compile message: %w", err)
	}
	msg.RecentBlockhash = b.resolved.Blockhash
	return types.NewTransaction(msg), nil
}

func (b *build) fee(tx *types.Transaction) uint64 {
	if b.resolved.FeeCalculator == nil {
		return 0
	}
	return tx.Fee(b.resolved.FeeCalculator.LamportsPerSignature)
}

func (b *build) finish(tx *types.Transaction, amount uint64, contract *crypto.Address) {
	b.out = &Built{
		Tx:       tx,
		Signers:  tx.Message.SignerKeys(),
		Fee:      b.fee(tx),
		Amount:   amount,
		Contract: contract,
	}
}

// spend builds the instructions for a debit from source, resolving the amount.
// assemble is called once with a placeholder to size the fee and again with the
// final amount.
func (b *build) spend(source crypto.Address, amount SpendAmount, assemble func(lamports uint64) []types.Instruction) (*types.Transaction, uint64, error) {
	probe, err := b.compile(assemble(amount.Lamports()))
	if err != nil {
		return nil, 0, err
	}
	fee := b.fee(probe)
	lamports, err := b.resolveAmount(source, amount, fee)
	if err != nil {
		return nil, 0, err
	}
	if lamports == amount.Lamports() {
		return probe, lamports, nil
	}
	tx, err := b.compile(assemble(lamports))
	if err != nil {
		return nil, 0, err
	}
	return tx, lamports, nil
}

func (b *build) resolveAmount(source crypto.Address, amount SpendAmount, fee uint64) (uint64, error) {
	if b.inputs.Offline() {
		if amount.IsAll() {
			return 0, ErrSpendAllOffline
		}
		return amount.Lamports(), nil
	}
	sourceBalance := b.inputs.Balances[source]
	sourceFee := uint64(0)
	if source == b.feePayer {
		sourceFee = fee
	} else if payerBalance := b.inputs.Balances[b.feePayer]; payerBalance < fee {
		return 0, fmt.Errorf("%w: fee payer %s holds %d, fee is %d", ErrInsufficientFunds, b.feePayer, payerBalance, fee)
	}

	if amount.IsAll() {
		if b.resolved.FeeCalculator == nil {
			return 0, ErrSpendAllOffline
		}
		if sourceBalance <= sourceFee {
			return 0, fmt.Errorf("%w: %s holds %d, fee is %d", ErrInsufficientFunds, source, sourceBalance, sourceFee)
		}
		return sourceBalance - sourceFee, nil
	}
	need := amount.Lamports() + sourceFee
	if need < amount.Lamports() || sourceBalance < need {
		return 0, fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, source, sourceBalance, need)
	}
	return amount.Lamports(), nil
}

// feeOnly checks the fee payer can cover the fee of a command that moves no
// lamports of its own.
func (b *build) feeOnly(ixs []types.Instruction) error {
	tx, err := b.compile(ixs)
	if err != nil {
		return err
	}
	if !b.inputs.Offline() {
		fee := b.fee(tx)
		if balance := b.inputs.Balances[b.feePayer]; balance < fee {
			return fmt.Errorf("%w: fee payer %s holds %d, fee is %d", ErrInsufficientFunds, b.feePayer, balance, fee)
		}
	}
	b.finish(tx, 0, nil)
	return nil
}

func (b *build) VisitTransfer(c *Transfer) error {
	tx, lamports, err := b.spend(c.From, c.Amount, func(lamports uint64) []types.Instruction {
		return []types.Instruction{system.Transfer(c.From, c.To, lamports)}
	})
	if err != nil {
		return err
	}
	b.finish(tx, lamports, nil)
	return nil
}

func (b *build) VisitConditionalPay(c *ConditionalPay) error {
	terms := c.Terms()
	if !terms.HasConditions() {
		return b.VisitTransfer(&Transfer{From: c.From, To: c.Recipient, Amount: c.Amount})
	}
	if err := terms.Validate(); err != nil {
		return fmt.Errorf("builder: %w", err)
	}
	tx, lamports, err := b.spend(c.From, c.Amount, func(lamports uint64) []types.Instruction {
		return escrow.Payment(c.From, c.Contract, lamports, terms)
	})
	if err != nil {
		return err
	}
	contract := c.Contract
	b.finish(tx, lamports, &contract)
	return nil
}

func (b *build) VisitReleaseByWitness(c *ReleaseByWitness) error {
	return b.feeOnly([]types.Instruction{escrow.ApplySignature(c.Witness, c.Contract, c.Recipient)})
}

func (b *build) VisitReleaseByTime(c *ReleaseByTime) error {
	return b.feeOnly([]types.Instruction{escrow.ApplyTimestamp(c.Authority, c.Contract, c.Recipient, c.Timestamp)})
}

func (b *build) VisitCancel(c *Cancel) error {
	return b.feeOnly([]types.Instruction{escrow.Cancel(c.Payer, c.Contract)})
}

func (b *build) VisitCreateNonceAccount(c *CreateNonceAccount) error {
	tx, lamports, err := b.spend(c.From, c.Amount, func(lamports uint64) []types.Instruction {
		return system.CreateNonceAccount(c.From, c.NonceAccount, c.Authority, lamports)
	})
	if err != nil {
		return err
	}
	if minimum := b.inputs.RentExemptMinimum; lamports < minimum {
		return fmt.Errorf("%w: %d < %d", ErrBelowRentExemption, lamports, minimum)
	}
	b.finish(tx, lamports, nil)
	return nil
}

// EstimateFee returns the fee a transaction would pay under calc.
func EstimateFee(tx *types.Transaction, calc ledger.FeeCalculator) uint64 {
	return tx.Fee(calc.LamportsPerSignature)
}
