package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/native/system"
)

var (
	ErrInvalidOwner       = errors.New("escrow: contract not owned by escrow program")
	ErrAlreadyInitialized = errors.New("escrow: contract already initialized")
	ErrNotPending         = errors.New("escrow: contract is not pending")
	ErrUnauthorized       = errors.New("escrow: signer not authorized for contract")
	ErrConditionNotMet    = errors.New("escrow: release condition not met")
	ErrNotCancelable      = errors.New("escrow: contract is not cancelable")
	ErrRecipientMismatch  = errors.New("escrow: recipient does not match contract")
	ErrSizeMismatch       = errors.New("escrow: contract account size does not match terms")
	ErrEmptyContract      = errors.New("escrow: contract holds no funds")
)

// State is the account store the engine mutates.
type State interface {
	GetAccount(addr crypto.Address) *types.Account
	PutAccount(addr crypto.Address, acct *types.Account)
}

// Emitter receives the events produced while executing instructions.
type Emitter interface {
	Emit(types.Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(types.Event) {}

// Engine executes escrow program instructions against account state. It is
// what the local ledger runs; production ledgers run their own program.
type Engine struct {
	state   State
	emitter Emitter
}

// NewEngine creates an engine with a no-op emitter. Callers can override the
// emitter via SetEmitter.
func NewEngine(state State) *Engine {
	return &Engine{state: state, emitter: NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt types.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Execute applies one escrow instruction.
func (e *Engine) Execute(ix types.Instruction) error {
	tag, body, err := decodeTag(ix.Data)
	if err != nil {
		return err
	}
	switch tag {
	case tagInitialize:
		terms, err := decodeTerms(body)
		if err != nil {
			return err
		}
		return e.initialize(ix.Accounts, terms)
	case tagApplyTimestamp:
		if len(body) != 8 {
			return errMalformedInstruction
		}
		return e.applyTimestamp(ix.Accounts, int64(binary.LittleEndian.Uint64(body)))
	case tagApplySignature:
		return e.applySignature(ix.Accounts)
	default:
		return e.cancel(ix.Accounts)
	}
}

func requireAccounts(metas []types.AccountMeta, n int) error {
	if len(metas) < n {
		return fmt.Errorf("escrow: expected %d accounts, got %d", n, len(metas))
	}
	return nil
}

func (e *Engine) loadContract(addr crypto.Address) (*types.Account, *Contract, error) {
	acct := e.state.GetAccount(addr)
	if acct == nil || acct.Owner != ProgramID {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidOwner, addr)
	}
	contract, err := DecodeContract(acct.Data)
	if err != nil {
		return nil, nil, err
	}
	return acct, contract, nil
}

func (e *Engine) initialize(metas []types.AccountMeta, terms Terms) error {
	if err := requireAccounts(metas, 1); err != nil {
		return err
	}
	if err := terms.Validate(); err != nil {
		return err
	}
	addr := metas[0].Address
	acct, contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if contract.Status != StatusUninitialized {
		return ErrAlreadyInitialized
	}
	if uint64(len(acct.Data)) != StateSize(len(terms.Witnesses)) {
		return fmt.Errorf("%w: have %d bytes", ErrSizeMismatch, len(acct.Data))
	}
	if acct.Lamports == 0 {
		return ErrEmptyContract
	}
	contract = NewContract(terms)
	acct.Data = contract.Encode()
	e.state.PutAccount(addr, acct)
	e.emit(NewInitializedEvent(addr, contract, acct.Lamports))
	return nil
}

func pendingContract(e *Engine, metas []types.AccountMeta) (*types.Account, *Contract, error) {
	if err := requireAccounts(metas, 3); err != nil {
		return nil, nil, err
	}
	acct, contract, err := e.loadContract(metas[1].Address)
	if err != nil {
		return nil, nil, err
	}
	if contract.Status != StatusPending {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotPending, contract.Status)
	}
	if metas[2].Address != contract.Recipient {
		return nil, nil, fmt.Errorf("%w: %s", ErrRecipientMismatch, metas[2].Address)
	}
	return acct, contract, nil
}

func (e *Engine) applyTimestamp(metas []types.AccountMeta, ts int64) error {
	acct, contract, err := pendingContract(e, metas)
	if err != nil {
		return err
	}
	authority := metas[0]
	if contract.Time == nil || !authority.IsSigner || authority.Address != contract.Time.Authority {
		return fmt.Errorf("%w: %s", ErrUnauthorized, authority.Address)
	}
	if ts < contract.Time.Threshold {
		return fmt.Errorf("%w: timestamp %d before %d", ErrConditionNotMet, ts, contract.Time.Threshold)
	}
	contract.TimeSatisfied = true
	return e.settle(metas[1].Address, acct, contract)
}

func (e *Engine) applySignature(metas []types.AccountMeta) error {
	acct, contract, err := pendingContract(e, metas)
	if err != nil {
		return err
	}
	witness := metas[0]
	matched := false
	if witness.IsSigner {
		for i := range contract.Witnesses {
			if contract.Witnesses[i].Address == witness.Address {
				contract.Witnesses[i].Signed = true
				matched = true
			}
		}
	}
	if !matched {
		return fmt.Errorf("%w: %s", ErrUnauthorized, witness.Address)
	}
	return e.settle(metas[1].Address, acct, contract)
}

// settle persists progress and pays the recipient once either release path
// is complete.
func (e *Engine) settle(addr crypto.Address, acct *types.Account, contract *Contract) error {
	if !contract.Satisfied() {
		acct.Data = contract.Encode()
		e.state.PutAccount(addr, acct)
		return nil
	}
	contract.Status = StatusReleased
	e.payout(addr, acct, contract.Recipient)
	e.emit(NewReleasedEvent(addr, contract, acct.Lamports))
	return nil
}

func (e *Engine) cancel(metas []types.AccountMeta) error {
	if err := requireAccounts(metas, 2); err != nil {
		return err
	}
	addr := metas[1].Address
	acct, contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if contract.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrNotPending, contract.Status)
	}
	if !contract.Cancelable {
		return ErrNotCancelable
	}
	if !metas[0].IsSigner || metas[0].Address != contract.Payer {
		return fmt.Errorf("%w: %s", ErrUnauthorized, metas[0].Address)
	}
	contract.Status = StatusCanceled
	e.payout(addr, acct, contract.Payer)
	e.emit(NewCanceledEvent(addr, contract, acct.Lamports))
	return nil
}

// payout moves the entire contract balance to dest and closes the account.
func (e *Engine) payout(addr crypto.Address, acct *types.Account, dest crypto.Address) {
	lamports := acct.Lamports
	to := e.state.GetAccount(dest)
	if to == nil {
		to = &types.Account{Owner: system.ProgramID}
	}
	to.Lamports += lamports
	e.state.PutAccount(dest, to)
	e.state.PutAccount(addr, &types.Account{Owner: system.ProgramID})
}
