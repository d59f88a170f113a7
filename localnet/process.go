package localnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/ledger"
	"ledgerpay/native/escrow"
	"ledgerpay/native/system"
	"ledgerpay/observability"
)

// overlay buffers account writes for one transaction so a failing instruction
// leaves no trace besides the fee.
type overlay struct {
	l       *Ledger
	writes  map[crypto.Address]*types.Account
	current blockhashEntry
}

func newOverlay(l *Ledger) *overlay {
	return &overlay{l: l, writes: make(map[crypto.Address]*types.Account), current: l.latest()}
}

func (o *overlay) GetAccount(addr crypto.Address) *types.Account {
	if acct, ok := o.writes[addr]; ok {
		return acct.Clone()
	}
	return o.l.accounts[addr].Clone()
}

func (o *overlay) PutAccount(addr crypto.Address, acct *types.Account) {
	o.writes[addr] = acct.Clone()
}

func (o *overlay) RecentBlockhash() (crypto.Hash, uint64) {
	return o.current.hash, o.current.fee.LamportsPerSignature
}

func (o *overlay) RentExemptMinimum(size int) uint64 {
	return o.l.rentExemptMinimum(size)
}

func (o *overlay) commit() {
	for addr, acct := range o.writes {
		if acct == nil || (acct.Lamports == 0 && len(acct.Data) == 0) {
			delete(o.l.accounts, addr)
			continue
		}
		o.l.accounts[addr] = acct
	}
	o.writes = make(map[crypto.Address]*types.Account)
}

type eventLog struct{ events []types.Event }

func (e *eventLog) Emit(evt types.Event) { e.events = append(e.events, evt) }

// process validates, charges and executes tx. Callers hold l.mu.
func (l *Ledger) process(tx *types.Transaction) (crypto.Signature, error) {
	if err := tx.VerifySignatures(); err != nil {
		return crypto.Signature{}, fmt.Errorf("%w: %v", ledger.ErrInvalidSignature, err)
	}
	msg := &tx.Message
	if len(msg.AccountKeys) == 0 || msg.Header.NumRequiredSignatures == 0 {
		return crypto.Signature{}, errors.New("localnet: transaction has no fee payer")
	}

	fee, err := l.replayCheck(msg)
	if err != nil {
		return crypto.Signature{}, err
	}
	sig := tx.ID()
	if _, seen := l.processed[sig]; seen {
		return crypto.Signature{}, fmt.Errorf("%w: %s", ledger.ErrAlreadyProcessed, sig)
	}

	feePayer := msg.AccountKeys[0]
	charge := fee.Fee(int(msg.Header.NumRequiredSignatures))
	payerAcct := l.accounts[feePayer]
	if payerAcct == nil || payerAcct.Lamports < charge || payerAcct.Owner != system.ProgramID {
		return crypto.Signature{}, &ledger.TransactionError{InstructionIndex: -1, Reason: "insufficient funds for fee"}
	}

	pre := l.balances(msg.AccountKeys)
	state := newOverlay(l)
	payer := state.GetAccount(feePayer)
	payer.Lamports -= charge
	state.PutAccount(feePayer, payer)
	state.commit()

	logs := &eventLog{}
	meta := ledger.TransactionMeta{Fee: charge, PreBalances: pre}
	for i, compiled := range msg.Instructions {
		ix, err := expand(msg, compiled)
		if err != nil {
			meta.Err = &ledger.TransactionError{InstructionIndex: i, Reason: err.Error()}
			break
		}
		meta.LogMessages = append(meta.LogMessages, fmt.Sprintf("Program %s invoke", ix.ProgramID))
		if err := l.execute(state, ix, logs); err != nil {
			meta.LogMessages = append(meta.LogMessages, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
			meta.Err = &ledger.TransactionError{InstructionIndex: i, Reason: err.Error()}
			break
		}
		meta.LogMessages = append(meta.LogMessages, fmt.Sprintf("Program %s success", ix.ProgramID))
	}
	if meta.Err == nil {
		state.commit()
		meta.Events = logs.events
		for _, evt := range logs.events {
			observability.Events().RecordEvent(evt.Type)
		}
	} else {
		l.consumeNonceOnFailure(msg)
	}
	meta.PostBalances = l.balances(msg.AccountKeys)

	l.slot++
	l.processed[sig] = &record{slot: l.slot, tx: tx, meta: meta, pendingPolls: l.pendingPolls}
	prev := l.latest().hash
	l.pushBlockhash(crypto.HashData(prev[:], sig[:]))

	level := slog.LevelDebug
	if meta.Err != nil {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "localnet transaction processed",
		slog.String("signature", sig.String()),
		slog.Uint64("slot", l.slot),
		slog.Uint64("fee", charge),
		slog.Bool("failed", meta.Err != nil),
	)
	return sig, nil
}

// replayCheck validates the replay-protection value and returns the fee rate
// that applies. A durable nonce is checked before signature dedupe so reusing a
// consumed nonce always reports a nonce mismatch.
func (l *Ledger) replayCheck(msg *types.Message) (ledger.FeeCalculator, error) {
	if len(msg.Instructions) > 0 {
		if nonceAddr, ok := system.IsAdvanceNonce(msg, msg.Instructions[0]); ok {
			acct := l.accounts[nonceAddr]
			if acct == nil || acct.Owner != system.ProgramID {
				return ledger.FeeCalculator{}, fmt.Errorf("%w: nonce account %s missing", ledger.ErrNonceMismatch, nonceAddr)
			}
			state, err := system.DecodeNonceState(acct.Data)
			if err != nil || state.Status != system.NonceInitialized {
				return ledger.FeeCalculator{}, fmt.Errorf("%w: nonce account %s not initialized", ledger.ErrNonceMismatch, nonceAddr)
			}
			if state.Blockhash != msg.RecentBlockhash {
				return ledger.FeeCalculator{}, fmt.Errorf("%w: stored %s, transaction %s", ledger.ErrNonceMismatch, state.Blockhash, msg.RecentBlockhash)
			}
			return ledger.FeeCalculator{LamportsPerSignature: state.LamportsPerSignature}, nil
		}
	}
	fee, ok := l.lookupBlockhash(msg.RecentBlockhash)
	if !ok {
		return ledger.FeeCalculator{}, fmt.Errorf("%w: %s", ledger.ErrBlockhashNotFound, msg.RecentBlockhash)
	}
	return fee, nil
}

// consumeNonceOnFailure advances the durable nonce of a failed transaction so
// the same payload cannot be replayed.
func (l *Ledger) consumeNonceOnFailure(msg *types.Message) {
	if len(msg.Instructions) == 0 {
		return
	}
	ix, err := expand(msg, msg.Instructions[0])
	if err != nil {
		return
	}
	if _, ok := system.IsAdvanceNonce(msg, msg.Instructions[0]); !ok {
		return
	}
	state := newOverlay(l)
	if err := system.Execute(state, ix); err == nil {
		state.commit()
	}
}

func (l *Ledger) execute(state *overlay, ix types.Instruction, logs *eventLog) error {
	switch ix.ProgramID {
	case system.ProgramID:
		return system.Execute(state, ix)
	case escrow.ProgramID:
		engine := escrow.NewEngine(state)
		engine.SetEmitter(logs)
		return engine.Execute(ix)
	default:
		return fmt.Errorf("program %s is not executable on localnet", ix.ProgramID)
	}
}

// expand turns a compiled instruction back into addressed account metas.
func expand(msg *types.Message, compiled types.CompiledInstruction) (types.Instruction, error) {
	program, err := msg.ProgramID(compiled)
	if err != nil {
		return types.Instruction{}, err
	}
	metas := make([]types.AccountMeta, len(compiled.Accounts))
	for i, idx := range compiled.Accounts {
		if int(idx) >= len(msg.AccountKeys) {
			return types.Instruction{}, fmt.Errorf("account index %d out of range", idx)
		}
		metas[i] = types.AccountMeta{
			Address:    msg.AccountKeys[idx],
			IsSigner:   msg.IsSigner(int(idx)),
			IsWritable: msg.IsWritable(int(idx)),
		}
	}
	return types.Instruction{ProgramID: program, Accounts: metas, Data: compiled.Data}, nil
}

func (l *Ledger) balances(keys []crypto.Address) []uint64 {
	out := make([]uint64, len(keys))
	for i, key := range keys {
		if acct := l.accounts[key]; acct != nil {
			out[i] = acct.Lamports
		}
	}
	return out
}
