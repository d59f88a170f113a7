// Package status turns landed transactions back into display-ready reports.
// Token program instructions are decoded into typed records; decoding is a
// pure function of the instruction and the message's account keys.
package status

import (
	"errors"
	"fmt"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/native/token"
)

// ProgramToken names the token program in reports and errors.
const ProgramToken = "token"

var (
	// ErrNotParsable is returned when instruction data matches no known shape.
	ErrNotParsable = errors.New("status: instruction not parsable")
	// ErrKeyMismatch is returned when an instruction references fewer accounts
	// than its shape requires, or more than the message holds.
	ErrKeyMismatch = errors.New("status: instruction key mismatch")
	// ErrIndexOutOfRange is returned when an account index points past the key table.
	ErrIndexOutOfRange = errors.New("status: account index out of range")
)

// ParseInstructionError carries the program whose instruction failed to decode.
type ParseInstructionError struct {
	Program string
	Err     error
}

func (e *ParseInstructionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Program, e.Err)
}

func (e *ParseInstructionError) Unwrap() error { return e.Err }

func tokenError(err error) error {
	return &ParseInstructionError{Program: ProgramToken, Err: err}
}

// ParseToken decodes a compiled token instruction against the message's
// account keys. It never returns a partial record.
func ParseToken(ix types.CompiledInstruction, keys []crypto.Address) (*ParsedInstruction, error) {
	decoded, err := token.Unpack(ix.Data)
	if err != nil {
		return nil, tokenError(fmt.Errorf("%w: %v", ErrNotParsable, err))
	}
	if len(ix.Accounts) > len(keys) {
		return nil, tokenError(fmt.Errorf("%w: %d accounts for %d keys", ErrKeyMismatch, len(ix.Accounts), len(keys)))
	}
	for pos, idx := range ix.Accounts {
		if int(idx) >= len(keys) {
			return nil, tokenError(fmt.Errorf("%w: account %d references key %d of %d", ErrIndexOutOfRange, pos, idx, len(keys)))
		}
	}
	d := &tokenDecoder{accounts: ix.Accounts, keys: keys}
	if err := decoded.Accept(d); err != nil {
		return nil, tokenError(err)
	}
	return &ParsedInstruction{Program: ProgramToken, Record: d.record}, nil
}

// tokenDecoder is a token.Visitor producing one Record per shape.
type tokenDecoder struct {
	accounts []uint8
	keys     []crypto.Address
	record   Record
}

func (d *tokenDecoder) require(minimum int, shape string) error {
	if len(d.accounts) < minimum {
		return fmt.Errorf("%w: %s needs %d accounts, got %d", ErrKeyMismatch, shape, minimum, len(d.accounts))
	}
	return nil
}

func (d *tokenDecoder) key(pos int) crypto.Address {
	return d.keys[d.accounts[pos]]
}

func (d *tokenDecoder) keysFrom(pos int) []crypto.Address {
	out := make([]crypto.Address, 0, len(d.accounts)-pos)
	for _, idx := range d.accounts[pos:] {
		out = append(out, d.keys[idx])
	}
	return out
}

// authority applies the shared rule: with accounts beyond k, the account at k
// is a multisig and the rest are its co-signers.
func (d *tokenDecoder) authority(k int, single, multisig string) AuthorityRef {
	if len(d.accounts) > k+1 {
		return AuthorityRef{Field: multisig, Address: d.key(k), Signers: d.keysFrom(k + 1)}
	}
	return AuthorityRef{Field: single, Address: d.key(k)}
}

func (d *tokenDecoder) VisitInitializeMint(ix *token.InitializeMint) error {
	if err := d.require(2, "initializeMint"); err != nil {
		return err
	}
	rec := InitializeMintRecord{Mint: d.key(0), Amount: ix.Amount, Decimals: ix.Decimals}
	second := d.key(1)
	if ix.Amount == 0 {
		rec.Owner = &second
	} else {
		rec.Account = &second
		if len(d.accounts) > 2 {
			owner := d.key(2)
			rec.Owner = &owner
		}
	}
	d.record = rec
	return nil
}

func (d *tokenDecoder) VisitInitializeAccount(*token.InitializeAccount) error {
	if err := d.require(3, "initializeAccount"); err != nil {
		return err
	}
	d.record = InitializeAccountRecord{Account: d.key(0), Mint: d.key(1), Owner: d.key(2)}
	return nil
}

func (d *tokenDecoder) VisitInitializeMultisig(ix *token.InitializeMultisig) error {
	if err := d.require(2, "initializeMultisig"); err != nil {
		return err
	}
	d.record = InitializeMultisigRecord{Multisig: d.key(0), Signers: d.keysFrom(1), M: ix.M}
	return nil
}

func (d *tokenDecoder) VisitTransfer(ix *token.Transfer) error {
	if err := d.require(3, "transfer"); err != nil {
		return err
	}
	d.record = TransferRecord{
		Source:      d.key(0),
		Destination: d.key(1),
		Amount:      ix.Amount,
		Authority:   d.authority(2, "authority", "multisigAuthority"),
	}
	return nil
}

func (d *tokenDecoder) VisitApprove(ix *token.Approve) error {
	if err := d.require(3, "approve"); err != nil {
		return err
	}
	d.record = ApproveRecord{
		Source:   d.key(0),
		Delegate: d.key(1),
		Amount:   ix.Amount,
		Owner:    d.authority(2, "owner", "multisigOwner"),
	}
	return nil
}

func (d *tokenDecoder) VisitRevoke(*token.Revoke) error {
	if err := d.require(2, "revoke"); err != nil {
		return err
	}
	d.record = RevokeRecord{Source: d.key(0), Owner: d.authority(1, "owner", "multisigOwner")}
	return nil
}

func (d *tokenDecoder) VisitSetOwner(*token.SetOwner) error {
	if err := d.require(3, "setOwner"); err != nil {
		return err
	}
	d.record = SetOwnerRecord{
		Owned:    d.key(0),
		NewOwner: d.key(1),
		Owner:    d.authority(2, "owner", "multisigOwner"),
	}
	return nil
}

func (d *tokenDecoder) VisitMintTo(ix *token.MintTo) error {
	if err := d.require(3, "mintTo"); err != nil {
		return err
	}
	d.record = MintToRecord{
		Mint:    d.key(0),
		Account: d.key(1),
		Amount:  ix.Amount,
		Owner:   d.authority(2, "owner", "multisigOwner"),
	}
	return nil
}

func (d *tokenDecoder) VisitBurn(ix *token.Burn) error {
	if err := d.require(2, "burn"); err != nil {
		return err
	}
	d.record = BurnRecord{
		Account:   d.key(0),
		Amount:    ix.Amount,
		Authority: d.authority(1, "authority", "multisigAuthority"),
	}
	return nil
}

func (d *tokenDecoder) VisitCloseAccount(*token.CloseAccount) error {
	if err := d.require(3, "closeAccount"); err != nil {
		return err
	}
	d.record = CloseAccountRecord{
		Account:     d.key(0),
		Destination: d.key(1),
		Owner:       d.authority(2, "owner", "multisigOwner"),
	}
	return nil
}

func (d *tokenDecoder) VisitFreezeAccount(*token.FreezeAccount) error {
	if err := d.require(3, "freezeAccount"); err != nil {
		return err
	}
	d.record = FreezeAccountRecord{
		Account:         d.key(0),
		Mint:            d.key(1),
		FreezeAuthority: d.authority(2, "freezeAuthority", "multisigFreezeAuthority"),
	}
	return nil
}

func (d *tokenDecoder) VisitThawAccount(*token.ThawAccount) error {
	if err := d.require(3, "thawAccount"); err != nil {
		return err
	}
	d.record = ThawAccountRecord{
		Account:         d.key(0),
		Mint:            d.key(1),
		FreezeAuthority: d.authority(2, "freezeAuthority", "multisigFreezeAuthority"),
	}
	return nil
}
