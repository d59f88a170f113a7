package status

import (
	"encoding/json"

	"ledgerpay/crypto"
)

// Record is the typed form of a decoded token instruction.
type Record interface {
	// Type is the operation tag reported under "type".
	Type() string
	// Info flattens the record into display fields.
	Info() map[string]any
}

// AuthorityRef is the account authorizing an instruction. Signers is non-empty
// only when the authority is a multisig account, in which case Field holds the
// multisig field name.
type AuthorityRef struct {
	Field   string
	Address crypto.Address
	Signers []crypto.Address
}

// IsMultisig reports whether co-signers were listed after the authority.
func (a AuthorityRef) IsMultisig() bool { return len(a.Signers) > 0 }

func (a AuthorityRef) apply(info map[string]any) {
	info[a.Field] = a.Address.String()
	if a.IsMultisig() {
		info["signers"] = addressStrings(a.Signers)
	}
}

func addressStrings(addrs []crypto.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.String()
	}
	return out
}

// InitializeMintRecord is a decoded create-mint instruction.
type InitializeMintRecord struct {
	Mint     crypto.Address
	Amount   uint64
	Decimals uint8
	// Account receives the initial supply; set only when Amount > 0.
	Account *crypto.Address
	Owner   *crypto.Address
}

// InitializeAccountRecord is a decoded create-token-account instruction.
type InitializeAccountRecord struct {
	Account crypto.Address
	Mint    crypto.Address
	Owner   crypto.Address
}

// InitializeMultisigRecord is a decoded create-multisig instruction; M of
// Signers must sign.
type InitializeMultisigRecord struct {
	Multisig crypto.Address
	Signers  []crypto.Address
	M        uint8
}

// TransferRecord moves Amount base units between token accounts.
type TransferRecord struct {
	Source      crypto.Address
	Destination crypto.Address
	Amount      uint64
	Authority   AuthorityRef
}

// ApproveRecord lets Delegate spend up to Amount from Source.
type ApproveRecord struct {
	Source   crypto.Address
	Delegate crypto.Address
	Amount   uint64
	Owner    AuthorityRef
}

// RevokeRecord clears the delegate on Source.
type RevokeRecord struct {
	Source crypto.Address
	Owner  AuthorityRef
}

// SetOwnerRecord hands Owned over to NewOwner.
type SetOwnerRecord struct {
	Owned    crypto.Address
	NewOwner crypto.Address
	Owner    AuthorityRef
}

// MintToRecord issues Amount new units of Mint into Account.
type MintToRecord struct {
	Mint    crypto.Address
	Account crypto.Address
	Amount  uint64
	Owner   AuthorityRef
}

// BurnRecord destroys Amount units held in Account.
type BurnRecord struct {
	Account   crypto.Address
	Amount    uint64
	Authority AuthorityRef
}

// CloseAccountRecord closes Account and sends its lamports to Destination.
type CloseAccountRecord struct {
	Account     crypto.Address
	Destination crypto.Address
	Owner       AuthorityRef
}

// FreezeAccountRecord freezes Account under the mint's freeze authority.
type FreezeAccountRecord struct {
	Account         crypto.Address
	Mint            crypto.Address
	FreezeAuthority AuthorityRef
}

// ThawAccountRecord unfreezes Account.
type ThawAccountRecord struct {
	Account         crypto.Address
	Mint            crypto.Address
	FreezeAuthority AuthorityRef
}

func (InitializeMintRecord) Type() string     { return "initializeMint" }
func (InitializeAccountRecord) Type() string  { return "initializeAccount" }
func (InitializeMultisigRecord) Type() string { return "initializeMultisig" }
func (TransferRecord) Type() string           { return "transfer" }
func (ApproveRecord) Type() string            { return "approve" }
func (RevokeRecord) Type() string             { return "revoke" }
func (SetOwnerRecord) Type() string           { return "setOwner" }
func (MintToRecord) Type() string             { return "mintTo" }
func (BurnRecord) Type() string               { return "burn" }
func (CloseAccountRecord) Type() string       { return "closeAccount" }
func (FreezeAccountRecord) Type() string      { return "freezeAccount" }
func (ThawAccountRecord) Type() string        { return "thawAccount" }

func (r InitializeMintRecord) Info() map[string]any {
	info := map[string]any{
		"type":     r.Type(),
		"mint":     r.Mint.String(),
		"amount":   r.Amount,
		"decimals": r.Decimals,
	}
	if r.Account != nil {
		info["account"] = r.Account.String()
	}
	if r.Owner != nil {
		info["owner"] = r.Owner.String()
	}
	return info
}

func (r InitializeAccountRecord) Info() map[string]any {
	return map[string]any{
		"type":    r.Type(),
		"account": r.Account.String(),
		"mint":    r.Mint.String(),
		"owner":   r.Owner.String(),
	}
}

func (r InitializeMultisigRecord) Info() map[string]any {
	return map[string]any{
		"type":     r.Type(),
		"multisig": r.Multisig.String(),
		"signers":  addressStrings(r.Signers),
		"m":        r.M,
	}
}

func (r TransferRecord) Info() map[string]any {
	info := map[string]any{
		"type":        r.Type(),
		"source":      r.Source.String(),
		"destination": r.Destination.String(),
		"amount":      r.Amount,
	}
	r.Authority.apply(info)
	return info
}

func (r ApproveRecord) Info() map[string]any {
	info := map[string]any{
		"type":     r.Type(),
		"source":   r.Source.String(),
		"delegate": r.Delegate.String(),
		"amount":   r.Amount,
	}
	r.Owner.apply(info)
	return info
}

func (r RevokeRecord) Info() map[string]any {
	info := map[string]any{
		"type":   r.Type(),
		"source": r.Source.String(),
	}
	r.Owner.apply(info)
	return info
}

func (r SetOwnerRecord) Info() map[string]any {
	info := map[string]any{
		"type":     r.Type(),
		"owned":    r.Owned.String(),
		"newOwner": r.NewOwner.String(),
	}
	r.Owner.apply(info)
	return info
}

func (r MintToRecord) Info() map[string]any {
	info := map[string]any{
		"type":    r.Type(),
		"mint":    r.Mint.String(),
		"account": r.Account.String(),
		"amount":  r.Amount,
	}
	r.Owner.apply(info)
	return info
}

func (r BurnRecord) Info() map[string]any {
	info := map[string]any{
		"type":    r.Type(),
		"account": r.Account.String(),
		"amount":  r.Amount,
	}
	r.Authority.apply(info)
	return info
}

func (r CloseAccountRecord) Info() map[string]any {
	info := map[string]any{
		"type":        r.Type(),
		"account":     r.Account.String(),
		"destination": r.Destination.String(),
	}
	r.Owner.apply(info)
	return info
}

func (r FreezeAccountRecord) Info() map[string]any {
	info := map[string]any{
		"type":    r.Type(),
		"account": r.Account.String(),
		"mint":    r.Mint.String(),
	}
	r.FreezeAuthority.apply(info)
	return info
}

func (r ThawAccountRecord) Info() map[string]any {
	info := map[string]any{
		"type":    r.Type(),
		"account": r.Account.String(),
		"mint":    r.Mint.String(),
	}
	r.FreezeAuthority.apply(info)
	return info
}

// ParsedInstruction is a decoded token instruction. It serializes as the flat
// Info map.
type ParsedInstruction struct {
	Program string
	Record  Record
}

// Type is the operation tag.
func (p *ParsedInstruction) Type() string { return p.Record.Type() }

// Info returns a fresh copy of the display fields.
func (p *ParsedInstruction) Info() map[string]any { return p.Record.Info() }

func (p *ParsedInstruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Record.Info())
}

func (p *ParsedInstruction) MarshalYAML() (interface{}, error) {
	return p.Record.Info(), nil
}
