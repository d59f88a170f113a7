package builder

import (
	"ledgerpay/crypto"
	"ledgerpay/native/escrow"
)

// Visitor handles every command shape. Adding a command without extending
// Visitor and its implementations fails to compile.
type Visitor interface {
	VisitTransfer(*Transfer) error
	VisitConditionalPay(*ConditionalPay) error
	VisitReleaseByWitness(*ReleaseByWitness) error
	VisitReleaseByTime(*ReleaseByTime) error
	VisitCancel(*Cancel) error
	VisitCreateNonceAccount(*CreateNonceAccount) error
}

// Command is one logical ledger operation.
type Command interface {
	// Kind names the command in logs and metrics.
	Kind() string
	Accept(Visitor) error
}

// Transfer moves lamports between system accounts.
type Transfer struct {
	From   crypto.Address
	To     crypto.Address
	Amount SpendAmount
}

// ConditionalPay funds an escrow contract that releases to Recipient once the
// time condition is asserted or every witness has signed, whichever lands
// first. With no conditions it is a
// plain transfer and Contract is unused.
type ConditionalPay struct {
	From       crypto.Address
	Recipient  crypto.Address
	Contract   crypto.Address
	Amount     SpendAmount
	Time       *escrow.TimeCondition
	Witnesses  []crypto.Address
	Cancelable bool
}

// Terms returns the escrow terms the payment would store.
func (c *ConditionalPay) Terms() escrow.Terms {
	return escrow.Terms{
		Payer:      c.From,
		Recipient:  c.Recipient,
		Cancelable: c.Cancelable,
		Time:       c.Time,
		Witnesses:  c.Witnesses,
	}
}

// ReleaseByWitness records Witness's approval on a contract.
type ReleaseByWitness struct {
	Witness   crypto.Address
	Contract  crypto.Address
	Recipient crypto.Address
}

// ReleaseByTime asserts Timestamp on behalf of the contract's time authority.
type ReleaseByTime struct {
	Authority crypto.Address
	Contract  crypto.Address
	Recipient crypto.Address
	Timestamp int64
}

// Cancel returns an unreleased, cancelable contract's funds to Payer.
type Cancel struct {
	Payer    crypto.Address
	Contract crypto.Address
}

// CreateNonceAccount creates and initializes a durable nonce account funded
// from From.
type CreateNonceAccount struct {
	From         crypto.Address
	NonceAccount crypto.Address
	Authority    crypto.Address
	Amount       SpendAmount
}

func (*Transfer) Kind() string           { return "transfer" }
func (*ConditionalPay) Kind() string     { return "pay" }
func (*ReleaseByWitness) Kind() string   { return "release-witness" }
func (*ReleaseByTime) Kind() string      { return "release-time" }
func (*Cancel) Kind() string             { return "cancel" }
func (*CreateNonceAccount) Kind() string { return "create-nonce-account" }

func (c *Transfer) Accept(v Visitor) error           { return v.VisitTransfer(c) }
func (c *ConditionalPay) Accept(v Visitor) error     { return v.VisitConditionalPay(c) }
func (c *ReleaseByWitness) Accept(v Visitor) error   { return v.VisitReleaseByWitness(c) }
func (c *ReleaseByTime) Accept(v Visitor) error      { return v.VisitReleaseByTime(c) }
func (c *Cancel) Accept(v Visitor) error             { return v.VisitCancel(c) }
func (c *CreateNonceAccount) Accept(v Visitor) error { return v.VisitCreateNonceAccount(c) }

// Debits returns the accounts cmd draws lamports from, excluding the fee payer.
func Debits(cmd Command) []crypto.Address {
	var d debits
	_ = cmd.Accept(&d)
	return d.addrs
}

type debits struct{ addrs []crypto.Address }

func (d *debits) VisitTransfer(c *Transfer) error {
	d.addrs = []crypto.Address{c.From}
	return nil
}

func (d *debits) VisitConditionalPay(c *ConditionalPay) error {
	d.addrs = []crypto.Address{c.From}
	return nil
}

func (d *debits) VisitReleaseByWitness(*ReleaseByWitness) error { return nil }
func (d *debits) VisitReleaseByTime(*ReleaseByTime) error       { return nil }
func (d *debits) VisitCancel(*Cancel) error                     { return nil }

func (d *debits) VisitCreateNonceAccount(c *CreateNonceAccount) error {
	d.addrs = []crypto.Address{c.From}
	return nil
}
