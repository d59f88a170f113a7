// Package blockhash resolves the replay-protection value embedded in a
// transaction: a recent cluster blockhash, the value stored in a durable nonce
// account, or a value supplied by the caller.
package blockhash

import (
	"fmt"

	"ledgerpay/crypto"
)

// Source is where a blockhash comes from. It is either Cluster or NonceAccount.
type Source interface {
	isSource()
	String() string
}

// Cluster sources the newest blockhash known to the ledger.
type Cluster struct{}

// NonceAccount sources the value stored in a durable nonce account.
type NonceAccount struct {
	Address crypto.Address
}

func (Cluster) isSource()      {}
func (NonceAccount) isSource() {}

func (Cluster) String() string { return "cluster" }

func (n NonceAccount) String() string { return "nonce:" + n.Address.String() }

// QueryVisitor handles every Query shape.
type QueryVisitor interface {
	VisitStatic(Static) error
	VisitFetch(Fetch) error
	VisitValidated(Validated) error
}

// Query selects how a blockhash is obtained.
type Query interface {
	Accept(QueryVisitor) error
}

// Static uses Blockhash as given and never touches the network. Nonce names
// the durable nonce account the value came from, if any; offline signers need
// it so the advance instruction is still prepended.
type Static struct {
	Blockhash crypto.Hash
	Nonce     *DurableNonce
}

// Fetch reads the current value from Source.
type Fetch struct {
	Source Source
}

// Validated checks that Blockhash is still current at Source and attaches the
// fee rate. Used when submitting a payload that was signed offline.
type Validated struct {
	Source    Source
	Blockhash crypto.Hash
}

func (q Static) Accept(v QueryVisitor) error    { return v.VisitStatic(q) }
func (q Fetch) Accept(v QueryVisitor) error     { return v.VisitFetch(q) }
func (q Validated) Accept(v QueryVisitor) error { return v.VisitValidated(q) }

// DurableNonce identifies the nonce account backing a transaction.
type DurableNonce struct {
	Account   crypto.Address
	Authority crypto.Address
}

// NewQuery maps the usual command-line inputs onto a Query. A blockhash with
// signOnly yields Static; a blockhash without it yields Validated; no
// blockhash yields Fetch. nonceAccount selects the nonce source and
// nonceAuthority (defaulting to the account itself) is attached for Static.
func NewQuery(blockhash *crypto.Hash, signOnly bool, nonceAccount, nonceAuthority *crypto.Address) (Query, error) {
	var source Source = Cluster{}
	if nonceAccount != nil {
		source = NonceAccount{Address: *nonceAccount}
	}
	switch {
	case blockhash != nil && signOnly:
		q := Static{Blockhash: *blockhash}
		if nonceAccount != nil {
			authority := *nonceAccount
			if nonceAuthority != nil {
				authority = *nonceAuthority
			}
			q.Nonce = &DurableNonce{Account: *nonceAccount, Authority: authority}
		}
		return q, nil
	case blockhash != nil:
		return Validated{Source: source, Blockhash: *blockhash}, nil
	case signOnly:
		return nil, fmt.Errorf("blockhash: sign-only mode requires an explicit blockhash")
	default:
		return Fetch{Source: source}, nil
	}
}
