package types

import (
	"encoding/base64"
	"errors"
	"fmt"

	"ledgerpay/crypto"
)

var (
	// ErrSignerNotRequired is returned when a signature is offered for an
	// address that is not one of the message's required signers.
	ErrSignerNotRequired = errors.New("types: signer is not a required signer")
	// ErrSignatureVerification is returned when a populated slot does not
	// verify against the message bytes.
	ErrSignatureVerification = errors.New("types: signature verification failed")
)

// SigningState reports how far a transaction is through signing.
type SigningState int

const (
	Unsigned SigningState = iota
	PartiallySigned
	FullySigned
)

func (s SigningState) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case PartiallySigned:
		return "partially-signed"
	case FullySigned:
		return "fully-signed"
	default:
		return fmt.Sprintf("SigningState(%d)", int(s))
	}
}

// Transaction pairs a message with one signature slot per required signer.
// Empty slots hold the zero signature.
type Transaction struct {
	Signatures []crypto.Signature `json:"signatures"`
	Message    Message            `json:"message"`
}

// NewTransaction wraps msg with empty signature slots.
func NewTransaction(msg *Message) *Transaction {
	return &Transaction{
		Signatures: make([]crypto.Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}
}

// MessageBytes returns the exact payload every signer signs.
func (tx *Transaction) MessageBytes() []byte {
	return tx.Message.Serialize()
}

// SetBlockhash replaces the replay-protection value. Any change invalidates
// all existing signatures, so the slots are cleared.
func (tx *Transaction) SetBlockhash(h crypto.Hash) {
	if tx.Message.RecentBlockhash == h {
		return
	}
	tx.Message.RecentBlockhash = h
	for i := range tx.Signatures {
		tx.Signatures[i] = crypto.Signature{}
	}
}

// AddSignature stores sig in the slot of addr after checking it verifies.
func (tx *Transaction) AddSignature(addr crypto.Address, sig crypto.Signature) error {
	idx := tx.Message.SignerIndex(addr)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSignerNotRequired, addr)
	}
	if !sig.Verify(addr, tx.MessageBytes()) {
		return fmt.Errorf("%w: %s", ErrSignatureVerification, addr)
	}
	tx.ensureSlots()
	tx.Signatures[idx] = sig
	return nil
}

func (tx *Transaction) ensureSlots() {
	want := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < want {
		tx.Signatures = append(tx.Signatures, make([]crypto.Signature, want-len(tx.Signatures))...)
	}
}

// State reports whether none, some or all signature slots are populated.
func (tx *Transaction) State() SigningState {
	required := int(tx.Message.Header.NumRequiredSignatures)
	filled := 0
	for i := 0; i < required && i < len(tx.Signatures); i++ {
		if !tx.Signatures[i].IsZero() {
			filled++
		}
	}
	switch {
	case filled == 0 && required > 0:
		return Unsigned
	case filled < required:
		return PartiallySigned
	default:
		return FullySigned
	}
}

// MissingSigners lists the required signers whose slots are still empty.
func (tx *Transaction) MissingSigners() []crypto.Address {
	var missing []crypto.Address
	for i, key := range tx.Message.SignerKeys() {
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			missing = append(missing, key)
		}
	}
	return missing
}

// VerifySignatures checks that every slot holds a valid signature over the
// current message bytes.
func (tx *Transaction) VerifySignatures() error {
	msg := tx.MessageBytes()
	keys := tx.Message.SignerKeys()
	if len(tx.Signatures) != len(keys) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrSignatureVerification, len(tx.Signatures), len(keys))
	}
	for i, key := range keys {
		if !tx.Signatures[i].Verify(key, msg) {
			return fmt.Errorf("%w: %s", ErrSignatureVerification, key)
		}
	}
	return nil
}

// ID is the first signature, which identifies the transaction on the ledger.
func (tx *Transaction) ID() crypto.Signature {
	if len(tx.Signatures) == 0 {
		return crypto.Signature{}
	}
	return tx.Signatures[0]
}

// Fee computes the ledger fee for the transaction at the given rate.
func (tx *Transaction) Fee(lamportsPerSignature uint64) uint64 {
	return lamportsPerSignature * uint64(tx.Message.Header.NumRequiredSignatures)
}

// Serialize encodes the transaction in wire form.
func (tx *Transaction) Serialize() []byte {
	msg := tx.MessageBytes()
	buf := make([]byte, 0, 3+len(tx.Signatures)*crypto.SignatureLength+len(msg))
	buf = appendShortVec(buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf = append(buf, sig[:]...)
	}
	return append(buf, msg...)
}

// DeserializeTransaction decodes wire bytes produced by Serialize.
func DeserializeTransaction(b []byte) (*Transaction, error) {
	r := reader{buf: b}
	numSigs, err := r.shortVec()
	if err != nil {
		return nil, err
	}
	sigs := make([]crypto.Signature, numSigs)
	for i := range sigs {
		raw, err := r.take(crypto.SignatureLength)
		if err != nil {
			return nil, err
		}
		copy(sigs[i][:], raw)
	}
	msg, n, err := DeserializeMessage(b[r.pos:])
	if err != nil {
		return nil, err
	}
	if r.pos+n != len(b) {
		return nil, fmt.Errorf("types: %d trailing bytes after transaction", len(b)-r.pos-n)
	}
	if len(sigs) != int(msg.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("types: %d signatures for %d required signers", len(sigs), msg.Header.NumRequiredSignatures)
	}
	return &Transaction{Signatures: sigs, Message: *msg}, nil
}

// EncodeBase64 renders the wire bytes as base64 text.
func (tx *Transaction) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(tx.Serialize())
}

// DecodeBase64Transaction parses base64 wire text.
func DecodeBase64Transaction(s string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("types: decode base64: %w", err)
	}
	return DeserializeTransaction(raw)
}
