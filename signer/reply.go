package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

// ReplyVersion is the current offline payload format.
const ReplyVersion = 1

var errMalformedReply = errors.New("signer: malformed reply")

// SlotSignature is one required signer and, when present, its signature.
type SlotSignature struct {
	Pubkey    crypto.Address    `json:"pubkey"`
	Signature *crypto.Signature `json:"signature,omitempty"`
}

// Reply is what an offline signer hands to the party that submits. It never
// contains key material.
type Reply struct {
	Version   int             `json:"version"`
	ID        string          `json:"id"`
	Blockhash crypto.Hash     `json:"blockhash"`
	Signers   []SlotSignature `json:"signers"`
	AllSigned bool            `json:"allSigned"`
	// Digest is the hex BLAKE3 hash of the signed message bytes.
	Digest string `json:"digest"`
}

// Digest returns the hex BLAKE3 hash of tx's message bytes.
func Digest(tx *types.Transaction) string {
	sum := blake3.Sum256(tx.MessageBytes())
	return hex.EncodeToString(sum[:])
}

// SignOnly signs tx with whatever signers are available and packages the
// result for transport. Slots without a signer stay empty.
func SignOnly(ctx context.Context, tx *types.Transaction, signers ...crypto.Signer) (*Reply, error) {
	if err := SignTransaction(ctx, tx, signers...); err != nil {
		return nil, err
	}
	return NewReply(tx), nil
}

// NewReply snapshots tx's signature slots.
func NewReply(tx *types.Transaction) *Reply {
	keys := tx.Message.SignerKeys()
	slots := make([]SlotSignature, len(keys))
	for i, key := range keys {
		slots[i] = SlotSignature{Pubkey: key}
		if i < len(tx.Signatures) && !tx.Signatures[i].IsZero() {
			sig := tx.Signatures[i]
			slots[i].Signature = &sig
		}
	}
	return &Reply{
		Version:   ReplyVersion,
		ID:        uuid.NewString(),
		Blockhash: tx.Message.RecentBlockhash,
		Signers:   slots,
		AllSigned: tx.State() == types.FullySigned,
		Digest:    Digest(tx),
	}
}

// Presigners returns a Presigner for every populated slot.
func (r *Reply) Presigners() []crypto.Signer {
	var out []crypto.Signer
	for _, slot := range r.Signers {
		if slot.Signature != nil {
			out = append(out, NewPresigner(slot.Pubkey, *slot.Signature))
		}
	}
	return out
}

// Absent lists the signers whose slots were left empty.
func (r *Reply) Absent() []crypto.Address {
	var out []crypto.Address
	for _, slot := range r.Signers {
		if slot.Signature == nil {
			out = append(out, slot.Pubkey)
		}
	}
	return out
}

// Encode returns the base64-wrapped JSON text form.
func (r *Reply) Encode() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ParseReply reads a reply in either JSON or base64-wrapped JSON form.
func ParseReply(text string) (*Reply, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", errMalformedReply)
	}
	raw := []byte(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedReply, err)
		}
		raw = decoded
	}
	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedReply, err)
	}
	if reply.Version != ReplyVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errMalformedReply, reply.Version)
	}
	if _, err := hex.DecodeString(reply.Digest); err != nil || len(reply.Digest) != 64 {
		return nil, fmt.Errorf("%w: bad digest", errMalformedReply)
	}
	return &reply, nil
}

// Merge applies the reply's signatures and the local signers to tx, which must
// be the same message the reply was produced for. Every slot must end up
// filled.
func Merge(ctx context.Context, tx *types.Transaction, reply *Reply, local ...crypto.Signer) error {
	signers := local
	if reply != nil {
		if reply.Blockhash != tx.Message.RecentBlockhash {
			return fmt.Errorf("%w: reply blockhash %s, transaction %s", ErrDigestMismatch, reply.Blockhash, tx.Message.RecentBlockhash)
		}
		if reply.Digest != Digest(tx) {
			return fmt.Errorf("%w: reply %s", ErrDigestMismatch, reply.ID)
		}
		signers = append(reply.Presigners(), local...)
	}
	if err := SignTransaction(ctx, tx, signers...); err != nil {
		return err
	}
	return RequireComplete(tx)
}

// VerifyDigest checks tx still hashes to digest and carries a valid signature
// in every slot.
func VerifyDigest(tx *types.Transaction, digest string) error {
	if got := Digest(tx); got != digest {
		return fmt.Errorf("%w: have %s, want %s", ErrDigestMismatch, got, digest)
	}
	if err := RequireComplete(tx); err != nil {
		return err
	}
	return tx.VerifySignatures()
}
