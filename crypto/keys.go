package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// AddressLength is the size of an account address (an ed25519 public key).
	AddressLength = 32
	// HashLength is the size of a blockhash or durable nonce value.
	HashLength = 32
	// SignatureLength is the size of an ed25519 signature.
	SignatureLength = 64
)

// Address identifies a ledger account. It is the raw ed25519 public key of the
// account owner and is rendered as base58 text.
type Address [AddressLength]byte

// NewAddress copies b into an Address. It panics when b has the wrong length.
func NewAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 32 bytes long")
	}
	var a Address
	copy(a[:], b)
	return a
}

// DecodeAddress parses the base58 text form of an address.
func DecodeAddress(s string) (Address, error) {
	decoded, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("invalid base58 address: %w", err)
	}
	if len(decoded) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(decoded))
	}
	return NewAddress(decoded), nil
}

// MustDecodeAddress is DecodeAddress for compile-time constants.
func MustDecodeAddress(s string) Address {
	a, err := DecodeAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return base58.Encode(a[:]) }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

// IsZero reports whether every byte of the address is zero.
func (a Address) IsZero() bool { return a == Address{} }

// Compare orders addresses bytewise.
func (a Address) Compare(other Address) int { return bytes.Compare(a[:], other[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// Hash is a 32-byte blockhash or durable nonce value used for replay protection.
type Hash [HashLength]byte

// DecodeHash parses the base58 text form of a hash.
func DecodeHash(s string) (Hash, error) {
	decoded, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return Hash{}, fmt.Errorf("invalid base58 hash: %w", err)
	}
	if len(decoded) != HashLength {
		return Hash{}, fmt.Errorf("invalid hash length %d", len(decoded))
	}
	var h Hash
	copy(h[:], decoded)
	return h, nil
}

// HashData returns the sha256 digest of the concatenated inputs.
func HashData(parts ...[]byte) Hash {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write(part)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

func (h Hash) String() string { return base58.Encode(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := DecodeHash(string(text))
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Signature is an ed25519 signature over a serialized message.
type Signature [SignatureLength]byte

// DecodeSignature parses the base58 text form of a signature.
func DecodeSignature(s string) (Signature, error) {
	decoded, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return Signature{}, fmt.Errorf("invalid base58 signature: %w", err)
	}
	if len(decoded) != SignatureLength {
		return Signature{}, fmt.Errorf("invalid signature length %d", len(decoded))
	}
	var sig Signature
	copy(sig[:], decoded)
	return sig, nil
}

func (s Signature) String() string { return base58.Encode(s[:]) }

// IsZero reports whether the signature slot is still empty.
func (s Signature) IsZero() bool { return s == Signature{} }

// Verify checks the signature against message for the given public key.
func (s Signature) Verify(signer Address, message []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, s[:])
}

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	decoded, err := DecodeSignature(string(text))
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// --- Key Management ---

// PrivateKey is an in-memory ed25519 signing key.
type PrivateKey struct {
	ed25519.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromSeed derives a key from a 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes", ed25519.SeedSize)
	}
	return &PrivateKey{ed25519.NewKeyFromSeed(seed)}, nil
}

// PrivateKeyFromBytes accepts either a 32-byte seed or the 64-byte
// seed||public form and checks that the embedded public key matches.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return PrivateKeyFromSeed(b)
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if !bytes.Equal(key[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
			return nil, errors.New("crypto: public key does not match seed")
		}
		return &PrivateKey{key}, nil
	default:
		return nil, fmt.Errorf("crypto: invalid private key length %d", len(b))
	}
}

// Bytes returns the 64-byte seed||public representation of the key.
func (k *PrivateKey) Bytes() []byte {
	return append([]byte(nil), k.PrivateKey...)
}

// Seed returns the 32-byte seed the key was derived from.
func (k *PrivateKey) Seed() []byte {
	return k.PrivateKey.Seed()
}

func (k *PrivateKey) Address() Address {
	return NewAddress(k.PrivateKey.Public().(ed25519.PublicKey))
}

// SignMessage signs message with the key.
func (k *PrivateKey) SignMessage(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.PrivateKey, message))
	return sig
}

// MarshalJSON renders the key as the JSON byte array used by key files.
func (k *PrivateKey) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k.PrivateKey))
	for i, b := range k.PrivateKey {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}
