package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerpay/crypto"
)

// NonceStateSize is the data length of a durable nonce account.
const NonceStateSize = 80

const nonceStateVersion uint32 = 0

// NonceStatus is the lifecycle of a nonce account.
type NonceStatus uint32

const (
	NonceUninitialized NonceStatus = iota
	NonceInitialized
)

// Valid reports whether the status value is within the supported range.
func (s NonceStatus) Valid() bool {
	return s == NonceUninitialized || s == NonceInitialized
}

// NonceState is the layout stored in a durable nonce account.
type NonceState struct {
	Status               NonceStatus
	Authority            crypto.Address
	Blockhash            crypto.Hash
	LamportsPerSignature uint64
}

var ErrNonceDataSize = errors.New("system: nonce account data has wrong size")

// Encode serialises the state into the fixed account layout.
func (s NonceState) Encode() []byte {
	buf := make([]byte, NonceStateSize)
	binary.LittleEndian.PutUint32(buf[0:], nonceStateVersion)
	binary.LittleEndian.PutUint32(buf[4:], uint32(s.Status))
	copy(buf[8:40], s.Authority[:])
	copy(buf[40:72], s.Blockhash[:])
	binary.LittleEndian.PutUint64(buf[72:], s.LamportsPerSignature)
	return buf
}

// DecodeNonceState parses nonce account data.
func DecodeNonceState(data []byte) (NonceState, error) {
	if len(data) != NonceStateSize {
		return NonceState{}, fmt.Errorf("%w: %d", ErrNonceDataSize, len(data))
	}
	if v := binary.LittleEndian.Uint32(data[0:]); v != nonceStateVersion {
		return NonceState{}, fmt.Errorf("system: unsupported nonce version %d", v)
	}
	status := NonceStatus(binary.LittleEndian.Uint32(data[4:]))
	if !status.Valid() {
		return NonceState{}, fmt.Errorf("system: invalid nonce status %d", status)
	}
	state := NonceState{
		Status:               status,
		Authority:            crypto.NewAddress(data[8:40]),
		LamportsPerSignature: binary.LittleEndian.Uint64(data[72:]),
	}
	copy(state.Blockhash[:], data[40:72])
	return state, nil
}
