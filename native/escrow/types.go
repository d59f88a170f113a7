package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerpay/crypto"
)

// Status is the lifecycle of an escrow contract account.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusPending
	StatusReleased
	StatusCanceled
)

// MaxWitnesses bounds the witness list so its length fits in one byte.
const MaxWitnesses = 255

const contractHeaderSize = 1 + 32 + 32 + 1 + 1 + 8 + 32 + 1 + 1

var (
	ErrNoConditions     = errors.New("escrow: contract needs a time condition or at least one witness")
	ErrDuplicateWitness = errors.New("escrow: duplicate witness")
	ErrTooManyWitnesses = errors.New("escrow: too many witnesses")
	ErrMalformedState   = errors.New("escrow: malformed contract data")
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusUninitialized, StatusPending, StatusReleased, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusPending:
		return "pending"
	case StatusReleased:
		return "released"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// TimeCondition releases funds once the designated authority asserts a
// timestamp at or after Threshold (unix seconds).
type TimeCondition struct {
	Threshold int64          `json:"threshold"`
	Authority crypto.Address `json:"authority"`
}

// Terms are the release conditions chosen by the payer when funding a contract.
type Terms struct {
	Payer      crypto.Address   `json:"payer"`
	Recipient  crypto.Address   `json:"recipient"`
	Cancelable bool             `json:"cancelable"`
	Time       *TimeCondition   `json:"time,omitempty"`
	Witnesses  []crypto.Address `json:"witnesses,omitempty"`
}

// HasConditions reports whether the terms need an escrow at all.
func (t Terms) HasConditions() bool {
	return t.Time != nil || len(t.Witnesses) > 0
}

// Validate checks the terms can be stored in a contract account.
func (t Terms) Validate() error {
	if !t.HasConditions() {
		return ErrNoConditions
	}
	if len(t.Witnesses) > MaxWitnesses {
		return fmt.Errorf("%w: %d", ErrTooManyWitnesses, len(t.Witnesses))
	}
	seen := make(map[crypto.Address]struct{}, len(t.Witnesses))
	for _, w := range t.Witnesses {
		if _, ok := seen[w]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateWitness, w)
		}
		seen[w] = struct{}{}
	}
	return nil
}

// Witness tracks whether a required witness has signed off.
type Witness struct {
	Address crypto.Address `json:"address"`
	Signed  bool           `json:"signed"`
}

// Contract is the state stored in an escrow contract account.
type Contract struct {
	Status        Status         `json:"status"`
	Payer         crypto.Address `json:"payer"`
	Recipient     crypto.Address `json:"recipient"`
	Cancelable    bool           `json:"cancelable"`
	Time          *TimeCondition `json:"time,omitempty"`
	TimeSatisfied bool           `json:"timeSatisfied"`
	Witnesses     []Witness      `json:"witnesses,omitempty"`
}

// StateSize is the account data length needed for a contract with n witnesses.
func StateSize(numWitnesses int) uint64 {
	return uint64(contractHeaderSize + numWitnesses*(crypto.AddressLength+1))
}

// NewContract returns the pending contract for terms.
func NewContract(terms Terms) *Contract {
	c := &Contract{
		Status:     StatusPending,
		Payer:      terms.Payer,
		Recipient:  terms.Recipient,
		Cancelable: terms.Cancelable,
	}
	if terms.Time != nil {
		tc := *terms.Time
		c.Time = &tc
	}
	for _, w := range terms.Witnesses {
		c.Witnesses = append(c.Witnesses, Witness{Address: w})
	}
	return c
}

// Clone returns a deep copy of the contract so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Time != nil {
		tc := *c.Time
		clone.Time = &tc
	}
	clone.Witnesses = append([]Witness(nil), c.Witnesses...)
	return &clone
}

// Satisfied reports whether a release path is complete: the time condition
// has been asserted, or every witness has signed.
func (c *Contract) Satisfied() bool {
	if c.Time != nil && c.TimeSatisfied {
		return true
	}
	if len(c.Witnesses) == 0 {
		return false
	}
	for _, w := range c.Witnesses {
		if !w.Signed {
			return false
		}
	}
	return true
}

// Encode serialises the contract into its account layout.
func (c *Contract) Encode() []byte {
	buf := make([]byte, StateSize(len(c.Witnesses)))
	buf[0] = byte(c.Status)
	copy(buf[1:33], c.Payer[:])
	copy(buf[33:65], c.Recipient[:])
	buf[65] = boolByte(c.Cancelable)
	if c.Time != nil {
		buf[66] = 1
		binary.LittleEndian.PutUint64(buf[67:75], uint64(c.Time.Threshold))
		copy(buf[75:107], c.Time.Authority[:])
	}
	buf[107] = boolByte(c.TimeSatisfied)
	buf[108] = byte(len(c.Witnesses))
	off := contractHeaderSize
	for _, w := range c.Witnesses {
		copy(buf[off:off+32], w.Address[:])
		buf[off+32] = boolByte(w.Signed)
		off += 33
	}
	return buf
}

// DecodeContract parses contract account data. Zero-filled data decodes to an
// uninitialized contract.
func DecodeContract(data []byte) (*Contract, error) {
	if len(data) < contractHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedState, len(data))
	}
	c := &Contract{
		Status:     Status(data[0]),
		Payer:      crypto.NewAddress(data[1:33]),
		Recipient:  crypto.NewAddress(data[33:65]),
		Cancelable: data[65] == 1,
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrMalformedState, data[0])
	}
	if data[66] == 1 {
		c.Time = &TimeCondition{
			Threshold: int64(binary.LittleEndian.Uint64(data[67:75])),
			Authority: crypto.NewAddress(data[75:107]),
		}
	}
	c.TimeSatisfied = data[107] == 1
	n := int(data[108])
	if uint64(len(data)) < StateSize(n) {
		return nil, fmt.Errorf("%w: %d witnesses do not fit %d bytes", ErrMalformedState, n, len(data))
	}
	off := contractHeaderSize
	for i := 0; i < n; i++ {
		c.Witnesses = append(c.Witnesses, Witness{
			Address: crypto.NewAddress(data[off : off+32]),
			Signed:  data[off+32] == 1,
		})
		off += 33
	}
	return c, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
