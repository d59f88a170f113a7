package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerpay/crypto"
)

// ProgramID is the token program address.
var ProgramID = crypto.MustDecodeAddress("TokenSVp5gheXUvJ6jGWGeCsgPKgnE3YgdGKRVCMY9o")

// MaxSigners bounds the co-signer list of a multisig account.
const MaxSigners = 11

// ErrInvalidInstruction is returned when data cannot be unpacked.
var ErrInvalidInstruction = errors.New("token: invalid instruction data")

// Instruction is one of the token program's instruction shapes. The set is
// closed: every shape implements Accept, and Visitor has one method per shape.
type Instruction interface {
	Tag() uint8
	Pack() []byte
	Accept(v Visitor) error
}

// Visitor handles each instruction shape. Implementations fail to compile when
// a shape is added and not handled.
type Visitor interface {
	VisitInitializeMint(*InitializeMint) error
	VisitInitializeAccount(*InitializeAccount) error
	VisitInitializeMultisig(*InitializeMultisig) error
	VisitTransfer(*Transfer) error
	VisitApprove(*Approve) error
	VisitRevoke(*Revoke) error
	VisitSetOwner(*SetOwner) error
	VisitMintTo(*MintTo) error
	VisitBurn(*Burn) error
	VisitCloseAccount(*CloseAccount) error
	VisitFreezeAccount(*FreezeAccount) error
	VisitThawAccount(*ThawAccount) error
}

const (
	TagInitializeMint uint8 = iota
	TagInitializeAccount
	TagInitializeMultisig
	TagTransfer
	TagApprove
	TagRevoke
	TagSetOwner
	TagMintTo
	TagBurn
	TagCloseAccount
	TagFreezeAccount
	TagThawAccount
)

type (
	// InitializeMint creates a mint, optionally minting Amount to an account.
	InitializeMint struct {
		Amount   uint64
		Decimals uint8
	}
	InitializeAccount  struct{}
	InitializeMultisig struct{ M uint8 }
	Transfer           struct{ Amount uint64 }
	Approve            struct{ Amount uint64 }
	Revoke             struct{}
	SetOwner           struct{}
	MintTo             struct{ Amount uint64 }
	Burn               struct{ Amount uint64 }
	CloseAccount       struct{}
	FreezeAccount      struct{}
	ThawAccount        struct{}
)

func (*InitializeMint) Tag() uint8     { return TagInitializeMint }
func (*InitializeAccount) Tag() uint8  { return TagInitializeAccount }
func (*InitializeMultisig) Tag() uint8 { return TagInitializeMultisig }
func (*Transfer) Tag() uint8           { return TagTransfer }
func (*Approve) Tag() uint8            { return TagApprove }
func (*Revoke) Tag() uint8             { return TagRevoke }
func (*SetOwner) Tag() uint8           { return TagSetOwner }
func (*MintTo) Tag() uint8             { return TagMintTo }
func (*Burn) Tag() uint8               { return TagBurn }
func (*CloseAccount) Tag() uint8       { return TagCloseAccount }
func (*FreezeAccount) Tag() uint8      { return TagFreezeAccount }
func (*ThawAccount) Tag() uint8        { return TagThawAccount }

func (i *InitializeMint) Accept(v Visitor) error     { return v.VisitInitializeMint(i) }
func (i *InitializeAccount) Accept(v Visitor) error  { return v.VisitInitializeAccount(i) }
func (i *InitializeMultisig) Accept(v Visitor) error { return v.VisitInitializeMultisig(i) }
func (i *Transfer) Accept(v Visitor) error           { return v.VisitTransfer(i) }
func (i *Approve) Accept(v Visitor) error            { return v.VisitApprove(i) }
func (i *Revoke) Accept(v Visitor) error             { return v.VisitRevoke(i) }
func (i *SetOwner) Accept(v Visitor) error           { return v.VisitSetOwner(i) }
func (i *MintTo) Accept(v Visitor) error             { return v.VisitMintTo(i) }
func (i *Burn) Accept(v Visitor) error               { return v.VisitBurn(i) }
func (i *CloseAccount) Accept(v Visitor) error       { return v.VisitCloseAccount(i) }
func (i *FreezeAccount) Accept(v Visitor) error      { return v.VisitFreezeAccount(i) }
func (i *ThawAccount) Accept(v Visitor) error        { return v.VisitThawAccount(i) }

func (i *InitializeMint) Pack() []byte {
	buf := make([]byte, 1+8+1)
	buf[0] = TagInitializeMint
	binary.LittleEndian.PutUint64(buf[1:], i.Amount)
	buf[9] = i.Decimals
	return buf
}

func (i *InitializeMultisig) Pack() []byte { return []byte{TagInitializeMultisig, i.M} }

func (i *InitializeAccount) Pack() []byte { return []byte{TagInitializeAccount} }
func (i *Revoke) Pack() []byte            { return []byte{TagRevoke} }
func (i *SetOwner) Pack() []byte          { return []byte{TagSetOwner} }
func (i *CloseAccount) Pack() []byte      { return []byte{TagCloseAccount} }
func (i *FreezeAccount) Pack() []byte     { return []byte{TagFreezeAccount} }
func (i *ThawAccount) Pack() []byte       { return []byte{TagThawAccount} }

func (i *Transfer) Pack() []byte { return packAmount(TagTransfer, i.Amount) }
func (i *Approve) Pack() []byte  { return packAmount(TagApprove, i.Amount) }
func (i *MintTo) Pack() []byte   { return packAmount(TagMintTo, i.Amount) }
func (i *Burn) Pack() []byte     { return packAmount(TagBurn, i.Amount) }

func packAmount(tag uint8, amount uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], amount)
	return buf
}

// Unpack decodes instruction data. Trailing bytes are rejected.
func Unpack(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidInstruction)
	}
	body := data[1:]
	fixed := func(n int) error {
		if len(body) != n {
			return fmt.Errorf("%w: tag %d expects %d payload bytes, got %d", ErrInvalidInstruction, data[0], n, len(body))
		}
		return nil
	}
	checked := func(ix Instruction, err error) (Instruction, error) {
		if err != nil {
			return nil, err
		}
		return ix, nil
	}
	amount := func() (uint64, error) {
		if err := fixed(8); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(body), nil
	}

	switch data[0] {
	case TagInitializeMint:
		if err := fixed(9); err != nil {
			return nil, err
		}
		return &InitializeMint{Amount: binary.LittleEndian.Uint64(body), Decimals: body[8]}, nil
	case TagInitializeAccount:
		return checked(&InitializeAccount{}, fixed(0))
	case TagInitializeMultisig:
		if err := fixed(1); err != nil {
			return nil, err
		}
		if body[0] == 0 || body[0] > MaxSigners {
			return nil, fmt.Errorf("%w: multisig threshold %d", ErrInvalidInstruction, body[0])
		}
		return &InitializeMultisig{M: body[0]}, nil
	case TagTransfer:
		n, err := amount()
		return checked(&Transfer{Amount: n}, err)
	case TagApprove:
		n, err := amount()
		return checked(&Approve{Amount: n}, err)
	case TagRevoke:
		return checked(&Revoke{}, fixed(0))
	case TagSetOwner:
		return checked(&SetOwner{}, fixed(0))
	case TagMintTo:
		n, err := amount()
		return checked(&MintTo{Amount: n}, err)
	case TagBurn:
		n, err := amount()
		return checked(&Burn{Amount: n}, err)
	case TagCloseAccount:
		return checked(&CloseAccount{}, fixed(0))
	case TagFreezeAccount:
		return checked(&FreezeAccount{}, fixed(0))
	case TagThawAccount:
		return checked(&ThawAccount{}, fixed(0))
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, data[0])
	}
}
