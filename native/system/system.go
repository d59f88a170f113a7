package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

var (
	// ProgramID owns plain accounts and durable nonce accounts.
	ProgramID = crypto.MustDecodeAddress("11111111111111111111111111111111")
	// RecentBlockhashesSysvar is passed to nonce instructions.
	RecentBlockhashesSysvar = crypto.MustDecodeAddress("SysvarRecentB1ockHashes11111111111111111111")
	// RentSysvar is passed to InitializeNonceAccount.
	RentSysvar = crypto.MustDecodeAddress("SysvarRent111111111111111111111111111111111")
)

// Instruction tags.
const (
	tagCreateAccount          uint32 = 0
	tagTransfer               uint32 = 2
	tagAdvanceNonceAccount    uint32 = 4
	tagWithdrawNonceAccount   uint32 = 5
	tagInitializeNonceAccount uint32 = 6
	tagAuthorizeNonceAccount  uint32 = 7
)

var errMalformed = errors.New("system: malformed instruction data")

// CreateAccount allocates space for a new account owned by owner and funds it
// from the payer. Both accounts must sign.
func CreateAccount(from, to crypto.Address, lamports, space uint64, owner crypto.Address) types.Instruction {
	data := make([]byte, 4+8+8+32)
	binary.LittleEndian.PutUint32(data[0:], tagCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(from, true),
			types.NewAccountMeta(to, true),
		},
		Data: data,
	}
}

// Transfer moves lamports between two system-owned accounts.
func Transfer(from, to crypto.Address, lamports uint64) types.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], tagTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(from, true),
			types.NewAccountMeta(to, false),
		},
		Data: data,
	}
}

// AdvanceNonceAccount consumes the stored nonce value and replaces it with the
// current blockhash. It must be the first instruction of a nonced transaction.
func AdvanceNonceAccount(nonce, authority crypto.Address) types.Instruction {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, tagAdvanceNonceAccount)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(nonce, false),
			types.NewReadonlyAccountMeta(RecentBlockhashesSysvar, false),
			types.NewReadonlyAccountMeta(authority, true),
		},
		Data: data,
	}
}

// WithdrawNonceAccount moves lamports out of a nonce account.
func WithdrawNonceAccount(nonce, authority, to crypto.Address, lamports uint64) types.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], tagWithdrawNonceAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(nonce, false),
			types.NewAccountMeta(to, false),
			types.NewReadonlyAccountMeta(RecentBlockhashesSysvar, false),
			types.NewReadonlyAccountMeta(RentSysvar, false),
			types.NewReadonlyAccountMeta(authority, true),
		},
		Data: data,
	}
}

// InitializeNonceAccount stores the first nonce value and the authority.
func InitializeNonceAccount(nonce, authority crypto.Address) types.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:], tagInitializeNonceAccount)
	copy(data[4:], authority[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(nonce, false),
			types.NewReadonlyAccountMeta(RecentBlockhashesSysvar, false),
			types.NewReadonlyAccountMeta(RentSysvar, false),
		},
		Data: data,
	}
}

// AuthorizeNonceAccount hands nonce authority to a new address.
func AuthorizeNonceAccount(nonce, authority, newAuthority crypto.Address) types.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:], tagAuthorizeNonceAccount)
	copy(data[4:], newAuthority[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(nonce, false),
			types.NewReadonlyAccountMeta(authority, true),
		},
		Data: data,
	}
}

// CreateNonceAccount returns the two instructions that allocate and initialise
// a durable nonce account.
func CreateNonceAccount(from, nonce, authority crypto.Address, lamports uint64) []types.Instruction {
	return []types.Instruction{
		CreateAccount(from, nonce, lamports, NonceStateSize, ProgramID),
		InitializeNonceAccount(nonce, authority),
	}
}

// Decoded forms consumed by the executor.
type (
	createAccountArgs struct {
		Lamports uint64
		Space    uint64
		Owner    crypto.Address
	}
	transferArgs  struct{ Lamports uint64 }
	withdrawArgs  struct{ Lamports uint64 }
	authorityArgs struct{ Authority crypto.Address }
)

func decode(data []byte) (uint32, any, error) {
	if len(data) < 4 {
		return 0, nil, errMalformed
	}
	tag := binary.LittleEndian.Uint32(data)
	body := data[4:]
	switch tag {
	case tagCreateAccount:
		if len(body) != 48 {
			return 0, nil, errMalformed
		}
		return tag, createAccountArgs{
			Lamports: binary.LittleEndian.Uint64(body[0:]),
			Space:    binary.LittleEndian.Uint64(body[8:]),
			Owner:    crypto.NewAddress(body[16:48]),
		}, nil
	case tagTransfer:
		if len(body) != 8 {
			return 0, nil, errMalformed
		}
		return tag, transferArgs{Lamports: binary.LittleEndian.Uint64(body)}, nil
	case tagWithdrawNonceAccount:
		if len(body) != 8 {
			return 0, nil, errMalformed
		}
		return tag, withdrawArgs{Lamports: binary.LittleEndian.Uint64(body)}, nil
	case tagAdvanceNonceAccount:
		if len(body) != 0 {
			return 0, nil, errMalformed
		}
		return tag, nil, nil
	case tagInitializeNonceAccount, tagAuthorizeNonceAccount:
		if len(body) != 32 {
			return 0, nil, errMalformed
		}
		return tag, authorityArgs{Authority: crypto.NewAddress(body)}, nil
	default:
		return 0, nil, fmt.Errorf("system: unknown instruction tag %d", tag)
	}
}

// IsAdvanceNonce reports whether ix advances a nonce account and returns the
// nonce account address when it does.
func IsAdvanceNonce(msg *types.Message, ix types.CompiledInstruction) (crypto.Address, bool) {
	program, err := msg.ProgramID(ix)
	if err != nil || program != ProgramID || len(ix.Accounts) < 3 {
		return crypto.Address{}, false
	}
	tag, _, err := decode(ix.Data)
	if err != nil || tag != tagAdvanceNonceAccount {
		return crypto.Address{}, false
	}
	if int(ix.Accounts[0]) >= len(msg.AccountKeys) {
		return crypto.Address{}, false
	}
	return msg.AccountKeys[ix.Accounts[0]], true
}
