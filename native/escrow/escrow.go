package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/native/system"
)

// ProgramID owns escrow contract accounts.
var ProgramID = crypto.MustDecodeAddress("Budget1111111111111111111111111111111111111")

const (
	tagInitialize     uint32 = 0
	tagApplyTimestamp uint32 = 1
	tagApplySignature uint32 = 2
	tagCancel         uint32 = 3
)

var errMalformedInstruction = errors.New("escrow: malformed instruction data")

// InitializeContract stores terms in a freshly created contract account.
func InitializeContract(contract crypto.Address, terms Terms) types.Instruction {
	data := make([]byte, 4, 4+contractHeaderSize+len(terms.Witnesses)*32)
	binary.LittleEndian.PutUint32(data, tagInitialize)
	data = append(data, terms.Payer[:]...)
	data = append(data, terms.Recipient[:]...)
	data = append(data, boolByte(terms.Cancelable))
	if terms.Time != nil {
		data = append(data, 1)
		data = binary.LittleEndian.AppendUint64(data, uint64(terms.Time.Threshold))
		data = append(data, terms.Time.Authority[:]...)
	} else {
		data = append(data, 0)
	}
	data = append(data, byte(len(terms.Witnesses)))
	for _, w := range terms.Witnesses {
		data = append(data, w[:]...)
	}
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts:  []types.AccountMeta{types.NewAccountMeta(contract, false)},
		Data:      data,
	}
}

// ApplyTimestamp asserts the current time on behalf of the time authority.
func ApplyTimestamp(authority, contract, recipient crypto.Address, timestamp int64) types.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], tagApplyTimestamp)
	binary.LittleEndian.PutUint64(data[4:], uint64(timestamp))
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewReadonlyAccountMeta(authority, true),
			types.NewAccountMeta(contract, false),
			types.NewAccountMeta(recipient, false),
		},
		Data: data,
	}
}

// ApplySignature records the witness's approval.
func ApplySignature(witness, contract, recipient crypto.Address) types.Instruction {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, tagApplySignature)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewReadonlyAccountMeta(witness, true),
			types.NewAccountMeta(contract, false),
			types.NewAccountMeta(recipient, false),
		},
		Data: data,
	}
}

// Cancel returns the contract balance to the payer.
func Cancel(payer, contract crypto.Address) types.Instruction {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, tagCancel)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			types.NewAccountMeta(payer, true),
			types.NewAccountMeta(contract, false),
		},
		Data: data,
	}
}

// Payment returns the instructions that create, fund and initialise a contract.
func Payment(from, contract crypto.Address, lamports uint64, terms Terms) []types.Instruction {
	return []types.Instruction{
		system.CreateAccount(from, contract, lamports, StateSize(len(terms.Witnesses)), ProgramID),
		InitializeContract(contract, terms),
	}
}

func decodeTerms(body []byte) (Terms, error) {
	if len(body) < 66 {
		return Terms{}, errMalformedInstruction
	}
	terms := Terms{
		Payer:      crypto.NewAddress(body[0:32]),
		Recipient:  crypto.NewAddress(body[32:64]),
		Cancelable: body[64] == 1,
	}
	rest := body[66:]
	if body[65] == 1 {
		if len(rest) < 40 {
			return Terms{}, errMalformedInstruction
		}
		terms.Time = &TimeCondition{
			Threshold: int64(binary.LittleEndian.Uint64(rest[0:8])),
			Authority: crypto.NewAddress(rest[8:40]),
		}
		rest = rest[40:]
	}
	if len(rest) < 1 {
		return Terms{}, errMalformedInstruction
	}
	n := int(rest[0])
	rest = rest[1:]
	if len(rest) != n*32 {
		return Terms{}, errMalformedInstruction
	}
	for i := 0; i < n; i++ {
		terms.Witnesses = append(terms.Witnesses, crypto.NewAddress(rest[i*32:(i+1)*32]))
	}
	return terms, nil
}

func decodeTag(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errMalformedInstruction
	}
	tag := binary.LittleEndian.Uint32(data)
	if tag > tagCancel {
		return 0, nil, fmt.Errorf("escrow: unknown instruction tag %d", tag)
	}
	return tag, data[4:], nil
}
