package types

import "ledgerpay/crypto"

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	Address    crypto.Address
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta returns a writable account reference.
func NewAccountMeta(addr crypto.Address, isSigner bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta returns a read-only account reference.
func NewReadonlyAccountMeta(addr crypto.Address, isSigner bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: isSigner}
}

// Instruction is a single program invocation before it is compiled into a
// message. Accounts are positional; programs address them by index.
type Instruction struct {
	ProgramID crypto.Address
	Accounts  []AccountMeta
	Data      []byte
}

// CompiledInstruction references the program and accounts through indexes into
// the message account key table.
type CompiledInstruction struct {
	ProgramIDIndex uint8   `json:"programIdIndex"`
	Accounts       []uint8 `json:"accounts"`
	Data           []byte  `json:"data"`
}
