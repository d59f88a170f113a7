package token

import (
	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

func newInstruction(ix Instruction, accounts []types.AccountMeta) types.Instruction {
	return types.Instruction{ProgramID: ProgramID, Accounts: accounts, Data: ix.Pack()}
}

// withAuthority appends the authority meta. With co-signers the authority is a
// multisig account that does not sign itself.
func withAuthority(accounts []types.AccountMeta, authority crypto.Address, signers []crypto.Address) []types.AccountMeta {
	accounts = append(accounts, types.NewReadonlyAccountMeta(authority, len(signers) == 0))
	for _, s := range signers {
		accounts = append(accounts, types.NewReadonlyAccountMeta(s, true))
	}
	return accounts
}

// NewInitializeMint builds an InitializeMint instruction. With a non-zero
// amount account receives the initial supply and owner is optional; with a
// zero amount owner is required and account is ignored.
func NewInitializeMint(mint crypto.Address, account, owner *crypto.Address, amount uint64, decimals uint8) types.Instruction {
	accounts := []types.AccountMeta{types.NewAccountMeta(mint, false)}
	if amount != 0 && account != nil {
		accounts = append(accounts, types.NewAccountMeta(*account, false))
	}
	if owner != nil {
		accounts = append(accounts, types.NewReadonlyAccountMeta(*owner, false))
	}
	return newInstruction(&InitializeMint{Amount: amount, Decimals: decimals}, accounts)
}

func NewInitializeAccount(account, mint, owner crypto.Address) types.Instruction {
	return newInstruction(&InitializeAccount{}, []types.AccountMeta{
		types.NewAccountMeta(account, false),
		types.NewReadonlyAccountMeta(mint, false),
		types.NewReadonlyAccountMeta(owner, false),
	})
}

func NewInitializeMultisig(multisig crypto.Address, signers []crypto.Address, m uint8) types.Instruction {
	accounts := []types.AccountMeta{types.NewAccountMeta(multisig, false)}
	for _, s := range signers {
		accounts = append(accounts, types.NewReadonlyAccountMeta(s, false))
	}
	return newInstruction(&InitializeMultisig{M: m}, accounts)
}

func NewTransfer(source, destination, authority crypto.Address, signers []crypto.Address, amount uint64) types.Instruction {
	return newInstruction(&Transfer{Amount: amount}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(source, false),
		types.NewAccountMeta(destination, false),
	}, authority, signers))
}

func NewApprove(source, delegate, owner crypto.Address, signers []crypto.Address, amount uint64) types.Instruction {
	return newInstruction(&Approve{Amount: amount}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(source, false),
		types.NewReadonlyAccountMeta(delegate, false),
	}, owner, signers))
}

func NewRevoke(source, owner crypto.Address, signers []crypto.Address) types.Instruction {
	return newInstruction(&Revoke{}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(source, false),
	}, owner, signers))
}

func NewSetOwner(owned, newOwner, owner crypto.Address, signers []crypto.Address) types.Instruction {
	return newInstruction(&SetOwner{}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(owned, false),
		types.NewReadonlyAccountMeta(newOwner, false),
	}, owner, signers))
}

func NewMintTo(mint, account, owner crypto.Address, signers []crypto.Address, amount uint64) types.Instruction {
	return newInstruction(&MintTo{Amount: amount}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(mint, false),
		types.NewAccountMeta(account, false),
	}, owner, signers))
}

func NewBurn(account, authority crypto.Address, signers []crypto.Address, amount uint64) types.Instruction {
	return newInstruction(&Burn{Amount: amount}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(account, false),
	}, authority, signers))
}

func NewCloseAccount(account, destination, owner crypto.Address, signers []crypto.Address) types.Instruction {
	return newInstruction(&CloseAccount{}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(account, false),
		types.NewAccountMeta(destination, false),
	}, owner, signers))
}

func NewFreezeAccount(account, mint, freezeAuthority crypto.Address, signers []crypto.Address) types.Instruction {
	return newInstruction(&FreezeAccount{}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(account, false),
		types.NewReadonlyAccountMeta(mint, false),
	}, freezeAuthority, signers))
}

func NewThawAccount(account, mint, freezeAuthority crypto.Address, signers []crypto.Address) types.Instruction {
	return newInstruction(&ThawAccount{}, withAuthority([]types.AccountMeta{
		types.NewAccountMeta(account, false),
		types.NewReadonlyAccountMeta(mint, false),
	}, freezeAuthority, signers))
}
