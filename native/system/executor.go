package system

import (
	"errors"
	"fmt"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
)

var (
	ErrMissingSignature         = errors.New("system: missing required signature")
	ErrAccountInUse             = errors.New("system: account already in use")
	ErrInsufficientLamports     = errors.New("system: insufficient lamports")
	ErrInvalidAccountOwner      = errors.New("system: account not owned by system program")
	ErrNonceNotInitialized      = errors.New("system: nonce account not initialized")
	ErrNonceAlreadyInitialized  = errors.New("system: nonce account already initialized")
	ErrNonceBlockhashNotExpired = errors.New("system: nonce can only advance once per blockhash")
	ErrNonceAuthority           = errors.New("system: nonce authority did not sign")
	ErrRentExemption            = errors.New("system: account would fall below rent exemption")
)

// State is the account store the executor mutates. GetAccount returns nil for
// unknown addresses and a private copy otherwise.
type State interface {
	GetAccount(addr crypto.Address) *types.Account
	PutAccount(addr crypto.Address, acct *types.Account)
	RecentBlockhash() (crypto.Hash, uint64)
	RentExemptMinimum(size int) uint64
}

// Execute applies a single system instruction to state.
func Execute(state State, ix types.Instruction) error {
	tag, args, err := decode(ix.Data)
	if err != nil {
		return err
	}
	switch tag {
	case tagCreateAccount:
		return createAccount(state, ix.Accounts, args.(createAccountArgs))
	case tagTransfer:
		return transfer(state, ix.Accounts, args.(transferArgs).Lamports)
	case tagAdvanceNonceAccount:
		return advanceNonce(state, ix.Accounts)
	case tagWithdrawNonceAccount:
		return withdrawNonce(state, ix.Accounts, args.(withdrawArgs).Lamports)
	case tagInitializeNonceAccount:
		return initializeNonce(state, ix.Accounts, args.(authorityArgs).Authority)
	case tagAuthorizeNonceAccount:
		return authorizeNonce(state, ix.Accounts, args.(authorityArgs).Authority)
	}
	return fmt.Errorf("system: unhandled instruction tag %d", tag)
}

func requireAccounts(metas []types.AccountMeta, n int) error {
	if len(metas) < n {
		return fmt.Errorf("system: expected %d accounts, got %d", n, len(metas))
	}
	return nil
}

func loadOrEmpty(state State, addr crypto.Address) *types.Account {
	if acct := state.GetAccount(addr); acct != nil {
		return acct
	}
	return &types.Account{Owner: ProgramID}
}

func debit(state State, meta types.AccountMeta, lamports uint64) (*types.Account, error) {
	if !meta.IsSigner {
		return nil, fmt.Errorf("%w: %s", ErrMissingSignature, meta.Address)
	}
	from := loadOrEmpty(state, meta.Address)
	if from.Owner != ProgramID || len(from.Data) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccountOwner, meta.Address)
	}
	if from.Lamports < lamports {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientLamports, meta.Address, from.Lamports, lamports)
	}
	from.Lamports -= lamports
	return from, nil
}

func createAccount(state State, metas []types.AccountMeta, args createAccountArgs) error {
	if err := requireAccounts(metas, 2); err != nil {
		return err
	}
	if !metas[1].IsSigner {
		return fmt.Errorf("%w: %s", ErrMissingSignature, metas[1].Address)
	}
	if existing := state.GetAccount(metas[1].Address); existing != nil && (existing.Lamports > 0 || len(existing.Data) > 0) {
		return fmt.Errorf("%w: %s", ErrAccountInUse, metas[1].Address)
	}
	from, err := debit(state, metas[0], args.Lamports)
	if err != nil {
		return err
	}
	state.PutAccount(metas[0].Address, from)
	state.PutAccount(metas[1].Address, &types.Account{
		Lamports: args.Lamports,
		Owner:    args.Owner,
		Data:     make([]byte, args.Space),
	})
	return nil
}

func transfer(state State, metas []types.AccountMeta, lamports uint64) error {
	if err := requireAccounts(metas, 2); err != nil {
		return err
	}
	from, err := debit(state, metas[0], lamports)
	if err != nil {
		return err
	}
	state.PutAccount(metas[0].Address, from)
	to := loadOrEmpty(state, metas[1].Address)
	to.Lamports += lamports
	state.PutAccount(metas[1].Address, to)
	return nil
}

func loadNonce(state State, addr crypto.Address) (*types.Account, NonceState, error) {
	acct := state.GetAccount(addr)
	if acct == nil || acct.Owner != ProgramID {
		return nil, NonceState{}, fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	nonce, err := DecodeNonceState(acct.Data)
	if err != nil {
		return nil, NonceState{}, err
	}
	return acct, nonce, nil
}

func checkAuthority(metas []types.AccountMeta, authority crypto.Address) error {
	for _, meta := range metas {
		if meta.Address == authority && meta.IsSigner {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNonceAuthority, authority)
}

func advanceNonce(state State, metas []types.AccountMeta) error {
	if err := requireAccounts(metas, 3); err != nil {
		return err
	}
	acct, nonce, err := loadNonce(state, metas[0].Address)
	if err != nil {
		return err
	}
	if nonce.Status != NonceInitialized {
		return ErrNonceNotInitialized
	}
	if err := checkAuthority(metas[2:], nonce.Authority); err != nil {
		return err
	}
	current, fee := state.RecentBlockhash()
	if nonce.Blockhash == current {
		return ErrNonceBlockhashNotExpired
	}
	nonce.Blockhash = current
	nonce.LamportsPerSignature = fee
	acct.Data = nonce.Encode()
	state.PutAccount(metas[0].Address, acct)
	return nil
}

func initializeNonce(state State, metas []types.AccountMeta, authority crypto.Address) error {
	if err := requireAccounts(metas, 3); err != nil {
		return err
	}
	acct, nonce, err := loadNonce(state, metas[0].Address)
	if err != nil {
		return err
	}
	if nonce.Status != NonceUninitialized {
		return ErrNonceAlreadyInitialized
	}
	if minimum := state.RentExemptMinimum(NonceStateSize); acct.Lamports < minimum {
		return fmt.Errorf("%w: %d < %d", ErrRentExemption, acct.Lamports, minimum)
	}
	current, fee := state.RecentBlockhash()
	acct.Data = NonceState{
		Status:               NonceInitialized,
		Authority:            authority,
		Blockhash:            current,
		LamportsPerSignature: fee,
	}.Encode()
	state.PutAccount(metas[0].Address, acct)
	return nil
}

func withdrawNonce(state State, metas []types.AccountMeta, lamports uint64) error {
	if err := requireAccounts(metas, 5); err != nil {
		return err
	}
	acct, nonce, err := loadNonce(state, metas[0].Address)
	if err != nil {
		return err
	}
	authority := nonce.Authority
	if nonce.Status == NonceUninitialized {
		authority = metas[0].Address
	}
	if err := checkAuthority(metas[4:], authority); err != nil {
		return err
	}
	if acct.Lamports < lamports {
		return fmt.Errorf("%w: nonce has %d, needs %d", ErrInsufficientLamports, acct.Lamports, lamports)
	}
	acct.Lamports -= lamports
	switch {
	case acct.Lamports == 0:
		acct.Data = nil
	case acct.Lamports < state.RentExemptMinimum(NonceStateSize):
		return fmt.Errorf("%w: %d left", ErrRentExemption, acct.Lamports)
	}
	state.PutAccount(metas[0].Address, acct)
	to := loadOrEmpty(state, metas[1].Address)
	to.Lamports += lamports
	state.PutAccount(metas[1].Address, to)
	return nil
}

func authorizeNonce(state State, metas []types.AccountMeta, newAuthority crypto.Address) error {
	if err := requireAccounts(metas, 2); err != nil {
		return err
	}
	acct, nonce, err := loadNonce(state, metas[0].Address)
	if err != nil {
		return err
	}
	if nonce.Status != NonceInitialized {
		return ErrNonceNotInitialized
	}
	if err := checkAuthority(metas[1:], nonce.Authority); err != nil {
		return err
	}
	nonce.Authority = newAuthority
	acct.Data = nonce.Encode()
	state.PutAccount(metas[0].Address, acct)
	return nil
}
