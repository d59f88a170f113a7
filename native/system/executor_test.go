package system

import (
	"testing"

	"ledgerpay/core/types"
	"ledgerpay/crypto"

	"github.com/stretchr/testify/require"
)

type memState struct {
	accounts  map[crypto.Address]*types.Account
	blockhash crypto.Hash
	fee       uint64
}

func newMemState() *memState {
	return &memState{
		accounts:  map[crypto.Address]*types.Account{},
		blockhash: crypto.HashData([]byte("slot-1")),
		fee:       5000,
	}
}

func (s *memState) GetAccount(addr crypto.Address) *types.Account {
	return s.accounts[addr].Clone()
}

func (s *memState) PutAccount(addr crypto.Address, acct *types.Account) {
	s.accounts[addr] = acct.Clone()
}

func (s *memState) RecentBlockhash() (crypto.Hash, uint64) { return s.blockhash, s.fee }

func (s *memState) RentExemptMinimum(size int) uint64 { return uint64(size+128) * 10 }

// signed marks every account in the instruction as having signed.
func signed(ix types.Instruction) types.Instruction {
	for i := range ix.Accounts {
		ix.Accounts[i].IsSigner = true
	}
	return ix
}

func TestNonceStateCodec(t *testing.T) {
	state := NonceState{
		Status:               NonceInitialized,
		Authority:            crypto.Address{1, 2, 3},
		Blockhash:            crypto.HashData([]byte("x")),
		LamportsPerSignature: 42,
	}
	encoded := state.Encode()
	require.Len(t, encoded, NonceStateSize)
	decoded, err := DecodeNonceState(encoded)
	require.NoError(t, err)
	require.Equal(t, state, decoded)

	_, err = DecodeNonceState(encoded[:10])
	require.ErrorIs(t, err, ErrNonceDataSize)

	encoded[4] = 9
	_, err = DecodeNonceState(encoded)
	require.Error(t, err)
}

func TestTransferMovesLamports(t *testing.T) {
	state := newMemState()
	from, to := crypto.Address{1}, crypto.Address{2}
	state.accounts[from] = &types.Account{Lamports: 100, Owner: ProgramID}

	require.NoError(t, Execute(state, Transfer(from, to, 40)))
	require.EqualValues(t, 60, state.accounts[from].Lamports)
	require.EqualValues(t, 40, state.accounts[to].Lamports)

	err := Execute(state, Transfer(from, to, 61))
	require.ErrorIs(t, err, ErrInsufficientLamports)

	unsigned := Transfer(from, to, 1)
	unsigned.Accounts[0].IsSigner = false
	require.ErrorIs(t, Execute(state, unsigned), ErrMissingSignature)
}

func TestNonceLifecycle(t *testing.T) {
	state := newMemState()
	payer, nonce, authority := crypto.Address{1}, crypto.Address{2}, crypto.Address{3}
	state.accounts[payer] = &types.Account{Lamports: 10_000, Owner: ProgramID}

	ixs := CreateNonceAccount(payer, nonce, authority, 1500)
	require.NoError(t, Execute(state, ixs[0]))
	err := Execute(state, ixs[1])
	require.ErrorIs(t, err, ErrRentExemption)

	state.accounts[nonce].Lamports = 2080
	require.NoError(t, Execute(state, ixs[1]))
	stored, err := DecodeNonceState(state.accounts[nonce].Data)
	require.NoError(t, err)
	require.Equal(t, authority, stored.Authority)
	require.Equal(t, state.blockhash, stored.Blockhash)

	advance := AdvanceNonceAccount(nonce, authority)
	require.ErrorIs(t, Execute(state, advance), ErrNonceBlockhashNotExpired)

	state.blockhash = crypto.HashData([]byte("slot-2"))
	stranger := AdvanceNonceAccount(nonce, crypto.Address{9})
	require.ErrorIs(t, Execute(state, stranger), ErrNonceAuthority)

	require.NoError(t, Execute(state, advance))
	stored, err = DecodeNonceState(state.accounts[nonce].Data)
	require.NoError(t, err)
	require.Equal(t, state.blockhash, stored.Blockhash)

	newAuthority := crypto.Address{4}
	require.NoError(t, Execute(state, AuthorizeNonceAccount(nonce, authority, newAuthority)))
	withdraw := WithdrawNonceAccount(nonce, newAuthority, payer, 2080)
	require.NoError(t, Execute(state, withdraw))
	require.Zero(t, state.accounts[nonce].Lamports)
	require.Empty(t, state.accounts[nonce].Data)
}

func TestCreateAccountRejectsExisting(t *testing.T) {
	state := newMemState()
	payer, target := crypto.Address{1}, crypto.Address{2}
	state.accounts[payer] = &types.Account{Lamports: 100, Owner: ProgramID}
	state.accounts[target] = &types.Account{Lamports: 1, Owner: ProgramID}

	err := Execute(state, signed(CreateAccount(payer, target, 10, 0, ProgramID)))
	require.ErrorIs(t, err, ErrAccountInUse)
}

func TestIsAdvanceNonce(t *testing.T) {
	payer, nonce := crypto.Address{1}, crypto.Address{2}
	msg, err := types.NewMessage([]types.Instruction{
		AdvanceNonceAccount(nonce, payer),
		Transfer(payer, crypto.Address{3}, 1),
	}, &payer)
	require.NoError(t, err)

	got, ok := IsAdvanceNonce(msg, msg.Instructions[0])
	require.True(t, ok)
	require.Equal(t, nonce, got)
	_, ok = IsAdvanceNonce(msg, msg.Instructions[1])
	require.False(t, ok)
}
