package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerpay/core/types"
	"ledgerpay/crypto"
	"ledgerpay/native/token"
)

func testKeys(n int) []crypto.Address {
	keys := make([]crypto.Address, n)
	for i := range keys {
		keys[i] = crypto.Address(crypto.HashData([]byte{byte(i)}))
	}
	return keys
}

func compiled(ix token.Instruction, accounts ...uint8) types.CompiledInstruction {
	return types.CompiledInstruction{ProgramIDIndex: 0, Accounts: accounts, Data: ix.Pack()}
}

func mustParse(t *testing.T, ix types.CompiledInstruction, keys []crypto.Address) map[string]any {
	t.Helper()
	parsed, err := ParseToken(ix, keys)
	require.NoError(t, err)
	return parsed.Info()
}

func TestParseInitializeMint(t *testing.T) {
	keys := testKeys(10)

	info := mustParse(t, compiled(&token.InitializeMint{Amount: 42, Decimals: 2}, 0, 1, 2), keys)
	require.Equal(t, map[string]any{
		"type":     "initializeMint",
		"mint":     keys[0].String(),
		"amount":   uint64(42),
		"decimals": uint8(2),
		"account":  keys[1].String(),
		"owner":    keys[2].String(),
	}, info)

	info = mustParse(t, compiled(&token.InitializeMint{Amount: 42, Decimals: 2}, 0, 1), keys)
	require.Equal(t, map[string]any{
		"type":     "initializeMint",
		"mint":     keys[0].String(),
		"amount":   uint64(42),
		"decimals": uint8(2),
		"account":  keys[1].String(),
	}, info)

	info = mustParse(t, compiled(&token.InitializeMint{Amount: 0, Decimals: 2}, 0, 2), keys)
	require.Equal(t, map[string]any{
		"type":     "initializeMint",
		"mint":     keys[0].String(),
		"amount":   uint64(0),
		"decimals": uint8(2),
		"owner":    keys[2].String(),
	}, info)
}

func TestParseInitializeAccountAndMultisig(t *testing.T) {
	keys := testKeys(10)

	info := mustParse(t, compiled(&token.InitializeAccount{}, 3, 4, 5), keys)
	require.Equal(t, map[string]any{
		"type":    "initializeAccount",
		"account": keys[3].String(),
		"mint":    keys[4].String(),
		"owner":   keys[5].String(),
	}, info)

	info = mustParse(t, compiled(&token.InitializeMultisig{M: 2}, 0, 1, 2, 4), keys)
	require.Equal(t, map[string]any{
		"type":     "initializeMultisig",
		"multisig": keys[0].String(),
		"signers":  []string{keys[1].String(), keys[2].String(), keys[4].String()},
		"m":        uint8(2),
	}, info)
}

func TestParseTransferSingleAndMultisig(t *testing.T) {
	keys := testKeys(10)

	info := mustParse(t, compiled(&token.Transfer{Amount: 42}, 1, 2, 0), keys)
	require.Equal(t, map[string]any{
		"type":        "transfer",
		"source":      keys[1].String(),
		"destination": keys[2].String(),
		"authority":   keys[0].String(),
		"amount":      uint64(42),
	}, info)

	info = mustParse(t, compiled(&token.Transfer{Amount: 42}, 2, 3, 4, 0, 1), keys)
	require.Equal(t, map[string]any{
		"type":              "transfer",
		"source":            keys[2].String(),
		"destination":       keys[3].String(),
		"multisigAuthority": keys[4].String(),
		"signers":           []string{keys[0].String(), keys[1].String()},
		"amount":            uint64(42),
	}, info)
}

type authorityShape struct {
	ix       token.Instruction
	minimum  int
	k        int
	single   string
	multisig string
}

func authorityShapes() []authorityShape {
	return []authorityShape{
		{&token.Transfer{Amount: 1}, 3, 2, "authority", "multisigAuthority"},
		{&token.Approve{Amount: 1}, 3, 2, "owner", "multisigOwner"},
		{&token.Revoke{}, 2, 1, "owner", "multisigOwner"},
		{&token.SetOwner{}, 3, 2, "owner", "multisigOwner"},
		{&token.MintTo{Amount: 1}, 3, 2, "owner", "multisigOwner"},
		{&token.Burn{Amount: 1}, 2, 1, "authority", "multisigAuthority"},
		{&token.CloseAccount{}, 3, 2, "owner", "multisigOwner"},
		{&token.FreezeAccount{}, 3, 2, "freezeAuthority", "multisigFreezeAuthority"},
		{&token.ThawAccount{}, 3, 2, "freezeAuthority", "multisigFreezeAuthority"},
	}
}

func TestAuthorityRule(t *testing.T) {
	keys := testKeys(token.MaxSigners + 4)
	for _, shape := range authorityShapes() {
		for n := shape.minimum; n <= shape.minimum+token.MaxSigners; n++ {
			accounts := make([]uint8, n)
			for i := range accounts {
				accounts[i] = uint8(len(keys) - 1 - i)
			}
			info := mustParse(t, compiled(shape.ix, accounts...), keys)
			authority := keys[accounts[shape.k]].String()
			if n == shape.k+1 {
				require.Equal(t, authority, info[shape.single], "%T n=%d", shape.ix, n)
				require.NotContains(t, info, shape.multisig)
				require.NotContains(t, info, "signers")
				continue
			}
			require.Equal(t, authority, info[shape.multisig], "%T n=%d", shape.ix, n)
			require.NotContains(t, info, shape.single)
			signers := info["signers"].([]string)
			require.Len(t, signers, n-(shape.k+1))
			for i, signer := range signers {
				require.Equal(t, keys[accounts[shape.k+1+i]].String(), signer)
			}
		}
	}
}

func TestKeyMismatch(t *testing.T) {
	keys := testKeys(10)
	for _, shape := range authorityShapes() {
		short := make([]uint8, shape.minimum-1)
		for i := range short {
			short[i] = uint8(i)
		}
		_, err := ParseToken(compiled(shape.ix, short...), keys)
		require.ErrorIs(t, err, ErrKeyMismatch, "%T truncated", shape.ix)

		full := make([]uint8, shape.minimum)
		for i := range full {
			full[i] = uint8(i)
		}
		_, err = ParseToken(compiled(shape.ix, full...), keys[:shape.minimum-1])
		require.ErrorIs(t, err, ErrKeyMismatch, "%T short key table", shape.ix)
	}

	_, err := ParseToken(compiled(&token.InitializeMint{Amount: 1}, 0), keys)
	require.ErrorIs(t, err, ErrKeyMismatch)
	_, err = ParseToken(compiled(&token.InitializeAccount{}, 0, 1), keys)
	require.ErrorIs(t, err, ErrKeyMismatch)
	_, err = ParseToken(compiled(&token.InitializeMultisig{M: 1}, 0), keys)
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestIndexOutOfRangeAndNotParsable(t *testing.T) {
	keys := testKeys(4)

	parsed, err := ParseToken(compiled(&token.Transfer{Amount: 1}, 0, 1, 9), keys)
	require.Nil(t, parsed)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = ParseToken(types.CompiledInstruction{Accounts: []uint8{0, 1, 2}, Data: []byte{200}}, keys)
	require.ErrorIs(t, err, ErrNotParsable)

	_, err = ParseToken(types.CompiledInstruction{Accounts: []uint8{0, 1, 2}, Data: []byte{token.TagTransfer, 1}}, keys)
	require.ErrorIs(t, err, ErrNotParsable)

	var parseErr *ParseInstructionError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, ProgramToken, parseErr.Program)
}

func TestParseTokenIsPure(t *testing.T) {
	keys := testKeys(6)
	ix := compiled(&token.MintTo{Amount: 7}, 5, 4, 3, 2)
	keysBefore := append([]crypto.Address(nil), keys...)
	accountsBefore := append([]uint8(nil), ix.Accounts...)

	first, err := ParseToken(ix, keys)
	require.NoError(t, err)
	second, err := ParseToken(ix, keys)
	require.NoError(t, err)

	require.Equal(t, first.Info(), second.Info())
	require.Equal(t, keysBefore, keys)
	require.Equal(t, accountsBefore, ix.Accounts)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b))
	require.Contains(t, string(a), `"type":"mintTo"`)
}

func TestRecordsReportDistinctTypes(t *testing.T) {
	records := []Record{
		InitializeMintRecord{}, InitializeAccountRecord{}, InitializeMultisigRecord{},
		TransferRecord{}, ApproveRecord{}, RevokeRecord{}, SetOwnerRecord{},
		MintToRecord{}, BurnRecord{}, CloseAccountRecord{},
		FreezeAccountRecord{}, ThawAccountRecord{},
	}
	seen := map[string]struct{}{}
	for _, r := range records {
		require.Equal(t, r.Type(), r.Info()["type"])
		_, dup := seen[r.Type()]
		require.False(t, dup, r.Type())
		seen[r.Type()] = struct{}{}
	}
}
