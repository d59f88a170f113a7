package types

import "ledgerpay/crypto"

// Account is the ledger-side view of an address: its balance, the program that
// owns it and the raw data that program stores there.
type Account struct {
	Lamports   uint64         `json:"lamports"`
	Owner      crypto.Address `json:"owner"`
	Data       []byte         `json:"data"`
	Executable bool           `json:"executable"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Data = append([]byte(nil), a.Data...)
	return &clone
}
