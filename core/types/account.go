package types

import "math/big"

// Account holds the native ledger state for a wallet: its transaction nonce and
// its lamport balance. Lending positions live in the lending module's own
// user-account records, not here.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureDefaults populates nil fields so callers can mutate the account
// without nil checks.
func (a *Account) EnsureDefaults() {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
}
