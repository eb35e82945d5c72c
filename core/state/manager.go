package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"p2plend/core/types"
	"p2plend/crypto"
	"p2plend/native/lending"
	"p2plend/storage"
)

// Manager persists ledger state in a key-value store. Keys are keccak256
// hashes of prefixed logical keys; records are RLP encoded. Lending accounts
// are additionally tracked in an index list so the explore path can enumerate
// them without a range scan.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix        = []byte("account:")
	lendingAccountPrefix = []byte("lending/account:")
	lendingIndexKey      = ethcrypto.Keccak256([]byte("lending/account-list"))
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func lendingAccountKey(addr []byte) []byte {
	buf := make([]byte, len(lendingAccountPrefix)+len(addr))
	copy(buf, lendingAccountPrefix)
	copy(buf[len(lendingAccountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// storedAccount is the RLP representation of a native wallet account.
type storedAccount struct {
	Nonce   uint64
	Balance *uint256.Int
}

// storedLoan flattens the optional loan fields into value/flag pairs since RLP
// has no native encoding for signed integers or nil-able scalars. Timestamps
// are non-negative by construction, so the unsigned conversion is lossless.
type storedLoan struct {
	Borrower     []byte
	Lender       []byte
	Amount       uint64
	MortgageCID  string
	DueDate      uint64
	Status       uint8
	RequestDate  uint64
	FundDate     uint64
	HasFundDate  bool
	RepayDate    uint64
	HasRepayDate bool
	Interest     uint64
	HasInterest  bool
}

type storedUserAccount struct {
	Owner       []byte
	Address     []byte
	Bump        uint8
	AccountType uint8
	Loans       []storedLoan
}

// GetAccount loads the native account stored under the provided wallet
// address. Unknown wallets resolve to a fresh zero-balance account.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr.Bytes()))
	if errors.Is(err, storage.ErrKeyNotFound) {
		account := &types.Account{}
		account.EnsureDefaults()
		return account, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		account.Balance = stored.Balance.ToBig()
	}
	return account, nil
}

// PutAccount persists the provided native account under the wallet address.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	account.EnsureDefaults()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	balance, overflow := uint256.FromBig(account.Balance)
	if overflow {
		return fmt.Errorf("state: balance overflow")
	}
	raw, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: balance})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr.Bytes()), raw)
}

// UserAccountGet loads the lending record stored at the derived account
// address, returning nil when absent.
func (m *Manager) UserAccountGet(addr crypto.Address) (*lending.UserAccount, error) {
	raw, err := m.db.Get(lendingAccountKey(addr.Bytes()))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedUserAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode user account: %w", err)
	}
	return userAccountFromStored(&stored)
}

// UserAccountPut persists a lending record and registers its address in the
// account index on first write.
func (m *Manager) UserAccountPut(account *lending.UserAccount) error {
	if account == nil {
		return fmt.Errorf("state: nil user account")
	}
	stored, err := userAccountToStored(account)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	key := lendingAccountKey(account.Address.Bytes())
	known, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if err := m.db.Put(key, raw); err != nil {
		return err
	}
	if !known {
		return m.indexAdd(account.Address.Bytes())
	}
	return nil
}

// UserAccountList enumerates every lending record via the account index. The
// result reflects a consistent snapshot of the queried state; order follows
// insertion order of first writes.
func (m *Manager) UserAccountList() ([]*lending.UserAccount, error) {
	index, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	accounts := make([]*lending.UserAccount, 0, len(index))
	for _, addr := range index {
		account, err := m.UserAccountGet(crypto.NewAddress(crypto.LendPrefix, addr))
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("state: indexed account missing: %x", addr)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (m *Manager) loadIndex() ([][]byte, error) {
	raw, err := m.db.Get(lendingIndexKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	var index [][]byte
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode account index: %w", err)
	}
	return index, nil
}

func (m *Manager) indexAdd(addr []byte) error {
	index, err := m.loadIndex()
	if err != nil {
		return err
	}
	index = append(index, append([]byte(nil), addr...))
	raw, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return m.db.Put(lendingIndexKey, raw)
}

func addressBytes(addr crypto.Address) []byte {
	b := addr.Bytes()
	if len(b) != crypto.AddressLength {
		return make([]byte, crypto.AddressLength)
	}
	return append([]byte(nil), b...)
}

func userAccountToStored(account *lending.UserAccount) (*storedUserAccount, error) {
	stored := &storedUserAccount{
		Owner:       addressBytes(account.Owner),
		Address:     addressBytes(account.Address),
		Bump:        account.Bump,
		AccountType: uint8(account.AccountType),
		Loans:       make([]storedLoan, 0, len(account.Loans)),
	}
	for i := range account.Loans {
		loan := &account.Loans[i]
		if loan.DueDate < 0 || loan.RequestDate < 0 {
			return nil, fmt.Errorf("state: negative loan timestamp")
		}
		sl := storedLoan{
			Borrower:    addressBytes(loan.Borrower),
			Lender:      addressBytes(loan.Lender),
			Amount:      loan.Amount,
			MortgageCID: loan.MortgageCID,
			DueDate:     uint64(loan.DueDate),
			Status:      uint8(loan.Status),
			RequestDate: uint64(loan.RequestDate),
		}
		if loan.FundDate != nil {
			sl.FundDate = uint64(*loan.FundDate)
			sl.HasFundDate = true
		}
		if loan.RepayDate != nil {
			sl.RepayDate = uint64(*loan.RepayDate)
			sl.HasRepayDate = true
		}
		if loan.InterestAccrued != nil {
			sl.Interest = *loan.InterestAccrued
			sl.HasInterest = true
		}
		stored.Loans = append(stored.Loans, sl)
	}
	return stored, nil
}

func userAccountFromStored(stored *storedUserAccount) (*lending.UserAccount, error) {
	if len(stored.Owner) != crypto.AddressLength || len(stored.Address) != crypto.AddressLength {
		return nil, fmt.Errorf("state: malformed user account record")
	}
	account := &lending.UserAccount{
		Owner:       crypto.NewAddress(crypto.LendPrefix, stored.Owner),
		Address:     crypto.NewAddress(crypto.LendPrefix, stored.Address),
		Bump:        stored.Bump,
		AccountType: lending.AccountType(stored.AccountType),
	}
	if !account.AccountType.Valid() {
		return nil, fmt.Errorf("state: invalid account type: %d", stored.AccountType)
	}
	for _, sl := range stored.Loans {
		if len(sl.Borrower) != crypto.AddressLength || len(sl.Lender) != crypto.AddressLength {
			return nil, fmt.Errorf("state: malformed loan record")
		}
		status := lending.LoanStatus(sl.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("state: invalid loan status: %d", sl.Status)
		}
		loan := lending.Loan{
			Borrower:    crypto.NewAddress(crypto.LendPrefix, sl.Borrower),
			Lender:      crypto.NewAddress(crypto.LendPrefix, sl.Lender),
			Amount:      sl.Amount,
			MortgageCID: sl.MortgageCID,
			DueDate:     int64(sl.DueDate),
			Status:      status,
			RequestDate: int64(sl.RequestDate),
		}
		if sl.HasFundDate {
			v := int64(sl.FundDate)
			loan.FundDate = &v
		}
		if sl.HasRepayDate {
			v := int64(sl.RepayDate)
			loan.RepayDate = &v
		}
		if sl.HasInterest {
			v := sl.Interest
			loan.InterestAccrued = &v
		}
		account.Loans = append(account.Loans, loan)
	}
	return account, nil
}
