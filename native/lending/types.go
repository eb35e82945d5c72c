package lending

import (
	"p2plend/crypto"
)

// AccountType classifies a wallet's role on the lending ledger. The role is
// set by the wallet's first loan action and never changes afterwards: a
// borrower can never lend and a lender can never borrow.
type AccountType uint8

const (
	AccountNone AccountType = iota
	AccountLender
	AccountBorrower
)

// Valid reports whether the account type is within the supported range.
func (t AccountType) Valid() bool {
	switch t {
	case AccountNone, AccountLender, AccountBorrower:
		return true
	default:
		return false
	}
}

func (t AccountType) String() string {
	switch t {
	case AccountLender:
		return "lender"
	case AccountBorrower:
		return "borrower"
	default:
		return "none"
	}
}

// LoanStatus represents the lifecycle states of a loan. Transitions are
// forward-only: Requested -> Funded -> {Closed, Defaulted}.
type LoanStatus uint8

const (
	LoanRequested LoanStatus = iota
	LoanFunded
	LoanClosed
	LoanDefaulted
)

// Valid reports whether the status value is within the supported range.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanRequested, LoanFunded, LoanClosed, LoanDefaulted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s LoanStatus) Terminal() bool {
	return s == LoanClosed || s == LoanDefaulted
}

func (s LoanStatus) String() string {
	switch s {
	case LoanRequested:
		return "requested"
	case LoanFunded:
		return "funded"
	case LoanClosed:
		return "closed"
	case LoanDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Loan is a single lending agreement embedded in the borrower's user account.
// Its position in the account's loan list is the handle lenders use to fund
// and repay against, so entries are never removed; terminal loans are retained
// for audit.
type Loan struct {
	// Borrower is the wallet that requested the loan.
	Borrower crypto.Address
	// Lender is the funding wallet. It stays the zero sentinel until the loan
	// is funded and is only meaningful once Status != LoanRequested.
	Lender crypto.Address
	// Amount is the principal in lamports. Always positive.
	Amount uint64
	// MortgageCID points to the off-chain collateral document. Opaque and
	// untrusted by the ledger.
	MortgageCID string
	// DueDate is the unix timestamp the borrower committed to repay by.
	DueDate int64
	// Status is the current lifecycle state.
	Status LoanStatus
	// RequestDate is set at creation and immutable.
	RequestDate int64
	// FundDate is set exactly once when the loan becomes funded.
	FundDate *int64
	// RepayDate is set exactly once when the loan is closed.
	RepayDate *int64
	// InterestAccrued is computed and fixed at repayment time, in lamports.
	InterestAccrued *uint64
}

// Clone returns a deep copy of the loan so callers can mutate the copy without
// affecting the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.FundDate != nil {
		v := *l.FundDate
		clone.FundDate = &v
	}
	if l.RepayDate != nil {
		v := *l.RepayDate
		clone.RepayDate = &v
	}
	if l.InterestAccrued != nil {
		v := *l.InterestAccrued
		clone.InterestAccrued = &v
	}
	return &clone
}

// UserAccount is the per-wallet lending record persisted at the wallet's
// derived account address. Loans only accumulate on borrower accounts; lender
// accounts carry the role tag so cross-role checks stay cheap.
type UserAccount struct {
	// Owner is the wallet the account belongs to.
	Owner crypto.Address
	// Address is the program-derived account address.
	Address crypto.Address
	// Bump is the canonical derivation proof for Address.
	Bump uint8
	// AccountType is the wallet's role classification.
	AccountType AccountType
	// Loans is the bounded, index-addressed loan list.
	Loans []Loan
}

// Clone returns a deep copy of the user account.
func (a *UserAccount) Clone() *UserAccount {
	if a == nil {
		return nil
	}
	clone := &UserAccount{
		Owner:       a.Owner,
		Address:     a.Address,
		Bump:        a.Bump,
		AccountType: a.AccountType,
	}
	if len(a.Loans) > 0 {
		clone.Loans = make([]Loan, len(a.Loans))
		for i := range a.Loans {
			clone.Loans[i] = *a.Loans[i].Clone()
		}
	}
	return clone
}

// LoanSummary pairs a loan with its owning borrower and index so the global
// scan path can hand out actionable handles.
type LoanSummary struct {
	Borrower crypto.Address
	Index    uint8
	Loan     Loan
}
