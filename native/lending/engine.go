package lending

import (
	"bytes"
	"errors"
	"math/big"
	"sort"
	"strings"
	"time"

	"p2plend/core/events"
	"p2plend/core/types"
	"p2plend/crypto"
)

var errNilState = errors.New("lending engine: state not configured")

// engineState is the narrow persistence surface the engine needs. The ledger
// runtime guarantees each instruction runs serialized against any other
// instruction touching the same accounts, so the engine never locks.
type engineState interface {
	// UserAccountGet loads the lending record stored at the derived account
	// address, returning nil when the account has never been initialised.
	UserAccountGet(addr crypto.Address) (*UserAccount, error)
	UserAccountPut(account *UserAccount) error
	// UserAccountList enumerates every lending record in the program's
	// storage. It backs the explore path and has no pagination contract.
	UserAccountList() ([]*UserAccount, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine orchestrates the loan lifecycle state transitions. Every operation
// validates all preconditions against cloned records before the first write,
// so a failed instruction leaves storage untouched.
type Engine struct {
	state   engineState
	cfg     Config
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs a lending engine with the supplied module configuration.
func NewEngine(cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Config returns the engine's effective module configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) now() int64 {
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	return acc
}

// loadUserAccount resolves the derived address for a wallet and loads its
// record, returning a mutable clone.
func (e *Engine) loadUserAccount(owner crypto.Address) (*UserAccount, error) {
	addr, _, err := DeriveUserAccount(owner)
	if err != nil {
		return nil, err
	}
	account, err := e.state.UserAccountGet(addr)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// ensureUserAccount loads the wallet's record, allocating a fresh one at the
// derived address when absent. Allocation is not persisted; the caller commits
// it together with the rest of the instruction's effects.
func (e *Engine) ensureUserAccount(owner crypto.Address) (*UserAccount, error) {
	addr, bump, err := DeriveUserAccount(owner)
	if err != nil {
		return nil, err
	}
	account, err := e.state.UserAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account.Clone(), nil
	}
	return &UserAccount{
		Owner:       owner,
		Address:     addr,
		Bump:        bump,
		AccountType: AccountNone,
	}, nil
}

// CreateUserAccount explicitly allocates the wallet's lending record. A second
// creation attempt for the same wallet fails with ErrAccountExists rather than
// silently succeeding.
func (e *Engine) CreateUserAccount(owner crypto.Address) (*UserAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addr, bump, err := DeriveUserAccount(owner)
	if err != nil {
		return nil, err
	}
	existing, err := e.state.UserAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAccountExists
	}
	account := &UserAccount{
		Owner:       owner,
		Address:     addr,
		Bump:        bump,
		AccountType: AccountNone,
	}
	if err := e.state.UserAccountPut(account); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// RequestLoan appends a new requested loan to the borrower's account, creating
// the account on first use. The returned index is the loan's permanent handle.
func (e *Engine) RequestLoan(borrower crypto.Address, amount uint64, mortgageCID string, dueDate int64) (uint8, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	now := e.now()

	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if strings.TrimSpace(mortgageCID) == "" {
		return 0, ErrInvalidMortgageCID
	}
	if dueDate <= now {
		return 0, ErrInvalidDueDate
	}

	account, err := e.ensureUserAccount(borrower)
	if err != nil {
		return 0, err
	}
	if account.AccountType == AccountLender {
		return 0, ErrLenderCannotBorrow
	}
	if len(account.Loans) >= int(e.cfg.MaxLoansPerAccount) {
		return 0, ErrMaxLoansReached
	}

	loan := Loan{
		Borrower:    borrower,
		Lender:      crypto.Address{},
		Amount:      amount,
		MortgageCID: mortgageCID,
		DueDate:     dueDate,
		Status:      LoanRequested,
		RequestDate: now,
	}
	account.Loans = append(account.Loans, loan)
	account.AccountType = AccountBorrower
	index := uint8(len(account.Loans) - 1)

	if err := e.state.UserAccountPut(account); err != nil {
		return 0, err
	}

	e.emit(events.LoanRequested{
		Borrower:    borrower,
		Index:       index,
		Amount:      amount,
		MortgageCID: mortgageCID,
		DueDate:     dueDate,
		RequestedAt: now,
	})
	return index, nil
}

// FundLoan moves a requested loan to the funded state, records the lender and
// transfers the principal from the lender's wallet to the borrower's. Funding
// is single-shot: exactly one lender funds the full amount.
func (e *Engine) FundLoan(lender, borrower crypto.Address, index uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	now := e.now()

	if lender.Equal(borrower) {
		return ErrBorrowerCannotLend
	}

	borrowerAccount, err := e.loadUserAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAccount == nil {
		return ErrAccountNotFound
	}
	if int(index) >= len(borrowerAccount.Loans) {
		return ErrInvalidLoanIndex
	}
	loan := &borrowerAccount.Loans[index]
	if loan.Status != LoanRequested {
		return ErrLoanNotFundable
	}

	lenderAccount, err := e.ensureUserAccount(lender)
	if err != nil {
		return err
	}
	if lenderAccount.AccountType == AccountBorrower {
		return ErrBorrowerCannotLend
	}

	amount := new(big.Int).SetUint64(loan.Amount)
	lenderWallet, err := e.state.GetAccount(lender)
	if err != nil {
		return err
	}
	lenderWallet = ensureAccount(lenderWallet)
	if lenderWallet.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	borrowerWallet, err := e.state.GetAccount(borrower)
	if err != nil {
		return err
	}
	borrowerWallet = ensureAccount(borrowerWallet)

	fundDate := now
	loan.Lender = lender
	loan.Status = LoanFunded
	loan.FundDate = &fundDate
	lenderAccount.AccountType = AccountLender

	lenderWallet.Balance = new(big.Int).Sub(lenderWallet.Balance, amount)
	borrowerWallet.Balance = new(big.Int).Add(borrowerWallet.Balance, amount)

	if err := e.state.PutAccount(lender, lenderWallet); err != nil {
		return err
	}
	if err := e.state.PutAccount(borrower, borrowerWallet); err != nil {
		return err
	}
	if err := e.state.UserAccountPut(lenderAccount); err != nil {
		return err
	}
	if err := e.state.UserAccountPut(borrowerAccount); err != nil {
		return err
	}

	e.emit(events.LoanFunded{
		Borrower: borrower,
		Lender:   lender,
		Index:    index,
		Amount:   loan.Amount,
		FundedAt: now,
	})
	return nil
}

// RepayLoan closes a funded loan: the flat interest is computed and fixed on
// the loan, and principal plus interest moves from the borrower's wallet to
// the lender's. Only the loan's own borrower may repay.
func (e *Engine) RepayLoan(caller, borrower crypto.Address, index uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	now := e.now()

	borrowerAccount, err := e.loadUserAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAccount == nil {
		return ErrAccountNotFound
	}
	if int(index) >= len(borrowerAccount.Loans) {
		return ErrInvalidLoanIndex
	}
	loan := &borrowerAccount.Loans[index]
	if loan.Status != LoanFunded {
		return ErrLoanNotRepayable
	}
	if !loan.Borrower.Equal(caller) {
		return ErrUnauthorizedBorrower
	}

	interest, err := FlatInterest(loan.Amount, e.cfg.InterestRateBps)
	if err != nil {
		return err
	}
	total, err := RepaymentTotal(loan.Amount, interest)
	if err != nil {
		return err
	}

	totalBig := new(big.Int).SetUint64(total)
	borrowerWallet, err := e.state.GetAccount(caller)
	if err != nil {
		return err
	}
	borrowerWallet = ensureAccount(borrowerWallet)
	if borrowerWallet.Balance.Cmp(totalBig) < 0 {
		return ErrInsufficientBalance
	}
	lenderWallet, err := e.state.GetAccount(loan.Lender)
	if err != nil {
		return err
	}
	lenderWallet = ensureAccount(lenderWallet)

	repayDate := now
	loan.Status = LoanClosed
	loan.RepayDate = &repayDate
	loan.InterestAccrued = &interest

	borrowerWallet.Balance = new(big.Int).Sub(borrowerWallet.Balance, totalBig)
	lenderWallet.Balance = new(big.Int).Add(lenderWallet.Balance, totalBig)

	if err := e.state.PutAccount(caller, borrowerWallet); err != nil {
		return err
	}
	if err := e.state.PutAccount(loan.Lender, lenderWallet); err != nil {
		return err
	}
	if err := e.state.UserAccountPut(borrowerAccount); err != nil {
		return err
	}

	e.emit(events.LoanRepaid{
		Borrower: borrower,
		Lender:   loan.Lender,
		Index:    index,
		Amount:   loan.Amount,
		Interest: interest,
		RepaidAt: now,
	})
	return nil
}

// MarkDefaulted flags a funded loan that is past due as defaulted. The
// transition is permissionless maintenance: any wallet may trigger it once the
// preconditions hold. No balances move.
func (e *Engine) MarkDefaulted(borrower crypto.Address, index uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	now := e.now()

	account, err := e.loadUserAccount(borrower)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	if int(index) >= len(account.Loans) {
		return ErrInvalidLoanIndex
	}
	loan := &account.Loans[index]
	if loan.Status != LoanFunded {
		return ErrLoanNotDefaulted
	}
	if now <= loan.DueDate {
		return ErrLoanNotOverdue
	}

	loan.Status = LoanDefaulted

	if err := e.state.UserAccountPut(account); err != nil {
		return err
	}

	e.emit(events.LoanDefaulted{
		Borrower: borrower,
		Lender:   loan.Lender,
		Index:    index,
		Amount:   loan.Amount,
		DueDate:  loan.DueDate,
	})
	return nil
}

// AccountDetails returns the wallet's lending record, or ErrAccountNotFound
// when the wallet has never initialised one.
func (e *Engine) AccountDetails(owner crypto.Address) (*UserAccount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.loadUserAccount(owner)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// ListLoans flattens every loan across all user accounts into a deterministic
// ordering (borrower address, then index). This is the only cross-account read
// and is O(total accounts); callers must tolerate unbounded result size.
func (e *Engine) ListLoans() ([]LoanSummary, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	accounts, err := e.state.UserAccountList()
	if err != nil {
		return nil, err
	}
	summaries := make([]LoanSummary, 0)
	for _, account := range accounts {
		if account == nil {
			continue
		}
		for i := range account.Loans {
			summaries = append(summaries, LoanSummary{
				Borrower: account.Owner,
				Index:    uint8(i),
				Loan:     *account.Loans[i].Clone(),
			})
		}
	}
	sort.Slice(summaries, func(i, j int) bool {
		cmp := bytes.Compare(summaries[i].Borrower.Bytes(), summaries[j].Borrower.Bytes())
		if cmp != 0 {
			return cmp < 0
		}
		return summaries[i].Index < summaries[j].Index
	})
	return summaries, nil
}
