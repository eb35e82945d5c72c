package lending

import (
	"math/big"
	"testing"

	"p2plend/core/types"
	"p2plend/crypto"
)

type mockEngineState struct {
	users    map[string]*UserAccount
	accounts map[string]*types.Account
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		users:    make(map[string]*UserAccount),
		accounts: make(map[string]*types.Account),
	}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) UserAccountGet(addr crypto.Address) (*UserAccount, error) {
	if acc, ok := m.users[m.key(addr)]; ok {
		return acc, nil
	}
	return nil, nil
}

func (m *mockEngineState) UserAccountPut(account *UserAccount) error {
	if account == nil {
		return nil
	}
	m.users[m.key(account.Address)] = account
	return nil
}

func (m *mockEngineState) UserAccountList() ([]*UserAccount, error) {
	list := make([]*UserAccount, 0, len(m.users))
	for _, acc := range m.users {
		list = append(list, acc)
	}
	return list, nil
}

func (m *mockEngineState) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m.accounts[m.key(addr)]; ok {
		return acc, nil
	}
	return nil, nil
}

func (m *mockEngineState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[m.key(addr)] = account
	return nil
}

func (m *mockEngineState) setBalance(addr crypto.Address, amount uint64) {
	m.accounts[m.key(addr)] = &types.Account{Balance: new(big.Int).SetUint64(amount)}
}

func (m *mockEngineState) balance(t *testing.T, addr crypto.Address) uint64 {
	t.Helper()
	acc, ok := m.accounts[m.key(addr)]
	if !ok || acc.Balance == nil {
		return 0
	}
	if !acc.Balance.IsUint64() {
		t.Fatalf("balance does not fit uint64: %s", acc.Balance)
	}
	return acc.Balance.Uint64()
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.LendPrefix, raw)
}

const testNow = int64(1_700_000_000)

func newTestEngine(state *mockEngineState) *Engine {
	engine := NewEngine(DefaultConfig())
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return testNow })
	return engine
}

func mustAccount(t *testing.T, engine *Engine, owner crypto.Address) *UserAccount {
	t.Helper()
	account, err := engine.AccountDetails(owner)
	if err != nil {
		t.Fatalf("account details: %v", err)
	}
	return account
}

func TestRequestLoanCreatesAccountAndLoan(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)

	index, err := engine.RequestLoan(borrower, 1_000_000_000, "cid1", testNow+86_400)
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if index != 0 {
		t.Fatalf("expected index 0, got %d", index)
	}

	account := mustAccount(t, engine, borrower)
	if account.AccountType != AccountBorrower {
		t.Fatalf("expected borrower role, got %v", account.AccountType)
	}
	if len(account.Loans) != 1 {
		t.Fatalf("expected one loan, got %d", len(account.Loans))
	}
	loan := account.Loans[0]
	if loan.Status != LoanRequested {
		t.Fatalf("expected requested status, got %v", loan.Status)
	}
	if loan.RequestDate != testNow {
		t.Fatalf("expected request date %d, got %d", testNow, loan.RequestDate)
	}
	if !loan.Lender.IsZero() {
		t.Fatalf("expected lender sentinel, got %v", loan.Lender)
	}
	if loan.FundDate != nil || loan.RepayDate != nil || loan.InterestAccrued != nil {
		t.Fatal("expected optional fields unset at request time")
	}
}

func TestRequestLoanValidation(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)

	cases := []struct {
		name    string
		amount  uint64
		cid     string
		dueDate int64
		want    Code
	}{
		{"zero amount", 0, "cid1", testNow + 100, CodeInvalidAmount},
		{"empty cid", 100, "  ", testNow + 100, CodeInvalidMortgageCID},
		{"past due date", 100, "cid1", testNow - 1, CodeInvalidDueDate},
		{"due date equals now", 100, "cid1", testNow, CodeInvalidDueDate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.RequestLoan(borrower, tc.amount, tc.cid, tc.dueDate); CodeOf(err) != tc.want {
				t.Fatalf("expected code %d, got %v", tc.want, err)
			}
		})
	}
	if len(state.users) != 0 {
		t.Fatal("failed requests must not allocate accounts")
	}
}

func TestRequestLoanCapacity(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)

	max := int(engine.Config().MaxLoansPerAccount)
	for i := 0; i < max; i++ {
		if _, err := engine.RequestLoan(borrower, 100, "cid", testNow+100); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := engine.RequestLoan(borrower, 100, "cid", testNow+100)
	if CodeOf(err) != CodeMaxLoansReached {
		t.Fatalf("expected MaxLoansReached, got %v", err)
	}
	account := mustAccount(t, engine, borrower)
	if len(account.Loans) != max {
		t.Fatalf("overflowing request must leave loans unchanged, got %d", len(account.Loans))
	}
}

func TestRoleExclusivity(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	state.setBalance(lender, 1_000)

	if _, err := engine.RequestLoan(borrower, 1_000, "cid", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// A wallet classified as lender may never originate a request.
	if _, err := engine.RequestLoan(lender, 500, "cid", testNow+100); CodeOf(err) != CodeLenderCannotBorrow {
		t.Fatalf("expected LenderCannotBorrow, got %v", err)
	}

	// Repeated requests never move the borrower's classification.
	if _, err := engine.RequestLoan(borrower, 500, "cid", testNow+100); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if got := mustAccount(t, engine, borrower).AccountType; got != AccountBorrower {
		t.Fatalf("expected borrower role to persist, got %v", got)
	}
}

func TestFundLoan(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	state.setBalance(lender, 2_000_000_000)

	if _, err := engine.RequestLoan(borrower, 1_000_000_000, "cid1", testNow+86_400); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}

	loan := mustAccount(t, engine, borrower).Loans[0]
	if loan.Status != LoanFunded {
		t.Fatalf("expected funded, got %v", loan.Status)
	}
	if !loan.Lender.Equal(lender) {
		t.Fatalf("expected lender recorded, got %v", loan.Lender)
	}
	if loan.FundDate == nil || *loan.FundDate != testNow {
		t.Fatalf("expected fund date %d, got %v", testNow, loan.FundDate)
	}
	if got := state.balance(t, borrower); got != 1_000_000_000 {
		t.Fatalf("borrower balance: expected 1000000000, got %d", got)
	}
	if got := state.balance(t, lender); got != 1_000_000_000 {
		t.Fatalf("lender balance: expected 1000000000, got %d", got)
	}
	if got := mustAccount(t, engine, lender).AccountType; got != AccountLender {
		t.Fatalf("expected lender role, got %v", got)
	}
}

func TestFundLoanGuards(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	state.setBalance(lender, 10_000)

	if _, err := engine.RequestLoan(borrower, 1_000, "cid", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := engine.FundLoan(borrower, borrower, 0); CodeOf(err) != CodeBorrowerCannotLend {
		t.Fatalf("self funding: expected BorrowerCannotLend, got %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 5); CodeOf(err) != CodeInvalidLoanIndex {
		t.Fatalf("bad index: expected InvalidLoanIndex, got %v", err)
	}
	if err := engine.FundLoan(lender, makeAddress(0x09), 0); CodeOf(err) != CodeAccountNotFound {
		t.Fatalf("unknown borrower: expected AccountNotFound, got %v", err)
	}

	poor := makeAddress(0x03)
	if err := engine.FundLoan(poor, borrower, 0); CodeOf(err) != CodeInsufficientBalance {
		t.Fatalf("poor lender: expected InsufficientBalance, got %v", err)
	}
	if loan := mustAccount(t, engine, borrower).Loans[0]; loan.Status != LoanRequested {
		t.Fatalf("failed funding must not transition the loan, got %v", loan.Status)
	}

	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 0); CodeOf(err) != CodeLoanNotFundable {
		t.Fatalf("double funding: expected LoanNotFundable, got %v", err)
	}
}

func TestRepayLoan(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	state.setBalance(lender, 1_000_000_000)
	state.setBalance(borrower, 400_000_000)

	if _, err := engine.RequestLoan(borrower, 1_000_000_000, "cid1", testNow+86_400); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.RepayLoan(borrower, borrower, 0); err != nil {
		t.Fatalf("repay: %v", err)
	}

	loan := mustAccount(t, engine, borrower).Loans[0]
	if loan.Status != LoanClosed {
		t.Fatalf("expected closed, got %v", loan.Status)
	}
	if loan.RepayDate == nil || *loan.RepayDate != testNow {
		t.Fatalf("expected repay date %d, got %v", testNow, loan.RepayDate)
	}
	if loan.InterestAccrued == nil || *loan.InterestAccrued != 300_000_000 {
		t.Fatalf("expected interest 300000000, got %v", loan.InterestAccrued)
	}
	// Lender ends with principal plus 30% interest.
	if got := state.balance(t, lender); got != 1_300_000_000 {
		t.Fatalf("lender balance: expected 1300000000, got %d", got)
	}
	if got := state.balance(t, borrower); got != 100_000_000 {
		t.Fatalf("borrower balance: expected 100000000, got %d", got)
	}
}

func TestRepayLoanGuards(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	intruder := makeAddress(0x03)
	state.setBalance(lender, 10_000)
	state.setBalance(borrower, 10_000)

	if _, err := engine.RequestLoan(borrower, 1_000, "cid", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Repaying a requested loan performs no transfer.
	if err := engine.RepayLoan(borrower, borrower, 0); CodeOf(err) != CodeLoanNotRepayable {
		t.Fatalf("expected LoanNotRepayable, got %v", err)
	}
	if got := state.balance(t, borrower); got != 10_000 {
		t.Fatalf("failed repay must not move balances, got %d", got)
	}

	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.RepayLoan(intruder, borrower, 0); CodeOf(err) != CodeUnauthorizedBorrower {
		t.Fatalf("expected UnauthorizedBorrower, got %v", err)
	}
	if err := engine.RepayLoan(borrower, borrower, 7); CodeOf(err) != CodeInvalidLoanIndex {
		t.Fatalf("expected InvalidLoanIndex, got %v", err)
	}

	if err := engine.RepayLoan(borrower, borrower, 0); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := engine.RepayLoan(borrower, borrower, 0); CodeOf(err) != CodeLoanNotRepayable {
		t.Fatalf("closed loan: expected LoanNotRepayable, got %v", err)
	}
}

func TestRepayLoanOverflowAborts(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	principal := ^uint64(0)
	state.setBalance(lender, principal)

	if _, err := engine.RequestLoan(borrower, principal, "cid", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// principal + 30% interest exceeds the u64 range; the instruction must
	// abort instead of wrapping.
	if err := engine.RepayLoan(borrower, borrower, 0); CodeOf(err) != CodeAmountOverflow {
		t.Fatalf("expected AmountOverflow, got %v", err)
	}
	if loan := mustAccount(t, engine, borrower).Loans[0]; loan.Status != LoanFunded {
		t.Fatalf("aborted repay must leave the loan funded, got %v", loan.Status)
	}
}

func TestMarkDefaulted(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	borrower := makeAddress(0x01)
	lender := makeAddress(0x02)
	state.setBalance(lender, 10_000)

	dueDate := testNow + 100
	if _, err := engine.RequestLoan(borrower, 1_000, "cid", dueDate); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Requested loans cannot default.
	if err := engine.MarkDefaulted(borrower, 0); CodeOf(err) != CodeLoanNotDefaulted {
		t.Fatalf("expected LoanNotDefaulted, got %v", err)
	}

	if err := engine.FundLoan(lender, borrower, 0); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// Not yet overdue.
	if err := engine.MarkDefaulted(borrower, 0); CodeOf(err) != CodeLoanNotOverdue {
		t.Fatalf("expected LoanNotOverdue, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return dueDate + 1 })
	if err := engine.MarkDefaulted(borrower, 0); err != nil {
		t.Fatalf("default: %v", err)
	}
	loan := mustAccount(t, engine, borrower).Loans[0]
	if loan.Status != LoanDefaulted {
		t.Fatalf("expected defaulted, got %v", loan.Status)
	}

	// Terminal: no way back.
	if err := engine.RepayLoan(borrower, borrower, 0); CodeOf(err) != CodeLoanNotRepayable {
		t.Fatalf("defaulted loan: expected LoanNotRepayable, got %v", err)
	}
	if err := engine.FundLoan(lender, borrower, 0); CodeOf(err) != CodeLoanNotFundable {
		t.Fatalf("defaulted loan: expected LoanNotFundable, got %v", err)
	}
}

func TestCreateUserAccountIdempotency(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	owner := makeAddress(0x01)

	account, err := engine.CreateUserAccount(owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if account.AccountType != AccountNone {
		t.Fatalf("fresh account must be unclassified, got %v", account.AccountType)
	}
	if _, err := engine.CreateUserAccount(owner); CodeOf(err) != CodeAccountExists {
		t.Fatalf("expected AccountExists, got %v", err)
	}
}

func TestAccountDetailsNotFound(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)

	if _, err := engine.AccountDetails(makeAddress(0x42)); CodeOf(err) != CodeAccountNotFound {
		t.Fatalf("expected AccountNotFound, got %v", err)
	}
}

func TestListLoansFlattensAllAccounts(t *testing.T) {
	state := newMockEngineState()
	engine := newTestEngine(state)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)

	if _, err := engine.RequestLoan(alice, 100, "cid-a0", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := engine.RequestLoan(alice, 200, "cid-a1", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := engine.RequestLoan(bob, 300, "cid-b0", testNow+100); err != nil {
		t.Fatalf("request: %v", err)
	}

	summaries, err := engine.ListLoans()
	if err != nil {
		t.Fatalf("list loans: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 loans, got %d", len(summaries))
	}
	// Deterministic order: borrower address, then index.
	if !summaries[0].Borrower.Equal(alice) || summaries[0].Index != 0 {
		t.Fatalf("unexpected first summary: %+v", summaries[0])
	}
	if !summaries[1].Borrower.Equal(alice) || summaries[1].Index != 1 {
		t.Fatalf("unexpected second summary: %+v", summaries[1])
	}
	if !summaries[2].Borrower.Equal(bob) || summaries[2].Index != 0 {
		t.Fatalf("unexpected third summary: %+v", summaries[2])
	}
}
