package lending

import "errors"

// Code is the stable numeric identifier for a lending failure. Codes are part
// of the external interface: clients map them to user-facing messages, so
// existing values must never be renumbered.
type Code uint32

const (
	CodeInvalidAmount Code = iota + 1
	CodeInvalidDueDate
	CodeLenderCannotBorrow
	CodeBorrowerCannotLend
	CodeLoanNotFundable
	CodeLoanNotRepayable
	CodeUnauthorizedBorrower
	CodeLoanNotDefaulted
	CodeLoanNotOverdue
	CodeMaxLoansReached
	CodeInvalidLoanIndex
	CodeAccountExists
	CodeAccountNotFound
	CodeAmountOverflow
	CodeInsufficientBalance
	CodeInvalidMortgageCID
)

// Error is a coded validation failure. Every precondition violation aborts the
// whole instruction with one of these before any state is touched.
type Error struct {
	Code Code
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(code Code, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

var (
	ErrInvalidAmount        = newError(CodeInvalidAmount, "lending: invalid loan amount")
	ErrInvalidDueDate       = newError(CodeInvalidDueDate, "lending: due date must be in the future")
	ErrLenderCannotBorrow   = newError(CodeLenderCannotBorrow, "lending: lender cannot borrow")
	ErrBorrowerCannotLend   = newError(CodeBorrowerCannotLend, "lending: borrower cannot lend")
	ErrLoanNotFundable      = newError(CodeLoanNotFundable, "lending: loan is not in a fundable state")
	ErrLoanNotRepayable     = newError(CodeLoanNotRepayable, "lending: loan is not in a repayable state")
	ErrUnauthorizedBorrower = newError(CodeUnauthorizedBorrower, "lending: unauthorized borrower")
	ErrLoanNotDefaulted     = newError(CodeLoanNotDefaulted, "lending: loan is not in a defaultable state")
	ErrLoanNotOverdue       = newError(CodeLoanNotOverdue, "lending: loan is not overdue")
	ErrMaxLoansReached      = newError(CodeMaxLoansReached, "lending: maximum number of loans reached")
	ErrInvalidLoanIndex     = newError(CodeInvalidLoanIndex, "lending: invalid loan index")
	ErrAccountExists        = newError(CodeAccountExists, "lending: user account already exists")
	ErrAccountNotFound      = newError(CodeAccountNotFound, "lending: user account not found")
	ErrAmountOverflow       = newError(CodeAmountOverflow, "lending: amount arithmetic overflow")
	ErrInsufficientBalance  = newError(CodeInsufficientBalance, "lending: insufficient balance")
	ErrInvalidMortgageCID   = newError(CodeInvalidMortgageCID, "lending: mortgage CID must not be empty")
)

// CodeOf extracts the stable code from an error, returning 0 when the error is
// not a lending failure.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return 0
}
