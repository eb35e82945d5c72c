package events

import (
	"strconv"

	"p2plend/core/types"
	"p2plend/crypto"
)

const (
	TypeLoanRequested = "loan.requested"
	TypeLoanFunded    = "loan.funded"
	TypeLoanRepaid    = "loan.repaid"
	TypeLoanDefaulted = "loan.defaulted"
)

type LoanRequested struct {
	Borrower    crypto.Address
	Index       uint8
	Amount      uint64
	MortgageCID string
	DueDate     int64
	RequestedAt int64
}

func (LoanRequested) EventType() string { return TypeLoanRequested }

func (e LoanRequested) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRequested,
		Attributes: map[string]string{
			"borrower":    e.Borrower.String(),
			"index":       uintToString(uint64(e.Index)),
			"amount":      uintToString(e.Amount),
			"mortgageCid": e.MortgageCID,
			"dueDate":     intToString(e.DueDate),
			"requestedAt": intToString(e.RequestedAt),
		},
	}
}

type LoanFunded struct {
	Borrower crypto.Address
	Lender   crypto.Address
	Index    uint8
	Amount   uint64
	FundedAt int64
}

func (LoanFunded) EventType() string { return TypeLoanFunded }

func (e LoanFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanFunded,
		Attributes: map[string]string{
			"borrower": e.Borrower.String(),
			"lender":   e.Lender.String(),
			"index":    uintToString(uint64(e.Index)),
			"amount":   uintToString(e.Amount),
			"fundedAt": intToString(e.FundedAt),
		},
	}
}

type LoanRepaid struct {
	Borrower crypto.Address
	Lender   crypto.Address
	Index    uint8
	Amount   uint64
	Interest uint64
	RepaidAt int64
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepaid,
		Attributes: map[string]string{
			"borrower": e.Borrower.String(),
			"lender":   e.Lender.String(),
			"index":    uintToString(uint64(e.Index)),
			"amount":   uintToString(e.Amount),
			"interest": uintToString(e.Interest),
			"repaidAt": intToString(e.RepaidAt),
		},
	}
}

type LoanDefaulted struct {
	Borrower crypto.Address
	Lender   crypto.Address
	Index    uint8
	Amount   uint64
	DueDate  int64
}

func (LoanDefaulted) EventType() string { return TypeLoanDefaulted }

func (e LoanDefaulted) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanDefaulted,
		Attributes: map[string]string{
			"borrower": e.Borrower.String(),
			"lender":   e.Lender.String(),
			"index":    uintToString(uint64(e.Index)),
			"amount":   uintToString(e.Amount),
			"dueDate":  intToString(e.DueDate),
		},
	}
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
