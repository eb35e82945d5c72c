package rpc

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"p2plend/core/types"
	"p2plend/crypto"
	"p2plend/native/lending"
)

type addressParams struct {
	Address string `json:"address"`
}

type sendTransactionResult struct {
	Events []*types.Event `json:"events"`
}

type loanView struct {
	Borrower        string  `json:"borrower"`
	Lender          string  `json:"lender,omitempty"`
	Amount          uint64  `json:"amount"`
	MortgageCID     string  `json:"mortgageCid"`
	DueDate         int64   `json:"dueDate"`
	Status          string  `json:"status"`
	RequestDate     int64   `json:"requestDate"`
	FundDate        *int64  `json:"fundDate,omitempty"`
	RepayDate       *int64  `json:"repayDate,omitempty"`
	InterestAccrued *uint64 `json:"interestAccrued,omitempty"`
}

type userAccountResult struct {
	Owner       string     `json:"owner"`
	Address     string     `json:"address"`
	Bump        uint8      `json:"bump"`
	AccountType string     `json:"accountType"`
	Loans       []loanView `json:"loans"`
}

type loanSummaryView struct {
	Borrower string   `json:"borrower"`
	Index    uint8    `json:"loanIndex"`
	Loan     loanView `json:"loan"`
}

type listLoansResult struct {
	Loans []loanSummaryView `json:"loans"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func newLoanView(loan *lending.Loan) loanView {
	view := loanView{
		Borrower:        loan.Borrower.String(),
		Amount:          loan.Amount,
		MortgageCID:     loan.MortgageCID,
		DueDate:         loan.DueDate,
		Status:          loan.Status.String(),
		RequestDate:     loan.RequestDate,
		FundDate:        loan.FundDate,
		RepayDate:       loan.RepayDate,
		InterestAccrued: loan.InterestAccrued,
	}
	// The lender field is only meaningful once the loan has been funded.
	if !loan.Lender.IsZero() {
		view.Lender = loan.Lender.String()
	}
	return view
}

func newUserAccountResult(account *lending.UserAccount) userAccountResult {
	result := userAccountResult{
		Owner:       account.Owner.String(),
		Address:     account.Address.String(),
		Bump:        account.Bump,
		AccountType: account.AccountType.String(),
		Loans:       make([]loanView, 0, len(account.Loans)),
	}
	for i := range account.Loans {
		result.Loans = append(result.Loans, newLoanView(&account.Loans[i]))
	}
	return result
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, req *RPCRequest) string {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single transaction parameter", nil)
		return "invalid_params"
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction payload", err.Error())
		return "invalid_params"
	}
	emitted, err := s.node.ApplyTransaction(&tx)
	if err != nil {
		s.logger.Info("transaction rejected",
			slog.Int("type", int(tx.Type)),
			slog.Any("error", err))
		s.writeModuleError(w, req, err)
		return "rejected"
	}
	if emitted == nil {
		emitted = []*types.Event{}
	}
	writeResult(w, req.ID, sendTransactionResult{Events: emitted})
	return "ok"
}

func (s *Server) decodeAddressParam(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single address parameter", nil)
		return crypto.Address{}, false
	}
	var params addressParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		// Tolerate a bare string parameter as well.
		var raw string
		if err := json.Unmarshal(req.Params[0], &raw); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", nil)
			return crypto.Address{}, false
		}
		params.Address = raw
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) string {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return "invalid_params"
	}
	account, err := s.node.GetAccountDetails(addr)
	if err != nil {
		s.writeModuleError(w, req, err)
		return "rejected"
	}
	writeResult(w, req.ID, newUserAccountResult(account))
	return "ok"
}

func (s *Server) handleListLoans(w http.ResponseWriter, req *RPCRequest) string {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return "invalid_params"
	}
	summaries, err := s.node.ListLoans()
	if err != nil {
		s.writeModuleError(w, req, err)
		return "rejected"
	}
	views := make([]loanSummaryView, 0, len(summaries))
	for i := range summaries {
		views = append(views, loanSummaryView{
			Borrower: summaries[i].Borrower.String(),
			Index:    summaries[i].Index,
			Loan:     newLoanView(&summaries[i].Loan),
		})
	}
	writeResult(w, req.ID, listLoansResult{Loans: views})
	return "ok"
}

type creditParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// handleCredit mints balance into a wallet. Operator-only: it exists for dev
// networks and integration environments, never for public deployments.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if err := s.authorize(r); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeServerError, err.Error(), nil)
		return "unauthorized"
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single credit parameter", nil)
		return "invalid_params"
	}
	var params creditParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid credit payload", err.Error())
		return "invalid_params"
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return "invalid_params"
	}
	amount, ok := new(big.Int).SetString(params.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "amount must be a positive decimal string", nil)
		return "invalid_params"
	}
	if err := s.node.Credit(addr, amount); err != nil {
		s.writeModuleError(w, req, err)
		return "rejected"
	}
	account, err := s.node.GetBalance(addr)
	if err != nil {
		s.writeModuleError(w, req, err)
		return "rejected"
	}
	writeResult(w, req.ID, balanceResult{
		Address: addr.String(),
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
	return "ok"
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) string {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return "invalid_params"
	}
	account, err := s.node.GetBalance(addr)
	if err != nil {
		s.writeModuleError(w, req, err)
		return "rejected"
	}
	writeResult(w, req.ID, balanceResult{
		Address: addr.String(),
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
	return "ok"
}
