package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"p2plend/core/events"
	"p2plend/core/state"
	"p2plend/core/types"
	"p2plend/crypto"
	"p2plend/native/lending"
	"p2plend/storage"
)

var (
	// ErrInvalidNonce rejects replayed or out-of-order transactions.
	ErrInvalidNonce = errors.New("core: invalid transaction nonce")
	// ErrInvalidTransfer rejects malformed native transfers.
	ErrInvalidTransfer = errors.New("core: invalid transfer")
	// ErrInsufficientFunds rejects transfers exceeding the sender's balance.
	ErrInsufficientFunds = errors.New("core: insufficient funds")
	// ErrUnknownTxType rejects transactions with an unrecognised instruction.
	ErrUnknownTxType = errors.New("core: unknown transaction type")
)

// Node hosts the lending program. It owns the state manager and the lending
// engine and serializes instruction application, mirroring the host ledger's
// single-writer-per-account transaction model: each ApplyTransaction call is
// atomic with respect to every other.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.Manager
	engine *lending.Engine

	pending []*types.Event
}

// eventCollector funnels engine events into the node's per-instruction buffer.
type eventCollector struct {
	node *Node
}

func (c eventCollector) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if e := evt.Event(); e != nil {
		c.node.pending = append(c.node.pending, e)
	}
}

// NewNode wires a node against the provided database with the given lending
// module configuration.
func NewNode(db storage.Database, cfg lending.Config) *Node {
	node := &Node{
		db:    db,
		state: state.NewManager(db),
	}
	engine := lending.NewEngine(cfg)
	engine.SetState(node.state)
	engine.SetEmitter(eventCollector{node: node})
	node.engine = engine
	return node
}

// Engine exposes the lending engine for tests and tooling.
func (n *Node) Engine() *lending.Engine { return n.engine }

type requestLoanPayload struct {
	Amount      uint64 `json:"amount"`
	MortgageCID string `json:"mortgageCid"`
	DueDate     int64  `json:"dueDate"`
}

type loanRefPayload struct {
	Borrower  string `json:"borrower,omitempty"`
	LoanIndex uint8  `json:"loanIndex"`
}

// ApplyTransaction verifies the envelope signature and nonce, dispatches the
// instruction to the lending engine and returns the events it emitted. A
// failed instruction leaves state untouched and does not consume the nonce.
func (n *Node) ApplyTransaction(tx *types.Transaction) ([]*types.Event, error) {
	if tx == nil {
		return nil, errors.New("core: nil transaction")
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	fromBytes, err := tx.From()
	if err != nil {
		return nil, fmt.Errorf("core: recover signer: %w", err)
	}
	signer := crypto.NewAddress(crypto.LendPrefix, fromBytes)

	signerAccount, err := n.state.GetAccount(signer)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != signerAccount.Nonce {
		return nil, ErrInvalidNonce
	}

	n.pending = n.pending[:0]
	if err := n.dispatch(signer, tx); err != nil {
		n.pending = n.pending[:0]
		return nil, err
	}

	// Reload: the instruction may have touched the signer's balance.
	signerAccount, err = n.state.GetAccount(signer)
	if err != nil {
		return nil, err
	}
	signerAccount.Nonce++
	if err := n.state.PutAccount(signer, signerAccount); err != nil {
		return nil, err
	}

	emitted := make([]*types.Event, len(n.pending))
	copy(emitted, n.pending)
	n.pending = n.pending[:0]
	return emitted, nil
}

func (n *Node) dispatch(signer crypto.Address, tx *types.Transaction) error {
	switch tx.Type {
	case types.TxTypeTransfer:
		return n.applyTransfer(signer, tx)
	case types.TxTypeCreateAccount:
		_, err := n.engine.CreateUserAccount(signer)
		return err
	case types.TxTypeRequestLoan:
		var payload requestLoanPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return fmt.Errorf("core: decode request payload: %w", err)
		}
		_, err := n.engine.RequestLoan(signer, payload.Amount, payload.MortgageCID, payload.DueDate)
		return err
	case types.TxTypeFundLoan:
		payload, err := decodeLoanRef(tx.Data, false)
		if err != nil {
			return err
		}
		borrower, err := crypto.DecodeAddress(payload.Borrower)
		if err != nil {
			return fmt.Errorf("core: decode borrower address: %w", err)
		}
		return n.engine.FundLoan(signer, borrower, payload.LoanIndex)
	case types.TxTypeRepayLoan:
		payload, err := decodeLoanRef(tx.Data, true)
		if err != nil {
			return err
		}
		borrower := signer
		if payload.Borrower != "" {
			borrower, err = crypto.DecodeAddress(payload.Borrower)
			if err != nil {
				return fmt.Errorf("core: decode borrower address: %w", err)
			}
		}
		return n.engine.RepayLoan(signer, borrower, payload.LoanIndex)
	case types.TxTypeMarkDefaulted:
		payload, err := decodeLoanRef(tx.Data, false)
		if err != nil {
			return err
		}
		borrower, err := crypto.DecodeAddress(payload.Borrower)
		if err != nil {
			return fmt.Errorf("core: decode borrower address: %w", err)
		}
		return n.engine.MarkDefaulted(borrower, payload.LoanIndex)
	default:
		return ErrUnknownTxType
	}
}

func decodeLoanRef(data []byte, borrowerOptional bool) (*loanRefPayload, error) {
	var payload loanRefPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("core: decode loan reference: %w", err)
	}
	if payload.Borrower == "" && !borrowerOptional {
		return nil, errors.New("core: loan reference missing borrower")
	}
	return &payload, nil
}

func (n *Node) applyTransfer(from crypto.Address, tx *types.Transaction) error {
	if len(tx.To) != crypto.AddressLength || tx.Value == nil || tx.Value.Sign() <= 0 {
		return ErrInvalidTransfer
	}
	to := crypto.NewAddress(crypto.LendPrefix, tx.To)
	if from.Equal(to) {
		return ErrInvalidTransfer
	}
	fromAccount, err := n.state.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAccount.Balance.Cmp(tx.Value) < 0 {
		return ErrInsufficientFunds
	}
	toAccount, err := n.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAccount.Balance = new(big.Int).Sub(fromAccount.Balance, tx.Value)
	toAccount.Balance = new(big.Int).Add(toAccount.Balance, tx.Value)
	if err := n.state.PutAccount(from, fromAccount); err != nil {
		return err
	}
	return n.state.PutAccount(to, toAccount)
}

// GetAccountDetails returns the lending record for a wallet. Read-only; no
// signer required.
func (n *Node) GetAccountDetails(owner crypto.Address) (*lending.UserAccount, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AccountDetails(owner)
}

// ListLoans returns the flattened global loan list across all user accounts.
func (n *Node) ListLoans() ([]lending.LoanSummary, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ListLoans()
}

// GetBalance returns the native account for a wallet address.
func (n *Node) GetBalance(addr crypto.Address) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetAccount(addr)
}

// Credit mints lamports to a wallet. Dev and test bootstrap only; production
// balances arrive through the host ledger's genesis allocation.
func (n *Node) Credit(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransfer
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return n.state.PutAccount(addr, account)
}
