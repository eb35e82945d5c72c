package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType identifies the instruction carried by a transaction.
type TxType byte

const (
	TxTypeTransfer      TxType = 0x01 // Native lamport transfer between wallets
	TxTypeCreateAccount TxType = 0x02 // Explicit user-account creation at the derived address
	TxTypeRequestLoan   TxType = 0x03 // Borrower requests a loan
	TxTypeFundLoan      TxType = 0x04 // Lender funds a requested loan by index
	TxTypeRepayLoan     TxType = 0x05 // Borrower repays a funded loan by index
	TxTypeMarkDefaulted TxType = 0x06 // Maintenance: flag an overdue funded loan
)

// Transaction is the signed instruction envelope submitted to the ledger. The
// signer recovered from R/S/V is the instruction's authorizing wallet: the
// borrower for request/repay, the lender for fund.
type Transaction struct {
	Type  TxType          `json:"type"`
	Nonce uint64          `json:"nonce"`
	To    []byte          `json:"to,omitempty"`
	Value *big.Int        `json:"value,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	// Signature
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash covers every signed field of the transaction.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type  TxType
		Nonce uint64
		To    []byte
		Value *big.Int
		Data  json.RawMessage
	}{tx.Type, tx.Nonce, tx.To, tx.Value, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// From recovers the signing wallet's 20-byte address. The result is cached so
// repeated dispatch checks do not redo the recovery.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, errors.New("transaction is unsigned")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
