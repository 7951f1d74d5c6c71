package types

import (
	"fmt"
	"math/big"
	"strings"
)

// TxType defines the purpose of a transaction.
type TxType string

const (
	TxTypeBuyTicket  TxType = "buy"        // Purchase an unsold ticket for the pool price
	TxTypeOfferSwap  TxType = "offerSwap"  // Propose a swap to another ticket owner
	TxTypeAcceptSwap TxType = "acceptSwap" // Accept a swap proposed to the caller
	TxTypeReturn     TxType = "return"     // Return a ticket for a refund
)

// ParseTxType normalises the textual transaction type.
func ParseTxType(raw string) (TxType, error) {
	switch strings.TrimSpace(raw) {
	case string(TxTypeBuyTicket):
		return TxTypeBuyTicket, nil
	case string(TxTypeOfferSwap):
		return TxTypeOfferSwap, nil
	case string(TxTypeAcceptSwap):
		return TxTypeAcceptSwap, nil
	case string(TxTypeReturn):
		return TxTypeReturn, nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", raw)
	}
}

// Payable reports whether value may be attached to the transaction type.
func (t TxType) Payable() bool {
	return t == TxTypeBuyTicket || t == TxTypeReturn
}

// Transaction is a single ledger operation submitted by an authenticated
// caller. Counterparty is the swap target for offerSwap and the proposer for
// acceptSwap.
type Transaction struct {
	Type         TxType   `json:"type"`
	Caller       [20]byte `json:"caller"`
	TicketID     uint64   `json:"ticketId,omitempty"`
	Counterparty [20]byte `json:"counterparty,omitempty"`
	Value        *big.Int `json:"value,omitempty"`
}

// AttachedValue returns the value sent with the transaction, never nil.
func (tx *Transaction) AttachedValue() *big.Int {
	if tx == nil || tx.Value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(tx.Value)
}
