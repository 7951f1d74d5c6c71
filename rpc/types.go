package rpc

import (
	"ticketsale/crypto"
	"ticketsale/indexer"
	"ticketsale/native/tickets"
)

// TicketResult is the JSON view of a ticket record. Unset addresses are
// omitted.
type TicketResult struct {
	ID           uint64 `json:"id"`
	State        string `json:"state"`
	Owner        string `json:"owner,omitempty"`
	OfferPartner string `json:"offerPartner,omitempty"`
}

func newTicketResult(t *tickets.Ticket) TicketResult {
	result := TicketResult{ID: t.ID, State: t.State().String()}
	if t.Owner != ([20]byte{}) {
		result.Owner = crypto.FromRaw(t.Owner).String()
	}
	if t.OfferPartner != ([20]byte{}) {
		result.OfferPartner = crypto.FromRaw(t.OfferPartner).String()
	}
	return result
}

type TicketOfResult struct {
	Address  string `json:"address"`
	TicketID uint64 `json:"ticketId"`
}

type PoolResult struct {
	Price  string `json:"price"`
	Count  uint64 `json:"count"`
	Owner  string `json:"owner,omitempty"`
	Height uint64 `json:"height"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type HistoryResult struct {
	TicketID uint64                `json:"ticketId"`
	Events   []indexer.TicketEvent `json:"events"`
}
