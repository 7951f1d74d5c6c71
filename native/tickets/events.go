package tickets

import (
	"math/big"
	"strconv"

	"ticketsale/core/types"
	"ticketsale/crypto"
)

const (
	// EventTypeTicketPurchased is emitted when an unsold ticket is bought.
	EventTypeTicketPurchased = "tickets.purchased"
	// EventTypeSwapOffered is emitted when an owner proposes a swap.
	EventTypeSwapOffered = "tickets.swapOffered"
	// EventTypeSwapped is emitted when a swap offer is accepted.
	EventTypeSwapped = "tickets.swapped"
	// EventTypeTicketReturned is emitted when a ticket is refunded.
	EventTypeTicketReturned = "tickets.returned"
)

type ticketEvent struct {
	evt *types.Event
}

func (e ticketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ticketEvent) Event() *types.Event { return e.evt }

func addressString(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func ticketIDString(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewPurchasedEvent returns the canonical payload for a purchase.
func NewPurchasedEvent(id uint64, buyer [20]byte, price *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTicketPurchased,
		Attributes: map[string]string{
			"ticketId": ticketIDString(id),
			"owner":    addressString(buyer),
			"amount":   amountString(price),
		},
	}
}

// NewSwapOfferedEvent returns the canonical payload for a swap proposal.
func NewSwapOfferedEvent(id uint64, proposer, partner [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeSwapOffered,
		Attributes: map[string]string{
			"ticketId": ticketIDString(id),
			"owner":    addressString(proposer),
			"partner":  addressString(partner),
		},
	}
}

// NewSwappedEvent returns the canonical payload for an accepted swap. The
// ticket ids refer to the tickets each party held before the exchange.
func NewSwappedEvent(proposerTicket, accepterTicket uint64, proposer, accepter [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeSwapped,
		Attributes: map[string]string{
			"ticketId":        ticketIDString(proposerTicket),
			"partnerTicketId": ticketIDString(accepterTicket),
			"owner":           addressString(proposer),
			"partner":         addressString(accepter),
		},
	}
}

// NewReturnedEvent returns the canonical payload for a refunded ticket.
func NewReturnedEvent(id uint64, owner [20]byte, refund *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTicketReturned,
		Attributes: map[string]string{
			"ticketId": ticketIDString(id),
			"owner":    addressString(owner),
			"amount":   amountString(refund),
		},
	}
}
