package tickets

import (
	"fmt"
	"math/big"
)

// MaxTicketCount bounds the pool size. TicketOf scans every ticket, so the
// pool is kept small.
const MaxTicketCount uint64 = 10_000

// NoTicket is the ticket id returned when an address owns nothing.
const NoTicket uint64 = 0

// TicketState enumerates the lifecycle of a single ticket.
type TicketState uint8

const (
	TicketUnsold TicketState = iota
	TicketOwned
	TicketOfferPending
)

func (s TicketState) String() string {
	switch s {
	case TicketUnsold:
		return "unsold"
	case TicketOwned:
		return "owned"
	case TicketOfferPending:
		return "offer_pending"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Pool is the immutable configuration created when the ledger is initialised.
type Pool struct {
	Price *big.Int
	Count uint64
	Owner [20]byte
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Price = big.NewInt(0)
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return &clone
}

// Validate ensures the pool parameters are usable.
func (p *Pool) Validate() error {
	if p == nil {
		return fmt.Errorf("tickets: pool nil")
	}
	if p.Price == nil || p.Price.Sign() < 0 {
		return fmt.Errorf("tickets: price must be non-negative")
	}
	if p.Count == 0 {
		return fmt.Errorf("tickets: ticket count must be positive")
	}
	if p.Count > MaxTicketCount {
		return fmt.Errorf("tickets: ticket count %d exceeds maximum %d", p.Count, MaxTicketCount)
	}
	return nil
}

// Contains reports whether id names a ticket in the pool.
func (p *Pool) Contains(id uint64) bool {
	return p != nil && id >= 1 && id <= p.Count
}

// Ticket is the ownership record for one numbered ticket. The zero address in
// Owner or OfferPartner means unset.
type Ticket struct {
	ID           uint64
	Owner        [20]byte
	OfferPartner [20]byte
}

// State derives the lifecycle state from the record fields.
func (t *Ticket) State() TicketState {
	if t == nil || t.Owner == ([20]byte{}) {
		return TicketUnsold
	}
	if t.OfferPartner == ([20]byte{}) {
		return TicketOwned
	}
	return TicketOfferPending
}

// Clone returns a copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// reset returns the ticket to the pool.
func (t *Ticket) reset() {
	t.Owner = [20]byte{}
	t.OfferPartner = [20]byte{}
}
