package state

import (
	"fmt"
	"math/big"

	"ticketsale/native/tickets"
)

type storedTicketPool struct {
	Price *big.Int
	Count uint64
	Owner [20]byte
}

type storedTicket struct {
	ID           uint64
	Owner        [20]byte
	OfferPartner [20]byte
}

// TicketPoolGet loads the pool configuration.
func (m *Manager) TicketPoolGet() (*tickets.Pool, bool, error) {
	var stored storedTicketPool
	ok, err := m.KVGet(ticketPoolKeyBytes, &stored)
	if err != nil {
		return nil, false, fmt.Errorf("load ticket pool: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	pool := &tickets.Pool{Price: big.NewInt(0), Count: stored.Count, Owner: stored.Owner}
	if stored.Price != nil {
		pool.Price = new(big.Int).Set(stored.Price)
	}
	return pool, true, nil
}

// TicketPoolPut stores the pool configuration.
func (m *Manager) TicketPoolPut(pool *tickets.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	return m.KVPut(ticketPoolKeyBytes, &storedTicketPool{
		Price: new(big.Int).Set(pool.Price),
		Count: pool.Count,
		Owner: pool.Owner,
	})
}

// TicketGet loads the ticket record for id.
func (m *Manager) TicketGet(id uint64) (*tickets.Ticket, bool, error) {
	var stored storedTicket
	ok, err := m.KVGet(ticketRecordKey(id), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("load ticket %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &tickets.Ticket{ID: stored.ID, Owner: stored.Owner, OfferPartner: stored.OfferPartner}, true, nil
}

// TicketPut stores a ticket record.
func (m *Manager) TicketPut(ticket *tickets.Ticket) error {
	if ticket == nil {
		return fmt.Errorf("ticket must not be nil")
	}
	if ticket.ID == tickets.NoTicket {
		return fmt.Errorf("ticket id must not be zero")
	}
	if ticket.Owner == ([20]byte{}) && ticket.OfferPartner != ([20]byte{}) {
		return fmt.Errorf("ticket %d: offer without owner", ticket.ID)
	}
	return m.KVPut(ticketRecordKey(ticket.ID), &storedTicket{
		ID:           ticket.ID,
		Owner:        ticket.Owner,
		OfferPartner: ticket.OfferPartner,
	})
}

type ticketVault struct {
	manager *Manager
}

// Transfer pays amount out of the ticket vault.
func (v ticketVault) Transfer(to [20]byte, amount *big.Int) error {
	return v.manager.Transfer(TicketVaultAddress(), to, amount)
}

// TicketVault returns the payment capability used by the ticket engine for
// refunds.
func (m *Manager) TicketVault() tickets.Payments {
	return ticketVault{manager: m}
}
