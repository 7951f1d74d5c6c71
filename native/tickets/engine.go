package tickets

import (
	"errors"
	"fmt"
	"math/big"

	"ticketsale/core/events"
	"ticketsale/core/types"
)

type engineState interface {
	TicketPoolGet() (*Pool, bool, error)
	TicketPoolPut(*Pool) error
	TicketGet(id uint64) (*Ticket, bool, error)
	TicketPut(*Ticket) error
}

// Payments is the outbound value-transfer capability used for refunds. A
// transfer either moves the full amount or fails without effect.
type Payments interface {
	Transfer(to [20]byte, amount *big.Int) error
}

// Engine applies the ticket ledger rules against an external state backend.
// It assumes a single writer: callers must not invoke operations
// concurrently.
type Engine struct {
	state    engineState
	payments Payments
	emitter  events.Emitter
}

// NewEngine creates a ticket engine with a no-op emitter. State and payments
// must be configured before use.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPayments configures the capability used to pay refunds.
func (e *Engine) SetPayments(payments Payments) { e.payments = payments }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ticketEvent{evt: event})
}

func (e *Engine) loadPool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, ok, err := e.state.TicketPoolGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotInitialised
	}
	return pool, nil
}

func (e *Engine) loadTicket(pool *Pool, id uint64) (*Ticket, error) {
	if !pool.Contains(id) {
		return nil, ErrInvalidTicketID
	}
	ticket, ok, err := e.state.TicketGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tickets: record for ticket %d missing", id)
	}
	return ticket, nil
}

// ticketOf scans the pool for the ticket owned by addr.
func (e *Engine) ticketOf(pool *Pool, addr [20]byte) (*Ticket, error) {
	if addr == ([20]byte{}) {
		return nil, nil
	}
	for id := uint64(1); id <= pool.Count; id++ {
		ticket, err := e.loadTicket(pool, id)
		if err != nil {
			return nil, err
		}
		if ticket.Owner == addr {
			return ticket, nil
		}
	}
	return nil, nil
}

// Initialise creates the pool and every ticket record in the unsold state. It
// may only run once.
func (e *Engine) Initialise(owner [20]byte, price *big.Int, count uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok, err := e.state.TicketPoolGet(); err != nil {
		return err
	} else if ok {
		return ErrPoolInitialised
	}
	pool := &Pool{Owner: owner, Count: count}
	if price != nil {
		pool.Price = new(big.Int).Set(price)
	}
	if err := pool.Validate(); err != nil {
		return err
	}
	for id := uint64(1); id <= count; id++ {
		if err := e.state.TicketPut(&Ticket{ID: id}); err != nil {
			return fmt.Errorf("tickets: create ticket %d: %w", id, err)
		}
	}
	return e.state.TicketPoolPut(pool)
}

// Pool returns the pool configuration.
func (e *Engine) Pool() (*Pool, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Ticket returns the record for id.
func (e *Engine) Ticket(id uint64) (*Ticket, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	ticket, err := e.loadTicket(pool, id)
	if err != nil {
		return nil, err
	}
	return ticket.Clone(), nil
}

// TicketOf returns the id of the ticket owned by addr, or NoTicket.
func (e *Engine) TicketOf(addr [20]byte) (uint64, error) {
	pool, err := e.loadPool()
	if err != nil {
		return NoTicket, err
	}
	ticket, err := e.ticketOf(pool, addr)
	if err != nil || ticket == nil {
		return NoTicket, err
	}
	return ticket.ID, nil
}

// Buy assigns an unsold ticket to caller. The payment must equal the pool
// price exactly; it has already been collected by the caller of the engine.
func (e *Engine) Buy(id uint64, payment *big.Int, caller [20]byte) error {
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if caller == ([20]byte{}) {
		return ErrCallerRequired
	}
	if payment == nil || payment.Cmp(pool.Price) != 0 {
		return ErrInvalidPayment
	}
	ticket, err := e.loadTicket(pool, id)
	if err != nil {
		return err
	}
	if ticket.State() != TicketUnsold {
		return ErrTicketUnavailable
	}
	held, err := e.ticketOf(pool, caller)
	if err != nil {
		return err
	}
	if held != nil {
		return ErrAlreadyOwnsTicket
	}
	ticket.Owner = caller
	ticket.OfferPartner = [20]byte{}
	if err := e.state.TicketPut(ticket); err != nil {
		return err
	}
	e.emit(NewPurchasedEvent(id, caller, pool.Price))
	return nil
}

// OfferSwap records on the caller's ticket a proposal to swap with the ticket
// currently held by target. A later offer replaces an earlier one. The
// target's record is not touched.
func (e *Engine) OfferSwap(target, caller [20]byte) error {
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if caller == ([20]byte{}) {
		return ErrCallerRequired
	}
	own, err := e.ticketOf(pool, caller)
	if err != nil {
		return err
	}
	if own == nil {
		return ErrNoTicketOwned
	}
	theirs, err := e.ticketOf(pool, target)
	if err != nil {
		return err
	}
	if theirs == nil {
		return ErrTargetHasNoTicket
	}
	own.OfferPartner = target
	if err := e.state.TicketPut(own); err != nil {
		return err
	}
	e.emit(NewSwapOfferedEvent(own.ID, caller, target))
	return nil
}

// AcceptSwap exchanges the caller's ticket with the proposer's ticket when the
// proposer's outstanding offer names the caller. Both offers are cleared.
func (e *Engine) AcceptSwap(proposer, caller [20]byte) error {
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if caller == ([20]byte{}) {
		return ErrCallerRequired
	}
	accepterTicket, err := e.ticketOf(pool, caller)
	if err != nil {
		return err
	}
	if accepterTicket == nil {
		return ErrNoTicketOwned
	}
	proposerTicket, err := e.ticketOf(pool, proposer)
	if err != nil {
		return err
	}
	if proposerTicket == nil || proposerTicket.OfferPartner != caller {
		return ErrNoMatchingOffer
	}

	if proposerTicket.ID == accepterTicket.ID {
		// Self-offer: nothing to exchange, only the offer is consumed.
		proposerTicket.OfferPartner = [20]byte{}
		if err := e.state.TicketPut(proposerTicket); err != nil {
			return err
		}
		e.emit(NewSwappedEvent(proposerTicket.ID, accepterTicket.ID, proposer, caller))
		return nil
	}

	prevAccepter := accepterTicket.Clone()
	accepterTicket.Owner = proposer
	accepterTicket.OfferPartner = [20]byte{}
	proposerTicket.Owner = caller
	proposerTicket.OfferPartner = [20]byte{}
	if err := e.state.TicketPut(accepterTicket); err != nil {
		return err
	}
	if err := e.state.TicketPut(proposerTicket); err != nil {
		if restoreErr := e.state.TicketPut(prevAccepter); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		return err
	}
	e.emit(NewSwappedEvent(proposerTicket.ID, accepterTicket.ID, proposer, caller))
	return nil
}

// ReturnTicket releases the caller's ticket back to the pool and refunds the
// pool price. The record is reset before the refund is paid so a re-entrant
// call made during the transfer already sees the ticket as unsold. Only the
// price is refunded, whatever value accompanied the call. The refunded amount
// is returned.
func (e *Engine) ReturnTicket(id uint64, caller [20]byte) (*big.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if e.payments == nil {
		return nil, errNilPayments
	}
	if caller == ([20]byte{}) {
		return nil, ErrCallerRequired
	}
	ticket, err := e.loadTicket(pool, id)
	if err != nil {
		return nil, err
	}
	if ticket.Owner != caller {
		return nil, ErrNotTicketOwner
	}

	prev := ticket.Clone()
	ticket.reset()
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}

	refund := new(big.Int).Set(pool.Price)
	if refund.Sign() > 0 {
		if err := e.payments.Transfer(caller, refund); err != nil {
			refundErr := fmt.Errorf("tickets: refund: %w", err)
			if restoreErr := e.restoreAfterFailedRefund(pool, prev); restoreErr != nil {
				return nil, errors.Join(refundErr, restoreErr)
			}
			return nil, refundErr
		}
	}
	e.emit(NewReturnedEvent(id, caller, refund))
	return refund, nil
}

// restoreAfterFailedRefund hands prev back to its owner only if the ticket is
// still unsold and the owner holds no other ticket. Otherwise the record is
// left untouched and ErrRestoreConflict is returned.
func (e *Engine) restoreAfterFailedRefund(pool *Pool, prev *Ticket) error {
	current, err := e.loadTicket(pool, prev.ID)
	if err != nil {
		return err
	}
	if current.State() != TicketUnsold {
		return ErrRestoreConflict
	}
	held, err := e.ticketOf(pool, prev.Owner)
	if err != nil {
		return err
	}
	if held != nil {
		return ErrRestoreConflict
	}
	return e.state.TicketPut(prev)
}
