package tickets

import "errors"

var (
	// ErrInvalidPayment is returned when the attached payment differs from the
	// pool price.
	ErrInvalidPayment = errors.New("tickets: payment must equal ticket price")
	// ErrInvalidTicketID marks ids outside [1, count].
	ErrInvalidTicketID = errors.New("tickets: invalid ticket id")
	// ErrTicketUnavailable is returned when buying a ticket that already has
	// an owner.
	ErrTicketUnavailable = errors.New("tickets: ticket unavailable")
	// ErrAlreadyOwnsTicket is returned when the buyer already holds a ticket.
	ErrAlreadyOwnsTicket = errors.New("tickets: caller already owns a ticket")
	// ErrNoTicketOwned is returned when a swap participant holds no ticket.
	ErrNoTicketOwned = errors.New("tickets: caller owns no ticket")
	// ErrTargetHasNoTicket is returned when offering a swap to an address
	// without a ticket.
	ErrTargetHasNoTicket = errors.New("tickets: swap target owns no ticket")
	// ErrNoMatchingOffer is returned when the proposer has no outstanding
	// offer naming the caller.
	ErrNoMatchingOffer = errors.New("tickets: no matching swap offer")
	// ErrNotTicketOwner is returned when returning a ticket the caller does
	// not own.
	ErrNotTicketOwner = errors.New("tickets: caller is not the ticket owner")

	// ErrRestoreConflict is joined to a failed refund when the returned
	// ticket could not be handed back because the ledger changed during the
	// transfer. The collaborator must roll the operation back.
	ErrRestoreConflict = errors.New("tickets: ticket changed during refund")

	// ErrCallerRequired is returned when an operation is invoked without an
	// authenticated caller.
	ErrCallerRequired = errors.New("tickets: caller required")

	// ErrPoolNotInitialised is returned by every operation before Initialise.
	ErrPoolNotInitialised = errors.New("tickets: pool not initialised")
	// ErrPoolInitialised is returned when Initialise runs twice.
	ErrPoolInitialised = errors.New("tickets: pool already initialised")

	errNilState    = errors.New("tickets engine: state not configured")
	errNilPayments = errors.New("tickets engine: payments not configured")
)
