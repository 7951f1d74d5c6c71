package tickets

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"ticketsale/core/events"
)

type mockState struct {
	pool    *Pool
	tickets map[uint64]*Ticket
	failPut map[uint64]error
}

func newMockState() *mockState {
	return &mockState{
		tickets: make(map[uint64]*Ticket),
		failPut: make(map[uint64]error),
	}
}

func (m *mockState) TicketPoolGet() (*Pool, bool, error) {
	if m.pool == nil {
		return nil, false, nil
	}
	return m.pool.Clone(), true, nil
}

func (m *mockState) TicketPoolPut(p *Pool) error {
	m.pool = p.Clone()
	return nil
}

func (m *mockState) TicketGet(id uint64) (*Ticket, bool, error) {
	ticket, ok := m.tickets[id]
	if !ok {
		return nil, false, nil
	}
	return ticket.Clone(), true, nil
}

func (m *mockState) TicketPut(t *Ticket) error {
	if err := m.failPut[t.ID]; err != nil {
		return err
	}
	m.tickets[t.ID] = t.Clone()
	return nil
}

// mockBank keeps external balances and pays refunds out of the vault.
type mockBank struct {
	balances map[[20]byte]*big.Int
	vault    *big.Int
	fail     error
	onPay    func(to [20]byte, amount *big.Int)
}

func newMockBank(vault int64) *mockBank {
	return &mockBank{balances: make(map[[20]byte]*big.Int), vault: big.NewInt(vault)}
}

func (b *mockBank) Transfer(to [20]byte, amount *big.Int) error {
	if b.fail != nil {
		return b.fail
	}
	if b.vault.Cmp(amount) < 0 {
		return fmt.Errorf("vault balance too low")
	}
	b.vault.Sub(b.vault, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	if b.onPay != nil {
		b.onPay(to, amount)
	}
	return nil
}

func (b *mockBank) balance(addr [20]byte) *big.Int {
	if v, ok := b.balances[addr]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const testPrice = 15

func newTestEngine(t *testing.T, count uint64) (*Engine, *mockState, *mockBank, *recordingEmitter) {
	t.Helper()
	state := newMockState()
	bank := newMockBank(1_000)
	emitter := &recordingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetPayments(bank)
	engine.SetEmitter(emitter)
	if err := engine.Initialise(newTestAddress(0x01), big.NewInt(testPrice), count); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	return engine, state, bank, emitter
}

func mustBuy(t *testing.T, e *Engine, id uint64, caller [20]byte) {
	t.Helper()
	if err := e.Buy(id, big.NewInt(testPrice), caller); err != nil {
		t.Fatalf("buy ticket %d: %v", id, err)
	}
}

func mustTicket(t *testing.T, e *Engine, id uint64) *Ticket {
	t.Helper()
	ticket, err := e.Ticket(id)
	if err != nil {
		t.Fatalf("ticket %d: %v", id, err)
	}
	return ticket
}

// assertInjective checks that no address owns more than one ticket.
func assertInjective(t *testing.T, state *mockState) {
	t.Helper()
	seen := make(map[[20]byte]uint64)
	for id, ticket := range state.tickets {
		if ticket.Owner == ([20]byte{}) {
			if ticket.OfferPartner != ([20]byte{}) {
				t.Fatalf("unsold ticket %d carries an offer", id)
			}
			continue
		}
		if prev, ok := seen[ticket.Owner]; ok {
			t.Fatalf("owner %x holds tickets %d and %d", ticket.Owner, prev, id)
		}
		seen[ticket.Owner] = id
	}
}

func TestInitialiseCreatesUnsoldTickets(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 10)
	pool, err := engine.Pool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.Count != 10 || pool.Price.Int64() != testPrice {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if pool.Owner != newTestAddress(0x01) {
		t.Fatalf("unexpected pool owner %x", pool.Owner)
	}
	if len(state.tickets) != 10 {
		t.Fatalf("expected 10 ticket records, got %d", len(state.tickets))
	}
	for id := uint64(1); id <= 10; id++ {
		if s := mustTicket(t, engine, id).State(); s != TicketUnsold {
			t.Fatalf("ticket %d state %s", id, s)
		}
	}
	if err := engine.Initialise(newTestAddress(0x01), big.NewInt(1), 1); !errors.Is(err, ErrPoolInitialised) {
		t.Fatalf("expected ErrPoolInitialised, got %v", err)
	}
}

func TestInitialiseRejectsBadPool(t *testing.T) {
	cases := []struct {
		name  string
		price *big.Int
		count uint64
	}{
		{"zero count", big.NewInt(1), 0},
		{"too many", big.NewInt(1), MaxTicketCount + 1},
		{"negative price", big.NewInt(-1), 5},
		{"nil price", nil, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := newMockState()
			engine := NewEngine()
			engine.SetState(state)
			if err := engine.Initialise(newTestAddress(0x01), tc.price, tc.count); err == nil {
				t.Fatalf("expected initialise to fail")
			}
			if state.pool != nil {
				t.Fatalf("pool must not be stored on failure")
			}
		})
	}
}

func TestOperationsBeforeInitialise(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if err := engine.Buy(1, big.NewInt(testPrice), newTestAddress(0x02)); !errors.Is(err, ErrPoolNotInitialised) {
		t.Fatalf("expected ErrPoolNotInitialised, got %v", err)
	}
	if _, err := engine.TicketOf(newTestAddress(0x02)); !errors.Is(err, ErrPoolNotInitialised) {
		t.Fatalf("expected ErrPoolNotInitialised, got %v", err)
	}
	if err := NewEngine().Buy(1, big.NewInt(1), newTestAddress(0x02)); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
}

func TestBuyAssignsOwner(t *testing.T) {
	engine, state, _, emitter := newTestEngine(t, 10)
	buyer := newTestAddress(0x11)
	mustBuy(t, engine, 1, buyer)

	ticket := mustTicket(t, engine, 1)
	if ticket.Owner != buyer {
		t.Fatalf("ticket owner %x, want %x", ticket.Owner, buyer)
	}
	if ticket.State() != TicketOwned {
		t.Fatalf("expected owned state, got %s", ticket.State())
	}
	id, err := engine.TicketOf(buyer)
	if err != nil {
		t.Fatalf("ticket of: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected ticket 1, got %d", id)
	}
	other, err := engine.TicketOf(newTestAddress(0x12))
	if err != nil {
		t.Fatalf("ticket of: %v", err)
	}
	if other != NoTicket {
		t.Fatalf("never-buyer should own nothing, got %d", other)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != EventTypeTicketPurchased {
		t.Fatalf("expected one purchase event, got %+v", emitter.events)
	}
	attrs := emitter.events[0].Event().Attributes
	if attrs["ticketId"] != "1" || attrs["amount"] != "15" {
		t.Fatalf("unexpected purchase attributes %v", attrs)
	}
	assertInjective(t, state)
}

func TestBuyRejections(t *testing.T) {
	engine, state, _, emitter := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)
	if err := engine.OfferSwap(alice, alice); err != nil {
		t.Fatalf("self offer: %v", err)
	}
	emitter.events = nil

	snapshot := make(map[uint64]Ticket)
	for id, ticket := range state.tickets {
		snapshot[id] = *ticket
	}

	cases := []struct {
		name    string
		id      uint64
		payment *big.Int
		caller  [20]byte
		want    error
	}{
		{"underpayment", 2, big.NewInt(testPrice - 1), bob, ErrInvalidPayment},
		{"overpayment", 2, big.NewInt(testPrice + 1), bob, ErrInvalidPayment},
		{"missing payment", 2, nil, bob, ErrInvalidPayment},
		{"id zero", 0, big.NewInt(testPrice), bob, ErrInvalidTicketID},
		{"id past pool", 11, big.NewInt(testPrice), bob, ErrInvalidTicketID},
		{"owned ticket", 1, big.NewInt(testPrice), bob, ErrTicketUnavailable},
		{"offer pending ticket", 1, big.NewInt(testPrice), alice, ErrTicketUnavailable},
		{"second ticket", 2, big.NewInt(testPrice), alice, ErrAlreadyOwnsTicket},
		{"no caller", 2, big.NewInt(testPrice), [20]byte{}, ErrCallerRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.Buy(tc.id, tc.payment, tc.caller)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			for id, ticket := range state.tickets {
				if *ticket != snapshot[id] {
					t.Fatalf("ticket %d mutated by failed buy", id)
				}
			}
		})
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed buys must not emit events")
	}
}

func TestOfferSwap(t *testing.T) {
	engine, state, _, emitter := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	carol := newTestAddress(0x13)
	mustBuy(t, engine, 1, alice)
	mustBuy(t, engine, 2, bob)
	mustBuy(t, engine, 3, carol)

	if err := engine.OfferSwap(bob, alice); err != nil {
		t.Fatalf("offer swap: %v", err)
	}
	ticket1 := mustTicket(t, engine, 1)
	if ticket1.OfferPartner != bob || ticket1.State() != TicketOfferPending {
		t.Fatalf("expected pending offer to bob, got %+v", ticket1)
	}
	if ticket2 := mustTicket(t, engine, 2); ticket2.OfferPartner != ([20]byte{}) {
		t.Fatalf("target ticket must not be touched")
	}

	// Last offer wins.
	if err := engine.OfferSwap(carol, alice); err != nil {
		t.Fatalf("second offer: %v", err)
	}
	if got := mustTicket(t, engine, 1).OfferPartner; got != carol {
		t.Fatalf("expected offer to carol, got %x", got)
	}
	if last := emitter.events[len(emitter.events)-1]; last.EventType() != EventTypeSwapOffered {
		t.Fatalf("expected swap offered event, got %s", last.EventType())
	}
	assertInjective(t, state)
}

func TestOfferSwapRejections(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)

	if err := engine.OfferSwap(bob, alice); !errors.Is(err, ErrNoTicketOwned) {
		t.Fatalf("expected ErrNoTicketOwned, got %v", err)
	}
	mustBuy(t, engine, 1, alice)
	if err := engine.OfferSwap(bob, alice); !errors.Is(err, ErrTargetHasNoTicket) {
		t.Fatalf("expected ErrTargetHasNoTicket, got %v", err)
	}
	if err := engine.OfferSwap([20]byte{}, alice); !errors.Is(err, ErrTargetHasNoTicket) {
		t.Fatalf("expected ErrTargetHasNoTicket for zero target, got %v", err)
	}
	if got := mustTicket(t, engine, 1).OfferPartner; got != ([20]byte{}) {
		t.Fatalf("rejected offer must not be recorded")
	}
}

func TestSwapRoundTrip(t *testing.T) {
	engine, state, _, emitter := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)
	mustBuy(t, engine, 2, bob)

	if err := engine.OfferSwap(bob, alice); err != nil {
		t.Fatalf("offer swap: %v", err)
	}
	if err := engine.AcceptSwap(alice, bob); err != nil {
		t.Fatalf("accept swap: %v", err)
	}

	ticket1 := mustTicket(t, engine, 1)
	ticket2 := mustTicket(t, engine, 2)
	if ticket1.Owner != bob || ticket2.Owner != alice {
		t.Fatalf("owners not exchanged: %x %x", ticket1.Owner, ticket2.Owner)
	}
	if ticket1.OfferPartner != ([20]byte{}) || ticket2.OfferPartner != ([20]byte{}) {
		t.Fatalf("offers must be cleared after swap")
	}
	if id, _ := engine.TicketOf(alice); id != 2 {
		t.Fatalf("alice should hold ticket 2, got %d", id)
	}
	if id, _ := engine.TicketOf(bob); id != 1 {
		t.Fatalf("bob should hold ticket 1, got %d", id)
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != EventTypeSwapped {
		t.Fatalf("expected swapped event, got %s", last.EventType())
	}
	if attrs := last.Event().Attributes; attrs["ticketId"] != "1" || attrs["partnerTicketId"] != "2" {
		t.Fatalf("unexpected swap attributes %v", attrs)
	}
	assertInjective(t, state)
}

func TestAcceptSwapClearsAccepterOffer(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	carol := newTestAddress(0x13)
	mustBuy(t, engine, 1, alice)
	mustBuy(t, engine, 2, bob)
	mustBuy(t, engine, 3, carol)

	if err := engine.OfferSwap(bob, alice); err != nil {
		t.Fatalf("alice offer: %v", err)
	}
	if err := engine.OfferSwap(carol, bob); err != nil {
		t.Fatalf("bob offer: %v", err)
	}
	if err := engine.AcceptSwap(alice, bob); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, id := range []uint64{1, 2} {
		if got := mustTicket(t, engine, id).OfferPartner; got != ([20]byte{}) {
			t.Fatalf("ticket %d still carries offer %x", id, got)
		}
	}
	if err := engine.AcceptSwap(bob, carol); !errors.Is(err, ErrNoMatchingOffer) {
		t.Fatalf("bob's cleared offer must not be acceptable, got %v", err)
	}
}

func TestAcceptSwapRejections(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	carol := newTestAddress(0x13)
	dave := newTestAddress(0x14)

	if err := engine.AcceptSwap(alice, bob); !errors.Is(err, ErrNoTicketOwned) {
		t.Fatalf("expected ErrNoTicketOwned, got %v", err)
	}
	mustBuy(t, engine, 1, alice)
	mustBuy(t, engine, 2, bob)
	mustBuy(t, engine, 3, carol)
	if err := engine.OfferSwap(bob, alice); err != nil {
		t.Fatalf("offer: %v", err)
	}

	cases := []struct {
		name     string
		proposer [20]byte
		caller   [20]byte
		want     error
	}{
		{"wrong accepter", alice, carol, ErrNoMatchingOffer},
		{"wrong proposer", carol, bob, ErrNoMatchingOffer},
		{"proposer without ticket", dave, bob, ErrNoMatchingOffer},
		{"accepter without ticket", alice, dave, ErrNoTicketOwned},
		{"reversed roles", bob, alice, ErrNoMatchingOffer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.AcceptSwap(tc.proposer, tc.caller); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if mustTicket(t, engine, 1).Owner != alice || mustTicket(t, engine, 2).Owner != bob || mustTicket(t, engine, 3).Owner != carol {
				t.Fatalf("owners changed after rejected accept")
			}
			if mustTicket(t, engine, 1).OfferPartner != bob {
				t.Fatalf("pending offer lost after rejected accept")
			}
		})
	}
	assertInjective(t, state)
}

func TestAcceptSwapStaleOfferAfterReturn(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)
	mustBuy(t, engine, 2, bob)
	if err := engine.OfferSwap(bob, alice); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := engine.ReturnTicket(1, alice); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := engine.AcceptSwap(alice, bob); !errors.Is(err, ErrNoMatchingOffer) {
		t.Fatalf("offer must not survive a return, got %v", err)
	}
}

func TestAcceptSwapRestoresOnWriteFailure(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)
	mustBuy(t, engine, 2, bob)
	if err := engine.OfferSwap(bob, alice); err != nil {
		t.Fatalf("offer: %v", err)
	}
	state.failPut[1] = errors.New("disk full")
	if err := engine.AcceptSwap(alice, bob); err == nil {
		t.Fatalf("expected accept to fail")
	}
	delete(state.failPut, 1)
	if mustTicket(t, engine, 1).Owner != alice || mustTicket(t, engine, 2).Owner != bob {
		t.Fatalf("partial swap persisted")
	}
	assertInjective(t, state)
}

func TestReturnTicketRefundsPrice(t *testing.T) {
	engine, state, bank, emitter := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	mustBuy(t, engine, 1, alice)
	if err := engine.OfferSwap(alice, alice); err != nil {
		t.Fatalf("offer: %v", err)
	}

	before := bank.balance(alice)
	refund, err := engine.ReturnTicket(1, alice)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if refund.Int64() != testPrice {
		t.Fatalf("expected refund %d, got %s", testPrice, refund)
	}
	after := bank.balance(alice)
	if diff := new(big.Int).Sub(after, before); diff.Int64() != testPrice {
		t.Fatalf("balance increased by %s, want %d", diff, testPrice)
	}
	ticket := mustTicket(t, engine, 1)
	if ticket.State() != TicketUnsold || ticket.OfferPartner != ([20]byte{}) {
		t.Fatalf("returned ticket not reset: %+v", ticket)
	}
	if id, _ := engine.TicketOf(alice); id != NoTicket {
		t.Fatalf("alice should own nothing, got %d", id)
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != EventTypeTicketReturned {
		t.Fatalf("expected returned event, got %s", last.EventType())
	}
	assertInjective(t, state)
}

func TestReturnTicketRejections(t *testing.T) {
	engine, _, bank, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)

	if _, err := engine.ReturnTicket(1, bob); !errors.Is(err, ErrNotTicketOwner) {
		t.Fatalf("expected ErrNotTicketOwner, got %v", err)
	}
	if _, err := engine.ReturnTicket(2, bob); !errors.Is(err, ErrNotTicketOwner) {
		t.Fatalf("expected ErrNotTicketOwner for unsold ticket, got %v", err)
	}
	if _, err := engine.ReturnTicket(11, alice); !errors.Is(err, ErrInvalidTicketID) {
		t.Fatalf("expected ErrInvalidTicketID, got %v", err)
	}
	if _, err := engine.ReturnTicket(2, [20]byte{}); !errors.Is(err, ErrCallerRequired) {
		t.Fatalf("expected ErrCallerRequired, got %v", err)
	}
	if bank.balance(bob).Sign() != 0 {
		t.Fatalf("rejected return paid out")
	}
	if mustTicket(t, engine, 1).Owner != alice {
		t.Fatalf("rejected return changed ownership")
	}
}

func TestReturnTicketTransferFailureRestoresOwner(t *testing.T) {
	engine, _, bank, emitter := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	mustBuy(t, engine, 1, alice)
	emitter.events = nil
	bank.fail = errors.New("vault locked")

	if _, err := engine.ReturnTicket(1, alice); err == nil {
		t.Fatalf("expected refund failure")
	}
	if mustTicket(t, engine, 1).Owner != alice {
		t.Fatalf("ticket must stay owned when the refund fails")
	}
	if _, err := engine.ReturnTicket(1, alice); errors.Is(err, ErrRestoreConflict) {
		t.Fatalf("plain refund failure must restore without conflict: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed return must not emit events")
	}
}

func TestReturnTicketReentrantCallSeesUnsold(t *testing.T) {
	engine, _, bank, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	mustBuy(t, engine, 1, alice)

	var reentryErr error
	var stateDuringTransfer TicketState
	calls := 0
	bank.onPay = func(to [20]byte, _ *big.Int) {
		calls++
		if calls > 1 {
			return
		}
		ticket, err := engine.Ticket(1)
		if err != nil {
			reentryErr = err
			return
		}
		stateDuringTransfer = ticket.State()
		_, reentryErr = engine.ReturnTicket(1, to)
	}

	if _, err := engine.ReturnTicket(1, alice); err != nil {
		t.Fatalf("return: %v", err)
	}
	if stateDuringTransfer != TicketUnsold {
		t.Fatalf("transfer observed state %s, want unsold", stateDuringTransfer)
	}
	if !errors.Is(reentryErr, ErrNotTicketOwner) {
		t.Fatalf("re-entrant return should fail with ErrNotTicketOwner, got %v", reentryErr)
	}
	if calls != 1 {
		t.Fatalf("expected a single refund, got %d", calls)
	}
	if bank.balance(alice).Int64() != testPrice {
		t.Fatalf("refunded %s, want %d", bank.balance(alice), testPrice)
	}
}

// rejectingPayee runs a callback on every refund and then rejects it.
type rejectingPayee struct {
	onTransfer func(to [20]byte)
}

func (p *rejectingPayee) Transfer(to [20]byte, _ *big.Int) error {
	if p.onTransfer != nil {
		p.onTransfer(to)
	}
	return errors.New("recipient rejected funds")
}

func TestReturnTicketFailedRefundKeepsSingleOwnership(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	mustBuy(t, engine, 1, alice)

	var reentryErr error
	engine.SetPayments(&rejectingPayee{onTransfer: func(to [20]byte) {
		reentryErr = engine.Buy(2, big.NewInt(testPrice), to)
	}})

	_, err := engine.ReturnTicket(1, alice)
	if err == nil {
		t.Fatalf("expected refund failure")
	}
	if !errors.Is(err, ErrRestoreConflict) {
		t.Fatalf("expected ErrRestoreConflict, got %v", err)
	}
	if reentryErr != nil {
		t.Fatalf("re-entrant buy: %v", reentryErr)
	}
	if mustTicket(t, engine, 1).State() != TicketUnsold {
		t.Fatalf("ticket 1 must not be handed back to an owner of ticket 2")
	}
	assertInjective(t, state)
}

func TestReturnTicketFailedRefundSkipsRestoreOfResoldTicket(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)

	engine.SetPayments(&rejectingPayee{onTransfer: func([20]byte) {
		mustBuy(t, engine, 1, bob)
	}})

	if _, err := engine.ReturnTicket(1, alice); !errors.Is(err, ErrRestoreConflict) {
		t.Fatalf("expected ErrRestoreConflict, got %v", err)
	}
	if mustTicket(t, engine, 1).Owner != bob {
		t.Fatalf("restore overwrote the re-entrant purchase")
	}
	assertInjective(t, state)
}

func TestRebuyAfterReturn(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 10)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x12)
	mustBuy(t, engine, 1, alice)
	if _, err := engine.ReturnTicket(1, alice); err != nil {
		t.Fatalf("return: %v", err)
	}
	mustBuy(t, engine, 1, bob)
	if mustTicket(t, engine, 1).Owner != bob {
		t.Fatalf("rebuy did not assign new owner")
	}
	mustBuy(t, engine, 2, alice)
	assertInjective(t, state)
}

func TestZeroPriceReturnSkipsTransfer(t *testing.T) {
	state := newMockState()
	bank := newMockBank(0)
	bank.fail = errors.New("transfer must not be called")
	engine := NewEngine()
	engine.SetState(state)
	engine.SetPayments(bank)
	if err := engine.Initialise(newTestAddress(0x01), big.NewInt(0), 3); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	alice := newTestAddress(0x11)
	if err := engine.Buy(2, big.NewInt(0), alice); err != nil {
		t.Fatalf("buy: %v", err)
	}
	refund, err := engine.ReturnTicket(2, alice)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if refund.Sign() != 0 {
		t.Fatalf("expected zero refund, got %s", refund)
	}
}
