package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"ticketsale/core/events"
	"ticketsale/core/genesis"
	ledgerstate "ticketsale/core/state"
	"ticketsale/core/types"
	"ticketsale/crypto"
	"ticketsale/native/tickets"
	"ticketsale/observability"
	telemetry "ticketsale/observability/otel"
	"ticketsale/storage"
	"ticketsale/storage/trie"
)

var (
	// ErrValueNotAccepted is returned when value accompanies an operation
	// that does not take payment, or when the value is negative.
	ErrValueNotAccepted = errors.New("core: value not accepted for this operation")
	// ErrInsufficientFunds is returned when the caller cannot cover the value
	// attached to the operation.
	ErrInsufficientFunds = errors.New("core: insufficient funds")
	// ErrUnknownTransaction is returned for nil or unrecognised transactions.
	ErrUnknownTransaction = errors.New("core: unknown transaction type")
)

var (
	metaStateRootKey = []byte("meta/stateRoot")
	metaHeightKey    = []byte("meta/height")
)

// Option customises a Node.
type Option func(*Node)

// WithLogger sets the structured logger used for operation logs.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithEmitter registers the subscriber receiving committed ledger events.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithMetrics enables Prometheus ledger metrics.
func WithMetrics(metrics *observability.TicketMetrics) Option {
	return func(n *Node) { n.metrics = metrics }
}

// WithInstruments records operations on OTLP instruments as well.
func WithInstruments(instruments *telemetry.Instruments) Option {
	return func(n *Node) { n.instruments = instruments }
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(n *Node) {
		if tracer != nil {
			n.tracer = tracer
		}
	}
}

// Node is the single writer of the ticket ledger. Every operation runs under
// one mutex and either commits completely or leaves the committed state
// untouched.
type Node struct {
	mu sync.Mutex

	db          storage.Database
	trie        *trie.Trie
	state       *ledgerstate.Manager
	engine      *tickets.Engine
	pending     *events.Buffer
	emitter     events.Emitter
	logger      *slog.Logger
	metrics     *observability.TicketMetrics
	instruments *telemetry.Instruments
	tracer      trace.Tracer
	height      uint64
}

// NewNode opens the ledger stored in db. When db holds no committed state the
// genesis spec is executed and committed at height zero; otherwise spec is
// ignored and may be nil.
func NewNode(db storage.Database, spec *genesis.Spec, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	root, height, ok, err := loadMetadata(db)
	if err != nil {
		return nil, err
	}
	if !ok {
		if spec == nil {
			return nil, fmt.Errorf("no committed state and no genesis spec provided")
		}
		root, err = genesis.Build(spec, db)
		if err != nil {
			return nil, fmt.Errorf("build genesis: %w", err)
		}
		height = 0
		if err := persistMetadata(db, root, height); err != nil {
			return nil, err
		}
	}

	stateTrie, err := trie.NewTrie(db, root.Bytes())
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	manager := ledgerstate.NewManager(stateTrie)
	pending := &events.Buffer{}
	engine := tickets.NewEngine()
	engine.SetState(manager)
	engine.SetPayments(manager.TicketVault())
	engine.SetEmitter(pending)

	n := &Node{
		db:      db,
		trie:    stateTrie,
		state:   manager,
		engine:  engine,
		pending: pending,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  telemetry.Tracer(),
		height:  height,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.metrics.SetHeight(height)
	return n, nil
}

// Apply executes tx against the ledger and commits the result. On any error
// the state is rolled back to the last committed root and no events are
// delivered.
func (n *Node) Apply(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, ErrUnknownTransaction
	}
	op := string(tx.Type)
	ctx, span := telemetry.StartApply(ctx, n.tracer, op, tx.TicketID)

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := ctx.Err(); err != nil {
		telemetry.FinishApply(span, 0, err)
		return nil, err
	}

	start := time.Now()
	receipt, err := n.apply(tx)
	elapsed := time.Since(start)
	n.metrics.ObserveOperation(op, err, elapsed)
	n.instruments.Record(ctx, op, err, elapsed)
	if err != nil {
		n.pending.Drain()
		if rollbackErr := n.trie.Rollback(); rollbackErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rollbackErr))
		}
		telemetry.FinishApply(span, 0, err)
		n.logger.Info("ledger operation rejected",
			slog.String("op", op),
			slog.String("caller", crypto.FromRaw(tx.Caller).String()),
			slog.Any("error", err))
		return nil, err
	}

	telemetry.FinishApply(span, receipt.Height, nil)
	n.logger.Debug("ledger operation applied",
		slog.String("op", op),
		slog.String("caller", crypto.FromRaw(tx.Caller).String()),
		slog.Uint64("ticket", receipt.TicketID),
		slog.Uint64("height", receipt.Height),
		slog.String("root", receipt.StateRoot))
	return receipt, nil
}

func (n *Node) apply(tx *types.Transaction) (*types.Receipt, error) {
	txType, err := types.ParseTxType(string(tx.Type))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransaction, tx.Type)
	}
	caller := tx.Caller
	if caller == ([20]byte{}) {
		return nil, tickets.ErrCallerRequired
	}
	value := tx.AttachedValue()
	if value.Sign() < 0 || (value.Sign() > 0 && !txType.Payable()) {
		return nil, ErrValueNotAccepted
	}
	if value.Sign() > 0 {
		if err := n.state.Transfer(caller, ledgerstate.TicketVaultAddress(), value); err != nil {
			if errors.Is(err, ledgerstate.ErrInsufficientBalance) {
				return nil, ErrInsufficientFunds
			}
			return nil, err
		}
	}

	ticketID := tx.TicketID
	switch txType {
	case types.TxTypeBuyTicket:
		err = n.engine.Buy(tx.TicketID, value, caller)
	case types.TxTypeOfferSwap:
		if err = n.engine.OfferSwap(tx.Counterparty, caller); err == nil {
			ticketID, err = n.engine.TicketOf(caller)
		}
	case types.TxTypeAcceptSwap:
		if err = n.engine.AcceptSwap(tx.Counterparty, caller); err == nil {
			ticketID, err = n.engine.TicketOf(caller)
		}
	case types.TxTypeReturn:
		_, err = n.engine.ReturnTicket(tx.TicketID, caller)
	}
	if err != nil {
		return nil, err
	}
	if err := n.state.IncrementNonce(caller); err != nil {
		return nil, err
	}

	height := n.height + 1
	root, err := n.trie.Commit(height)
	if err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}
	if err := persistMetadata(n.db, root, height); err != nil {
		return nil, err
	}
	n.height = height
	n.metrics.SetHeight(height)

	receipt := &types.Receipt{
		Height:    height,
		StateRoot: root.Hex(),
		TicketID:  ticketID,
	}
	for _, evt := range n.pending.Drain() {
		payload := evt.Event()
		if payload == nil {
			continue
		}
		clone := payload.Clone()
		clone.Attributes["height"] = strconv.FormatUint(height, 10)
		receipt.Events = append(receipt.Events, clone)
		n.metrics.RecordEvent(clone.Type)
		n.emitter.Emit(committedEvent{evt: &clone})
	}
	return receipt, nil
}

// committedEvent carries a ledger event after its operation has committed.
type committedEvent struct {
	evt *types.Event
}

func (e committedEvent) EventType() string   { return e.evt.Type }
func (e committedEvent) Event() *types.Event { return e.evt }

// Pool returns the ticket pool configuration.
func (n *Node) Pool() (*tickets.Pool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Pool()
}

// Ticket returns the record of ticket id.
func (n *Node) Ticket(id uint64) (*tickets.Ticket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Ticket(id)
}

// TicketOf returns the ticket held by addr, or tickets.NoTicket.
func (n *Node) TicketOf(addr [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.TicketOf(addr)
}

// GetAccount returns the committed account of addr.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetAccount(addr)
}

// Balance is GetAccount reduced to the spendable balance.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	account, err := n.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// VaultAddress returns the account holding ticket payments.
func (n *Node) VaultAddress() [20]byte {
	return ledgerstate.TicketVaultAddress()
}

// StateRoot returns the last committed state root.
func (n *Node) StateRoot() common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trie.Root()
}

// Height returns the number of committed operations.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

func loadMetadata(db storage.Database) (common.Hash, uint64, bool, error) {
	rootBytes, err := db.Get(metaStateRootKey)
	if errors.Is(err, storage.ErrNotFound) {
		return common.Hash{}, 0, false, nil
	}
	if err != nil {
		return common.Hash{}, 0, false, fmt.Errorf("load state root: %w", err)
	}
	heightBytes, err := db.Get(metaHeightKey)
	if err != nil {
		return common.Hash{}, 0, false, fmt.Errorf("load height: %w", err)
	}
	if len(rootBytes) != common.HashLength || len(heightBytes) != 8 {
		return common.Hash{}, 0, false, fmt.Errorf("corrupt ledger metadata")
	}
	return common.BytesToHash(rootBytes), binary.BigEndian.Uint64(heightBytes), true, nil
}

func persistMetadata(db storage.Database, root common.Hash, height uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	if err := db.Put(metaHeightKey, buf[:]); err != nil {
		return fmt.Errorf("persist height: %w", err)
	}
	if err := db.Put(metaStateRootKey, root.Bytes()); err != nil {
		return fmt.Errorf("persist state root: %w", err)
	}
	return nil
}
