package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketsale/core/events"
	"ticketsale/core/types"
)

const (
	// DefaultHistoryLimit applies when History is called without a limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single History page.
	MaxHistoryLimit = 500
)

// Store persists committed ledger events and serves ticket history.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeen uint64
	sequence int
}

// Open connects to dsn and migrates the schema. DSNs starting with
// postgres:// or postgresql:// use PostgreSQL; anything else is handed to
// sqlite.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: nil database")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, logger: log, now: time.Now}, nil
}

// Emit implements events.Emitter. Persistence failures are logged; the
// ledger state is authoritative and never waits on the index.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	if err := s.Record(context.Background(), payload); err != nil {
		s.logger.Warn("indexer: record event failed",
			slog.String("type", payload.Type),
			slog.Any("error", err))
	}
}

// Record stores a single committed event. The event must carry a height
// attribute.
func (s *Store) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return errors.New("indexer: nil event")
	}
	height, err := parseUint(evt.Attributes["height"])
	if err != nil {
		return fmt.Errorf("indexer: height: %w", err)
	}
	ticketID, err := parseUint(evt.Attributes["ticketId"])
	if err != nil {
		return fmt.Errorf("indexer: ticketId: %w", err)
	}
	var partnerTicket uint64
	if raw, ok := evt.Attributes["partnerTicketId"]; ok {
		if partnerTicket, err = parseUint(raw); err != nil {
			return fmt.Errorf("indexer: partnerTicketId: %w", err)
		}
	}

	row := TicketEvent{
		ID:              uuid.New(),
		Height:          height,
		Sequence:        s.nextSequence(height),
		Type:            evt.Type,
		TicketID:        ticketID,
		PartnerTicketID: partnerTicket,
		Actor:           evt.Attributes["owner"],
		Counterparty:    evt.Attributes["partner"],
		Amount:          evt.Attributes["amount"],
		CreatedAt:       s.now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) nextSequence(height uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height != s.lastSeen {
		s.lastSeen = height
		s.sequence = 0
	}
	s.sequence++
	return s.sequence
}

// ErrTicketIDRequired is returned by History for ticket id 0, which would
// otherwise match every non-swap row through the partner column.
var ErrTicketIDRequired = errors.New("indexer: ticket id must be positive")

// History returns the events touching ticketID, most recent first.
func (s *Store) History(ctx context.Context, ticketID uint64, limit int) ([]TicketEvent, error) {
	if ticketID == 0 {
		return nil, ErrTicketIDRequired
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	var rows []TicketEvent
	err := s.db.WithContext(ctx).
		Where("ticket_id = ? OR partner_ticket_id = ?", ticketID, ticketID).
		Order("height DESC").
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: history: %w", err)
	}
	return rows, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func parseUint(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing value")
	}
	return strconv.ParseUint(raw, 10, 64)
}
