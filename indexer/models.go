package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketEvent is one committed ledger event. Swaps touch two tickets; the
// second one is stored in PartnerTicketID.
type TicketEvent struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Height          uint64    `gorm:"index" json:"height"`
	Sequence        int       `json:"sequence"`
	Type            string    `gorm:"index" json:"type"`
	TicketID        uint64    `gorm:"index" json:"ticketId"`
	PartnerTicketID uint64    `gorm:"index" json:"partnerTicketId,omitempty"`
	Actor           string    `gorm:"index" json:"actor"`
	Counterparty    string    `json:"counterparty,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&TicketEvent{})
}
