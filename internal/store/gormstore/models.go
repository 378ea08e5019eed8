package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BalanceCollection mirrors the balance_collections table. Records holds the
// packed expiry-ordered tranches of one account and token type.
type BalanceCollection struct {
	Account   string         `gorm:"primaryKey"`
	TokenType string         `gorm:"primaryKey"`
	Records   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (BalanceCollection) TableName() string { return "balance_collections" }

// TokenType mirrors the token_types table.
type TokenType struct {
	TokenType  string    `gorm:"primaryKey"`
	TTLSeconds int64     `gorm:"not null"`
	MaxRecords int       `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (TokenType) TableName() string { return "token_types" }

// JournalEntry mirrors the journal_entries table.
type JournalEntry struct {
	EntryID        string         `gorm:"type:uuid;primaryKey"`
	Operation      string         `gorm:"not null;index:idx_journal_type_operation,priority:2"`
	Account        string         `gorm:"not null;index:idx_journal_account_created,priority:1"`
	CounterAccount string         `gorm:""`
	TokenType      string         `gorm:"not null;index:idx_journal_type_operation,priority:1;index:idx_journal_account_created,priority:2"`
	Amount         int64          `gorm:"not null"`
	ExpiresAtUnix  int64          `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_journal_account_created,priority:3"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

func (entry *JournalEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
