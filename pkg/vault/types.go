package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Amount is a non-negative quantity of token units.
type Amount int64

// AccountID identifies a balance holder.
type AccountID struct {
	value string
}

// TokenTypeID identifies a token type.
type TokenTypeID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewAmount validates a raw amount and rejects negatives.
func NewAmount(raw int64) (Amount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw amount value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewTokenTypeID validates and normalizes a token type id.
func NewTokenTypeID(raw string) (TokenTypeID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TokenTypeID{}, fmt.Errorf("%w: empty value", ErrInvalidTokenTypeID)
	}
	return TokenTypeID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TokenTypeID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = emptyMetadataValue
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// BalanceRecord is one expiring tranche of a balance. A zero amount marks
// an empty slot that pruning reclaims.
type BalanceRecord struct {
	Amount        Amount
	ExpiresAtUnix int64
}

// IsEmpty reports whether the slot holds no value.
func (record BalanceRecord) IsEmpty() bool {
	return record.Amount == 0
}

// Expired reports whether the record stopped counting at nowUnix.
func (record BalanceRecord) Expired(nowUnix int64) bool {
	return record.ExpiresAtUnix <= nowUnix
}

// TokenTypeConfig carries the registered TTL and record capacity of a token type.
// A zero TTL mints permanent tokens; a zero MaxRecords falls back to the
// service-wide capacity.
type TokenTypeConfig struct {
	TTLSeconds int64
	MaxRecords int
}

// Validate checks the configuration bounds.
func (config TokenTypeConfig) Validate() error {
	if config.TTLSeconds < 0 {
		return fmt.Errorf("%w: ttl seconds must not be negative", ErrInvalidTokenTypeConfig)
	}
	if config.MaxRecords < 0 {
		return fmt.Errorf("%w: max records must not be negative", ErrInvalidTokenTypeConfig)
	}
	return nil
}

// CompactionPolicy controls when pruning releases slack capacity.
type CompactionPolicy struct {
	ShrinkFactor    int
	ShrinkMinLength int
}

// JournalOperation enumerates journal entry kinds.
type JournalOperation string

const (
	JournalOperationCredit            JournalOperation = "credit"
	JournalOperationDebit             JournalOperation = "debit"
	JournalOperationTransfer          JournalOperation = "transfer"
	JournalOperationExpire            JournalOperation = "expire"
	JournalOperationRegisterTokenType JournalOperation = "register_token_type"
)

// String returns the journal operation name.
func (operation JournalOperation) String() string {
	return string(operation)
}

// A single immutable line in the journal.
type JournalEntry struct {
	EntryID        string
	Operation      JournalOperation
	Account        string
	CounterAccount string
	TokenType      string
	Amount         Amount
	ExpiresAtUnix  int64
	MetadataJSON   string
	CreatedUnix    int64
}

// SupplyTotals aggregates journaled movement for a token type.
type SupplyTotals struct {
	Credited Amount
	Debited  Amount
	Expired  Amount
}

// Circulating returns credited minus debited minus expired.
func (totals SupplyTotals) Circulating() (Amount, error) {
	afterDebits, err := subInt64(totals.Credited.Int64(), totals.Debited.Int64())
	if err != nil {
		return 0, err
	}
	circulating, err := subInt64(afterDebits, totals.Expired.Int64())
	if err != nil {
		return 0, err
	}
	return NewAmount(circulating)
}

// CollectionKey addresses one record collection.
type CollectionKey struct {
	Account   string
	TokenType string
}

// ExpiryEvent describes expired value discovered by pruning.
type ExpiryEvent struct {
	Account      string
	TokenType    string
	Amount       Amount
	PrunedAtUnix int64
}

// Store is the persistence contract used by Service.
// (memstore, gormstore and pgstore implement this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LoadRecords(ctx context.Context, account AccountID, tokenType TokenTypeID) ([]BalanceRecord, error)
	SaveRecords(ctx context.Context, account AccountID, tokenType TokenTypeID, records []BalanceRecord) error
	GetTokenType(ctx context.Context, tokenType TokenTypeID) (TokenTypeConfig, error)
	PutTokenType(ctx context.Context, tokenType TokenTypeID, config TokenTypeConfig) error
	AppendJournal(ctx context.Context, entry JournalEntry) error
	ListJournal(ctx context.Context, account AccountID, tokenType TokenTypeID, limit int) ([]JournalEntry, error)
	SupplyTotals(ctx context.Context, tokenType TokenTypeID) (SupplyTotals, error)
	ListCollections(ctx context.Context) ([]CollectionKey, error)
}
