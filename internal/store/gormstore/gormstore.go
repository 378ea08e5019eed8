// Package gormstore persists vault state through GORM, serving both the
// Postgres and SQLite drivers of vaultd.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	defaultMetadataJSON    = "{}"
	errorOperationStore    = "store"
	errorSubjectCollection = "balance_collection"
	errorSubjectTokenType  = "token_type"
	errorSubjectJournal    = "journal"
	errorSubjectSupply     = "supply"
	errorCodeGet           = "get"
	errorCodeUpsert        = "upsert"
	errorCodeInsert        = "insert"
	errorCodeList          = "list"
	errorCodeSum           = "sum"
	errorCodeEncode        = "encode"
	errorCodeDecode        = "decode"
	errorCodeInvalid       = "invalid"
)

// Store implements vault.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the vault tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&BalanceCollection{}, &TokenType{}, &JournalEntry{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LoadRecords returns the record collection of the account and token type.
// A missing row is an empty collection.
func (store *Store) LoadRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID) ([]vault.BalanceRecord, error) {
	var model BalanceCollection
	err := store.db.WithContext(ctx).
		Where("account = ? AND token_type = ?", account.String(), tokenType.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeGet, err)
	}
	records, err := decodeRecords(model.Records)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeDecode, err)
	}
	return records, nil
}

// SaveRecords upserts the record collection of the account and token type.
func (store *Store) SaveRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, records []vault.BalanceRecord) error {
	document, err := encodeRecords(records)
	if err != nil {
		return wrapStoreError(errorSubjectCollection, errorCodeEncode, err)
	}
	model := BalanceCollection{
		Account:   account.String(),
		TokenType: tokenType.String(),
		Records:   document,
		UpdatedAt: time.Now().UTC(),
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}, {Name: "token_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"records", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectCollection, errorCodeUpsert, err)
	}
	return nil
}

// GetTokenType returns the registered configuration of a token type.
func (store *Store) GetTokenType(ctx context.Context, tokenType vault.TokenTypeID) (vault.TokenTypeConfig, error) {
	var model TokenType
	err := store.db.WithContext(ctx).
		Where("token_type = ?", tokenType.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vault.TokenTypeConfig{}, wrapStoreError(errorSubjectTokenType, errorCodeGet, vault.ErrTokenTypeNotFound)
	}
	if err != nil {
		return vault.TokenTypeConfig{}, wrapStoreError(errorSubjectTokenType, errorCodeGet, err)
	}
	return vault.TokenTypeConfig{TTLSeconds: model.TTLSeconds, MaxRecords: model.MaxRecords}, nil
}

// PutTokenType upserts the configuration of a token type.
func (store *Store) PutTokenType(ctx context.Context, tokenType vault.TokenTypeID, config vault.TokenTypeConfig) error {
	model := TokenType{
		TokenType:  tokenType.String(),
		TTLSeconds: config.TTLSeconds,
		MaxRecords: config.MaxRecords,
		UpdatedAt:  time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"ttl_seconds", "max_records", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectTokenType, errorCodeUpsert, err)
	}
	return nil
}

// AppendJournal inserts one journal entry.
func (store *Store) AppendJournal(ctx context.Context, entry vault.JournalEntry) error {
	model := JournalEntry{
		EntryID:        entry.EntryID,
		Operation:      entry.Operation.String(),
		Account:        entry.Account,
		CounterAccount: entry.CounterAccount,
		TokenType:      entry.TokenType,
		Amount:         entry.Amount.Int64(),
		ExpiresAtUnix:  entry.ExpiresAtUnix,
		Metadata:       datatypesJSON(entry.MetadataJSON),
		CreatedAt:      time.Unix(entry.CreatedUnix, 0).UTC(),
	}
	if entry.CreatedUnix == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeInsert, err)
	}
	return nil
}

// ListJournal returns entries for the account and token type, newest first.
func (store *Store) ListJournal(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, limit int) ([]vault.JournalEntry, error) {
	var rows []JournalEntry
	err := store.db.WithContext(ctx).
		Where("account = ? AND token_type = ?", account.String(), tokenType.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}

	entries := make([]vault.JournalEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapJournalEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectJournal, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SupplyTotals aggregates journaled movement for a token type.
func (store *Store) SupplyTotals(ctx context.Context, tokenType vault.TokenTypeID) (vault.SupplyTotals, error) {
	var rows []supplyRow
	err := store.db.WithContext(ctx).
		Model(&JournalEntry{}).
		Select("operation, coalesce(sum(amount),0) as total").
		Where("token_type = ?", tokenType.String()).
		Group("operation").
		Scan(&rows).Error
	if err != nil {
		return vault.SupplyTotals{}, wrapStoreError(errorSubjectSupply, errorCodeSum, err)
	}

	var totals vault.SupplyTotals
	for _, row := range rows {
		switch vault.JournalOperation(row.Operation) {
		case vault.JournalOperationCredit:
			totals.Credited = vault.Amount(row.Total)
		case vault.JournalOperationDebit:
			totals.Debited = vault.Amount(row.Total)
		case vault.JournalOperationExpire:
			totals.Expired = vault.Amount(row.Total)
		}
	}
	return totals, nil
}

// ListCollections returns every known collection key in stable order.
func (store *Store) ListCollections(ctx context.Context) ([]vault.CollectionKey, error) {
	var rows []BalanceCollection
	err := store.db.WithContext(ctx).
		Select("account", "token_type").
		Order("account ASC, token_type ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeList, err)
	}

	keys := make([]vault.CollectionKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, vault.CollectionKey{Account: row.Account, TokenType: row.TokenType})
	}
	return keys, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return vault.WrapError(errorOperationStore, subject, code, err)
}

type supplyRow struct {
	Operation string
	Total     int64
}

// recordDocument is the JSON shape of one tranche inside the records column.
type recordDocument struct {
	Amount    int64 `json:"amount"`
	ExpiresAt int64 `json:"expires_at"`
}

func encodeRecords(records []vault.BalanceRecord) (datatypes.JSON, error) {
	documents := make([]recordDocument, 0, len(records))
	for _, record := range records {
		documents = append(documents, recordDocument{
			Amount:    record.Amount.Int64(),
			ExpiresAt: record.ExpiresAtUnix,
		})
	}
	payload, err := json.Marshal(documents)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}

func decodeRecords(document datatypes.JSON) ([]vault.BalanceRecord, error) {
	if len(document) == 0 {
		return nil, nil
	}
	var documents []recordDocument
	if err := json.Unmarshal(document, &documents); err != nil {
		return nil, err
	}
	records := make([]vault.BalanceRecord, 0, len(documents))
	for _, item := range documents {
		amount, err := vault.NewAmount(item.Amount)
		if err != nil {
			return nil, err
		}
		records = append(records, vault.BalanceRecord{Amount: amount, ExpiresAtUnix: item.ExpiresAt})
	}
	return records, nil
}

func mapJournalEntry(row JournalEntry) (vault.JournalEntry, error) {
	amount, err := vault.NewAmount(row.Amount)
	if err != nil {
		return vault.JournalEntry{}, err
	}
	return vault.JournalEntry{
		EntryID:        row.EntryID,
		Operation:      vault.JournalOperation(row.Operation),
		Account:        row.Account,
		CounterAccount: row.CounterAccount,
		TokenType:      row.TokenType,
		Amount:         amount,
		ExpiresAtUnix:  row.ExpiresAtUnix,
		MetadataJSON:   string(row.Metadata),
		CreatedUnix:    row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
