// Package memstore keeps vault state in process memory. It backs the memory
// driver of vaultd and the package tests; transactions serialize on a single
// mutex and roll back by snapshot.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

// Store implements vault.Store over in-process maps.
type Store struct {
	mutex      sync.Mutex
	records    map[vault.CollectionKey][]vault.BalanceRecord
	tokenTypes map[string]vault.TokenTypeConfig
	journal    []vault.JournalEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:    make(map[vault.CollectionKey][]vault.BalanceRecord),
		tokenTypes: make(map[string]vault.TokenTypeConfig),
	}
}

// WithTx runs fn against the store under the transaction mutex. On error the
// pre-transaction snapshot is restored.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	snapshot := store.snapshotLocked()
	if err := fn(ctx, &txStore{store: store}); err != nil {
		store.restoreLocked(snapshot)
		return err
	}
	return nil
}

// LoadRecords returns a copy of the record collection.
func (store *Store) LoadRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID) ([]vault.BalanceRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.loadRecordsLocked(account, tokenType)
}

// SaveRecords replaces the record collection.
func (store *Store) SaveRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, records []vault.BalanceRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.saveRecordsLocked(account, tokenType, records)
}

// GetTokenType returns the registered configuration of a token type.
func (store *Store) GetTokenType(ctx context.Context, tokenType vault.TokenTypeID) (vault.TokenTypeConfig, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.getTokenTypeLocked(tokenType)
}

// PutTokenType upserts the configuration of a token type.
func (store *Store) PutTokenType(ctx context.Context, tokenType vault.TokenTypeID, config vault.TokenTypeConfig) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.putTokenTypeLocked(tokenType, config)
}

// AppendJournal appends one journal entry, assigning an id when absent.
func (store *Store) AppendJournal(ctx context.Context, entry vault.JournalEntry) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.appendJournalLocked(entry)
}

// ListJournal returns entries for the account and token type, newest first.
func (store *Store) ListJournal(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, limit int) ([]vault.JournalEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.listJournalLocked(account, tokenType, limit)
}

// SupplyTotals aggregates journaled movement for a token type.
func (store *Store) SupplyTotals(ctx context.Context, tokenType vault.TokenTypeID) (vault.SupplyTotals, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.supplyTotalsLocked(tokenType)
}

// ListCollections returns every known collection key in stable order.
func (store *Store) ListCollections(ctx context.Context) ([]vault.CollectionKey, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.listCollectionsLocked()
}

func (store *Store) loadRecordsLocked(account vault.AccountID, tokenType vault.TokenTypeID) ([]vault.BalanceRecord, error) {
	key := vault.CollectionKey{Account: account.String(), TokenType: tokenType.String()}
	return append([]vault.BalanceRecord(nil), store.records[key]...), nil
}

func (store *Store) saveRecordsLocked(account vault.AccountID, tokenType vault.TokenTypeID, records []vault.BalanceRecord) error {
	key := vault.CollectionKey{Account: account.String(), TokenType: tokenType.String()}
	store.records[key] = append([]vault.BalanceRecord(nil), records...)
	return nil
}

func (store *Store) getTokenTypeLocked(tokenType vault.TokenTypeID) (vault.TokenTypeConfig, error) {
	config, ok := store.tokenTypes[tokenType.String()]
	if !ok {
		return vault.TokenTypeConfig{}, vault.ErrTokenTypeNotFound
	}
	return config, nil
}

func (store *Store) putTokenTypeLocked(tokenType vault.TokenTypeID, config vault.TokenTypeConfig) error {
	store.tokenTypes[tokenType.String()] = config
	return nil
}

func (store *Store) appendJournalLocked(entry vault.JournalEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	store.journal = append(store.journal, entry)
	return nil
}

func (store *Store) listJournalLocked(account vault.AccountID, tokenType vault.TokenTypeID, limit int) ([]vault.JournalEntry, error) {
	capacity := limit
	if capacity > len(store.journal) {
		capacity = len(store.journal)
	}
	entries := make([]vault.JournalEntry, 0, capacity)
	for index := len(store.journal) - 1; index >= 0 && len(entries) < limit; index-- {
		entry := store.journal[index]
		if entry.Account != account.String() || entry.TokenType != tokenType.String() {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) supplyTotalsLocked(tokenType vault.TokenTypeID) (vault.SupplyTotals, error) {
	var totals vault.SupplyTotals
	for _, entry := range store.journal {
		if entry.TokenType != tokenType.String() {
			continue
		}
		switch entry.Operation {
		case vault.JournalOperationCredit:
			totals.Credited += entry.Amount
		case vault.JournalOperationDebit:
			totals.Debited += entry.Amount
		case vault.JournalOperationExpire:
			totals.Expired += entry.Amount
		}
	}
	return totals, nil
}

func (store *Store) listCollectionsLocked() ([]vault.CollectionKey, error) {
	keys := make([]vault.CollectionKey, 0, len(store.records))
	for key := range store.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(left int, right int) bool {
		if keys[left].Account != keys[right].Account {
			return keys[left].Account < keys[right].Account
		}
		return keys[left].TokenType < keys[right].TokenType
	})
	return keys, nil
}

type storeSnapshot struct {
	records    map[vault.CollectionKey][]vault.BalanceRecord
	tokenTypes map[string]vault.TokenTypeConfig
	journalLen int
}

func (store *Store) snapshotLocked() storeSnapshot {
	records := make(map[vault.CollectionKey][]vault.BalanceRecord, len(store.records))
	for key, collection := range store.records {
		records[key] = append([]vault.BalanceRecord(nil), collection...)
	}
	tokenTypes := make(map[string]vault.TokenTypeConfig, len(store.tokenTypes))
	for key, config := range store.tokenTypes {
		tokenTypes[key] = config
	}
	return storeSnapshot{
		records:    records,
		tokenTypes: tokenTypes,
		journalLen: len(store.journal),
	}
}

func (store *Store) restoreLocked(snapshot storeSnapshot) {
	store.records = snapshot.records
	store.tokenTypes = snapshot.tokenTypes
	store.journal = store.journal[:snapshot.journalLen]
}

// txStore exposes the open transaction as a vault.Store. The parent holds
// the mutex for the whole transaction, so methods touch state directly.
type txStore struct {
	store *Store
}

// WithTx flattens nested transactions into the open one.
func (tx *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	return fn(ctx, tx)
}

func (tx *txStore) LoadRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID) ([]vault.BalanceRecord, error) {
	return tx.store.loadRecordsLocked(account, tokenType)
}

func (tx *txStore) SaveRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, records []vault.BalanceRecord) error {
	return tx.store.saveRecordsLocked(account, tokenType, records)
}

func (tx *txStore) GetTokenType(ctx context.Context, tokenType vault.TokenTypeID) (vault.TokenTypeConfig, error) {
	return tx.store.getTokenTypeLocked(tokenType)
}

func (tx *txStore) PutTokenType(ctx context.Context, tokenType vault.TokenTypeID, config vault.TokenTypeConfig) error {
	return tx.store.putTokenTypeLocked(tokenType, config)
}

func (tx *txStore) AppendJournal(ctx context.Context, entry vault.JournalEntry) error {
	return tx.store.appendJournalLocked(entry)
}

func (tx *txStore) ListJournal(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, limit int) ([]vault.JournalEntry, error) {
	return tx.store.listJournalLocked(account, tokenType, limit)
}

func (tx *txStore) SupplyTotals(ctx context.Context, tokenType vault.TokenTypeID) (vault.SupplyTotals, error) {
	return tx.store.supplyTotalsLocked(tokenType)
}

func (tx *txStore) ListCollections(ctx context.Context) ([]vault.CollectionKey, error) {
	return tx.store.listCollectionsLocked()
}
