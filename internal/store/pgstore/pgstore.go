// Package pgstore persists vault state through a pgx connection pool. It
// targets Postgres directly and locks collection rows for update inside
// transactions.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	errorOperationStore    = "store"
	errorSubjectCollection = "balance_collection"
	errorSubjectTokenType  = "token_type"
	errorSubjectJournal    = "journal"
	errorSubjectSupply     = "supply"
	errorSubjectTx         = "transaction"
	errorCodeBegin         = "begin"
	errorCodeCommit        = "commit"
	errorCodeGet           = "get"
	errorCodeUpsert        = "upsert"
	errorCodeInsert        = "insert"
	errorCodeList          = "list"
	errorCodeSum           = "sum"
	errorCodeEncode        = "encode"
	errorCodeDecode        = "decode"

	sqlSelectRecords = `
		select records from balance_collections
		where account = $1 and token_type = $2
		for update
	`

	sqlUpsertRecords = `
		insert into balance_collections(account, token_type, records, updated_at)
		values($1, $2, $3::jsonb, now())
		on conflict (account, token_type) do update set records = excluded.records, updated_at = now()
	`

	sqlSelectTokenType = `
		select ttl_seconds, max_records from token_types
		where token_type = $1
	`

	sqlUpsertTokenType = `
		insert into token_types(token_type, ttl_seconds, max_records, updated_at)
		values($1, $2, $3, now())
		on conflict (token_type) do update set ttl_seconds = excluded.ttl_seconds, max_records = excluded.max_records, updated_at = now()
	`

	sqlInsertJournalEntry = `
		insert into journal_entries(
			entry_id, operation, account, counter_account, token_type, amount, expires_at_unix, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4, $5, $6,
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8)
		)
	`

	sqlListJournal = `
		select
			entry_id::text,
			operation,
			account,
			counter_account,
			token_type,
			amount,
			expires_at_unix,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from journal_entries
		where account = $1 and token_type = $2
		order by created_at desc
		limit $3
	`

	sqlSupplyTotals = `
		select
			coalesce(sum(amount) filter (where operation = 'credit'),0),
			coalesce(sum(amount) filter (where operation = 'debit'),0),
			coalesce(sum(amount) filter (where operation = 'expire'),0)
		from journal_entries
		where token_type = $1
	`

	sqlListCollections = `
		select account, token_type from balance_collections
		order by account asc, token_type asc
	`
)

// Store implements vault.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements vault.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LoadRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID) ([]vault.BalanceRecord, error) {
	var payload []byte
	err := store.pool.QueryRow(ctx, sqlSelectRecords, account.String(), tokenType.String()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeGet, err)
	}
	records, err := decodeRecords(payload)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeDecode, err)
	}
	return records, nil
}

func (store *Store) SaveRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, records []vault.BalanceRecord) error {
	payload, err := encodeRecords(records)
	if err != nil {
		return wrapStoreError(errorSubjectCollection, errorCodeEncode, err)
	}
	if _, err := store.pool.Exec(ctx, sqlUpsertRecords, account.String(), tokenType.String(), payload); err != nil {
		return wrapStoreError(errorSubjectCollection, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetTokenType(ctx context.Context, tokenType vault.TokenTypeID) (vault.TokenTypeConfig, error) {
	var config vault.TokenTypeConfig
	err := store.pool.QueryRow(ctx, sqlSelectTokenType, tokenType.String()).Scan(&config.TTLSeconds, &config.MaxRecords)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.TokenTypeConfig{}, wrapStoreError(errorSubjectTokenType, errorCodeGet, vault.ErrTokenTypeNotFound)
	}
	if err != nil {
		return vault.TokenTypeConfig{}, wrapStoreError(errorSubjectTokenType, errorCodeGet, err)
	}
	return config, nil
}

func (store *Store) PutTokenType(ctx context.Context, tokenType vault.TokenTypeID, config vault.TokenTypeConfig) error {
	if _, err := store.pool.Exec(ctx, sqlUpsertTokenType, tokenType.String(), config.TTLSeconds, config.MaxRecords); err != nil {
		return wrapStoreError(errorSubjectTokenType, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) AppendJournal(ctx context.Context, entry vault.JournalEntry) error {
	_, err := store.pool.Exec(ctx, sqlInsertJournalEntry,
		entry.Operation.String(),
		entry.Account,
		entry.CounterAccount,
		entry.TokenType,
		entry.Amount.Int64(),
		entry.ExpiresAtUnix,
		entry.MetadataJSON,
		entry.CreatedUnix,
	)
	if err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListJournal(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, limit int) ([]vault.JournalEntry, error) {
	rows, err := store.pool.Query(ctx, sqlListJournal, account.String(), tokenType.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanJournalEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) SupplyTotals(ctx context.Context, tokenType vault.TokenTypeID) (vault.SupplyTotals, error) {
	return scanSupplyTotals(store.pool.QueryRow(ctx, sqlSupplyTotals, tokenType.String()))
}

func (store *Store) ListCollections(ctx context.Context) ([]vault.CollectionKey, error) {
	rows, err := store.pool.Query(ctx, sqlListCollections)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeList, err)
	}
	defer rows.Close()
	keys, err := scanCollectionKeys(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeList, err)
	}
	return keys, nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) LoadRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID) ([]vault.BalanceRecord, error) {
	var payload []byte
	err := store.tx.QueryRow(ctx, sqlSelectRecords, account.String(), tokenType.String()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeGet, err)
	}
	records, err := decodeRecords(payload)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeDecode, err)
	}
	return records, nil
}

func (store *TxStore) SaveRecords(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, records []vault.BalanceRecord) error {
	payload, err := encodeRecords(records)
	if err != nil {
		return wrapStoreError(errorSubjectCollection, errorCodeEncode, err)
	}
	if _, err := store.tx.Exec(ctx, sqlUpsertRecords, account.String(), tokenType.String(), payload); err != nil {
		return wrapStoreError(errorSubjectCollection, errorCodeUpsert, err)
	}
	return nil
}

func (store *TxStore) GetTokenType(ctx context.Context, tokenType vault.TokenTypeID) (vault.TokenTypeConfig, error) {
	var config vault.TokenTypeConfig
	err := store.tx.QueryRow(ctx, sqlSelectTokenType, tokenType.String()).Scan(&config.TTLSeconds, &config.MaxRecords)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.TokenTypeConfig{}, wrapStoreError(errorSubjectTokenType, errorCodeGet, vault.ErrTokenTypeNotFound)
	}
	if err != nil {
		return vault.TokenTypeConfig{}, wrapStoreError(errorSubjectTokenType, errorCodeGet, err)
	}
	return config, nil
}

func (store *TxStore) PutTokenType(ctx context.Context, tokenType vault.TokenTypeID, config vault.TokenTypeConfig) error {
	if _, err := store.tx.Exec(ctx, sqlUpsertTokenType, tokenType.String(), config.TTLSeconds, config.MaxRecords); err != nil {
		return wrapStoreError(errorSubjectTokenType, errorCodeUpsert, err)
	}
	return nil
}

func (store *TxStore) AppendJournal(ctx context.Context, entry vault.JournalEntry) error {
	_, err := store.tx.Exec(ctx, sqlInsertJournalEntry,
		entry.Operation.String(),
		entry.Account,
		entry.CounterAccount,
		entry.TokenType,
		entry.Amount.Int64(),
		entry.ExpiresAtUnix,
		entry.MetadataJSON,
		entry.CreatedUnix,
	)
	if err != nil {
		return wrapStoreError(errorSubjectJournal, errorCodeInsert, err)
	}
	return nil
}

func (store *TxStore) ListJournal(ctx context.Context, account vault.AccountID, tokenType vault.TokenTypeID, limit int) ([]vault.JournalEntry, error) {
	rows, err := store.tx.Query(ctx, sqlListJournal, account.String(), tokenType.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanJournalEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	return entries, nil
}

func (store *TxStore) SupplyTotals(ctx context.Context, tokenType vault.TokenTypeID) (vault.SupplyTotals, error) {
	return scanSupplyTotals(store.tx.QueryRow(ctx, sqlSupplyTotals, tokenType.String()))
}

func (store *TxStore) ListCollections(ctx context.Context) ([]vault.CollectionKey, error) {
	rows, err := store.tx.Query(ctx, sqlListCollections)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeList, err)
	}
	defer rows.Close()
	keys, err := scanCollectionKeys(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCollection, errorCodeList, err)
	}
	return keys, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return vault.WrapError(errorOperationStore, subject, code, err)
}

// recordDocument is the JSON shape of one tranche inside the records column.
type recordDocument struct {
	Amount    int64 `json:"amount"`
	ExpiresAt int64 `json:"expires_at"`
}

func encodeRecords(records []vault.BalanceRecord) ([]byte, error) {
	documents := make([]recordDocument, 0, len(records))
	for _, record := range records {
		documents = append(documents, recordDocument{
			Amount:    record.Amount.Int64(),
			ExpiresAt: record.ExpiresAtUnix,
		})
	}
	return json.Marshal(documents)
}

func decodeRecords(payload []byte) ([]vault.BalanceRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var documents []recordDocument
	if err := json.Unmarshal(payload, &documents); err != nil {
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

func scanJournalEntries(rows pgx.Rows) ([]vault.JournalEntry, error) {
	var entries []vault.JournalEntry
	for rows.Next() {
		var (
			entry     vault.JournalEntry
			operation string
			amount    int64
		)
		if err := rows.Scan(
			&entry.EntryID,
			&operation,
			&entry.Account,
			&entry.CounterAccount,
			&entry.TokenType,
			&amount,
			&entry.ExpiresAtUnix,
			&entry.MetadataJSON,
			&entry.CreatedUnix,
		); err != nil {
			return nil, err
		}
		parsedAmount, err := vault.NewAmount(amount)
		if err != nil {
			return nil, err
		}
		entry.Operation = vault.JournalOperation(operation)
		entry.Amount = parsedAmount
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanSupplyTotals(row pgx.Row) (vault.SupplyTotals, error) {
	var credited, debited, expired int64
	if err := row.Scan(&credited, &debited, &expired); err != nil {
		return vault.SupplyTotals{}, wrapStoreError(errorSubjectSupply, errorCodeSum, err)
	}
	return vault.SupplyTotals{
		Credited: vault.Amount(credited),
		Debited:  vault.Amount(debited),
		Expired:  vault.Amount(expired),
	}, nil
}

func scanCollectionKeys(rows pgx.Rows) ([]vault.CollectionKey, error) {
	keys := make([]vault.CollectionKey, 0)
	for rows.Next() {
		var key vault.CollectionKey
		if err := rows.Scan(&key.Account, &key.TokenType); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
