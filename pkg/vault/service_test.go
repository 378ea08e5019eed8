package vault

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

const (
	accountValue         = "acct-1"
	counterAccountValue  = "acct-2"
	tokenTypeValue       = "tok-gold"
	metadataValue        = "{\"source\":\"test\"}"
	errorMismatchMessage = "expected %v, got %v"

	tenYearsSeconds = int64(10 * 365 * 24 * 3600)
)

func TestCreditThenBalanceRoundTrip(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 1_000}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 100), 3600, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	balance, err := service.BalanceOf(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		test.Fatalf("expected balance 100, got %d", balance)
	}

	records := mustRecords(test, service, account, tokenType)
	if len(records) != 1 {
		test.Fatalf("expected one record, got %d", len(records))
	}
	// ttl 3600 over 100 buckets of 36s: ceil(4600/36)*36.
	if records[0].ExpiresAtUnix != 4608 {
		test.Fatalf("expected bucketed expiry 4608, got %d", records[0].ExpiresAtUnix)
	}

	clock.nowUnix = records[0].ExpiresAtUnix
	balance, err = service.BalanceOf(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("balance after expiry: %v", err)
	}
	if balance != 0 {
		test.Fatalf("expected expired balance 0, got %d", balance)
	}

	pruned, err := service.Prune(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("prune: %v", err)
	}
	if pruned != 100 {
		test.Fatalf("expected pruned 100, got %d", pruned)
	}
	if got := len(mustRecords(test, service, account, tokenType)); got != 0 {
		test.Fatalf("expected empty collection after prune, got %d records", got)
	}
}

func TestDebitConsumesOldestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 100}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	// ttl 50 over 100 buckets collapses to exact-second expiries.
	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 10), 50, metadata); err != nil {
		test.Fatalf("credit 10: %v", err)
	}
	clock.nowUnix = 110
	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 20), 50, metadata); err != nil {
		test.Fatalf("credit 20: %v", err)
	}
	clock.nowUnix = 120
	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 30), 50, metadata); err != nil {
		test.Fatalf("credit 30: %v", err)
	}

	if err := service.Debit(context.Background(), account, tokenType, mustAmount(test, 25), metadata); err != nil {
		test.Fatalf("debit: %v", err)
	}

	records := mustRecords(test, service, account, tokenType)
	if len(records) != 3 {
		test.Fatalf("expected 3 slots, got %d", len(records))
	}
	if !records[0].IsEmpty() {
		test.Fatalf("expected oldest record fully consumed, got %+v", records[0])
	}
	if records[1].Amount != 5 || records[1].ExpiresAtUnix != 160 {
		test.Fatalf("expected partial record {5 160}, got %+v", records[1])
	}
	if records[2].Amount != 30 || records[2].ExpiresAtUnix != 170 {
		test.Fatalf("expected untouched record {30 170}, got %+v", records[2])
	}
	balance, err := service.BalanceOf(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 35 {
		test.Fatalf("expected balance 35, got %d", balance)
	}
}

func TestCreditMergesSameBucket(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 1_000}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 40), 3600, metadata); err != nil {
		test.Fatalf("first credit: %v", err)
	}
	clock.nowUnix = 1_001
	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 60), 3600, metadata); err != nil {
		test.Fatalf("second credit: %v", err)
	}

	records := mustRecords(test, service, account, tokenType)
	if len(records) != 1 {
		test.Fatalf("expected merged single record, got %d", len(records))
	}
	if records[0].Amount != 100 {
		test.Fatalf("expected merged amount 100, got %d", records[0].Amount)
	}
	if len(store.journal) != 2 {
		test.Fatalf("expected 2 journal entries, got %d", len(store.journal))
	}
}

func TestCreditRejectsZeroAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustService(test, store, &stubClock{nowUnix: 10})
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)

	err := service.Credit(context.Background(), account, tokenType, Amount(0), 3600, mustMetadata(test, metadataValue))
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf(errorMismatchMessage, ErrInvalidAmount, err)
	}
	if store.saveCalls != 0 {
		test.Fatalf("expected no saves, got %d", store.saveCalls)
	}
	if len(store.journal) != 0 {
		test.Fatalf("expected empty journal, got %d entries", len(store.journal))
	}
}

func TestCreditRejectsNegativeTTL(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustService(test, store, &stubClock{nowUnix: 10})
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)

	err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 5), -1, mustMetadata(test, metadataValue))
	if !errors.Is(err, ErrInvalidTTL) {
		test.Fatalf(errorMismatchMessage, ErrInvalidTTL, err)
	}
}

func TestDebitZeroAmountIsNoOp(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 10}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)

	if err := service.Debit(context.Background(), account, tokenType, Amount(0), mustMetadata(test, metadataValue)); err != nil {
		test.Fatalf("zero debit: %v", err)
	}
	if store.saveCalls != 0 {
		test.Fatalf("expected no saves, got %d", store.saveCalls)
	}
}

func TestDebitRejectsNegativeAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustService(test, store, &stubClock{nowUnix: 10})
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)

	err := service.Debit(context.Background(), account, tokenType, Amount(-5), mustMetadata(test, metadataValue))
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf(errorMismatchMessage, ErrInvalidAmount, err)
	}
}

func TestDebitInsufficientLeavesBalanceUnchanged(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 0}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 50), 3600, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}

	err := service.Debit(context.Background(), account, tokenType, mustAmount(test, 100), metadata)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf(errorMismatchMessage, ErrInsufficientBalance, err)
	}
	var insufficientError InsufficientBalanceError
	if !errors.As(err, &insufficientError) {
		test.Fatalf("expected InsufficientBalanceError, got %T", err)
	}
	if insufficientError.Account() != accountValue || insufficientError.TokenType() != tokenTypeValue {
		test.Fatalf("unexpected error subject: %+v", insufficientError)
	}
	if insufficientError.Available() != 50 || insufficientError.Requested() != 100 {
		test.Fatalf("expected available 50 requested 100, got %d and %d", insufficientError.Available(), insufficientError.Requested())
	}

	balance, balanceErr := service.BalanceOf(context.Background(), account, tokenType)
	if balanceErr != nil {
		test.Fatalf("balance: %v", balanceErr)
	}
	if balance != 50 {
		test.Fatalf("expected unchanged balance 50, got %d", balance)
	}
}

func TestMovePreservesExpiry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 500}
	service := mustService(test, store, clock)
	source := mustAccountID(test, accountValue)
	destination := mustAccountID(test, counterAccountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), source, tokenType, mustAmount(test, 50), 100, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if err := service.Move(context.Background(), source, destination, tokenType, mustAmount(test, 30), metadata); err != nil {
		test.Fatalf("move: %v", err)
	}

	sourceRecords := mustRecords(test, service, source, tokenType)
	destinationRecords := mustRecords(test, service, destination, tokenType)
	if len(sourceRecords) != 1 || len(destinationRecords) != 1 {
		test.Fatalf("expected single records, got %d and %d", len(sourceRecords), len(destinationRecords))
	}
	if sourceRecords[0].Amount != 20 || destinationRecords[0].Amount != 30 {
		test.Fatalf("expected amounts 20 and 30, got %d and %d", sourceRecords[0].Amount, destinationRecords[0].Amount)
	}
	if sourceRecords[0].ExpiresAtUnix != destinationRecords[0].ExpiresAtUnix {
		test.Fatalf("expected identical expiries, got %d and %d", sourceRecords[0].ExpiresAtUnix, destinationRecords[0].ExpiresAtUnix)
	}
}

func TestMoveInsufficientLeavesBothSidesUnchanged(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 500}
	service := mustService(test, store, clock)
	source := mustAccountID(test, accountValue)
	destination := mustAccountID(test, counterAccountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), source, tokenType, mustAmount(test, 30), 100, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}

	err := service.Move(context.Background(), source, destination, tokenType, mustAmount(test, 50), metadata)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf(errorMismatchMessage, ErrInsufficientBalance, err)
	}

	sourceBalance, balanceErr := service.BalanceOf(context.Background(), source, tokenType)
	if balanceErr != nil {
		test.Fatalf("source balance: %v", balanceErr)
	}
	destinationBalance, balanceErr := service.BalanceOf(context.Background(), destination, tokenType)
	if balanceErr != nil {
		test.Fatalf("destination balance: %v", balanceErr)
	}
	if sourceBalance != 30 || destinationBalance != 0 {
		test.Fatalf("expected balances 30 and 0, got %d and %d", sourceBalance, destinationBalance)
	}
}

func TestMoveNoOps(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 500}
	service := mustService(test, store, clock)
	source := mustAccountID(test, accountValue)
	destination := mustAccountID(test, counterAccountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Move(context.Background(), source, source, tokenType, mustAmount(test, 10), metadata); err != nil {
		test.Fatalf("self transfer: %v", err)
	}
	if err := service.Move(context.Background(), source, destination, tokenType, Amount(0), metadata); err != nil {
		test.Fatalf("zero transfer: %v", err)
	}
	if store.saveCalls != 0 {
		test.Fatalf("expected no saves, got %d", store.saveCalls)
	}
	if len(store.journal) != 0 {
		test.Fatalf("expected empty journal, got %d entries", len(store.journal))
	}
}

func TestPermanentTokenNeverExpires(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 1_000}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 500), 0, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	records := mustRecords(test, service, account, tokenType)
	if len(records) != 1 || records[0].ExpiresAtUnix != NeverExpiresUnix {
		test.Fatalf("expected sentinel expiry, got %+v", records)
	}

	clock.nowUnix += tenYearsSeconds
	balance, err := service.BalanceOf(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		test.Fatalf("expected permanent balance 500, got %d", balance)
	}
	pruned, err := service.Prune(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("prune: %v", err)
	}
	if pruned != 0 {
		test.Fatalf("expected nothing pruned, got %d", pruned)
	}
}

func TestPruneIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 100}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 10), 50, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	clock.nowUnix = 130
	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 20), 50, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	clock.nowUnix = 155

	if _, err := service.Prune(context.Background(), account, tokenType); err != nil {
		test.Fatalf("first prune: %v", err)
	}
	snapshot := mustRecords(test, service, account, tokenType)

	pruned, err := service.Prune(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("second prune: %v", err)
	}
	if pruned != 0 {
		test.Fatalf("expected second prune to find nothing, got %d", pruned)
	}
	if !reflect.DeepEqual(snapshot, mustRecords(test, service, account, tokenType)) {
		test.Fatalf("expected prune to be idempotent")
	}
}

func TestRecordsStayBoundedUnderChurn(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 0}
	service := mustService(test, store, clock, WithMaxRecords(5))
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	var credited int64
	for tick := int64(0); tick < 100; tick += 3 {
		clock.nowUnix = tick
		if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 10), 50, metadata); err != nil {
			test.Fatalf("credit at %d: %v", tick, err)
		}
		credited += 10
	}
	if _, err := service.Prune(context.Background(), account, tokenType); err != nil {
		test.Fatalf("prune: %v", err)
	}

	records := mustRecords(test, service, account, tokenType)
	if len(records) > 6 {
		test.Fatalf("expected at most maxRecords+1 slots, got %d", len(records))
	}

	balance, err := service.BalanceOf(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	supply, err := service.SupplyOf(context.Background(), tokenType)
	if err != nil {
		test.Fatalf("supply: %v", err)
	}
	if supply.Credited.Int64() != credited {
		test.Fatalf("expected credited %d, got %d", credited, supply.Credited)
	}
	if balance.Int64()+supply.Expired.Int64() != credited {
		test.Fatalf("conservation broken: balance %d + expired %d != credited %d", balance, supply.Expired, credited)
	}
}

func TestRegisterTokenTypeAndCreditType(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 200}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)
	config := TokenTypeConfig{TTLSeconds: 100, MaxRecords: 4}

	if err := service.RegisterTokenType(context.Background(), tokenType, config, metadata); err != nil {
		test.Fatalf("register: %v", err)
	}
	stored, err := service.TokenTypeOf(context.Background(), tokenType)
	if err != nil {
		test.Fatalf("token type of: %v", err)
	}
	if stored != config {
		test.Fatalf("expected config %+v, got %+v", config, stored)
	}

	if err := service.CreditType(context.Background(), account, tokenType, mustAmount(test, 40), metadata); err != nil {
		test.Fatalf("credit type: %v", err)
	}
	records := mustRecords(test, service, account, tokenType)
	// ttl 100 over 4 buckets of 25s: ceil(300/25)*25.
	if len(records) != 1 || records[0].ExpiresAtUnix != 300 {
		test.Fatalf("expected registered bucketing, got %+v", records)
	}
}

func TestCreditUsesRegisteredCapacity(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 203}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.RegisterTokenType(context.Background(), tokenType, TokenTypeConfig{TTLSeconds: 100, MaxRecords: 4}, metadata); err != nil {
		test.Fatalf("register: %v", err)
	}
	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 10), 100, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	records := mustRecords(test, service, account, tokenType)
	// Capacity 4 widens buckets to 25s: ceil(303/25)*25.
	if len(records) != 1 || records[0].ExpiresAtUnix != 325 {
		test.Fatalf("expected capacity override bucketing, got %+v", records)
	}
}

func TestCreditTypeUnknownTokenType(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustService(test, store, &stubClock{nowUnix: 10})
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)

	err := service.CreditType(context.Background(), account, tokenType, mustAmount(test, 10), mustMetadata(test, metadataValue))
	if !errors.Is(err, ErrTokenTypeNotFound) {
		test.Fatalf(errorMismatchMessage, ErrTokenTypeNotFound, err)
	}
}

func TestSupplyTotalsTrackJournal(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 100}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 100), 50, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if err := service.Debit(context.Background(), account, tokenType, mustAmount(test, 30), metadata); err != nil {
		test.Fatalf("debit: %v", err)
	}
	clock.nowUnix = 200
	if _, err := service.Prune(context.Background(), account, tokenType); err != nil {
		test.Fatalf("prune: %v", err)
	}

	supply, err := service.SupplyOf(context.Background(), tokenType)
	if err != nil {
		test.Fatalf("supply: %v", err)
	}
	expected := SupplyTotals{Credited: 100, Debited: 30, Expired: 70}
	if supply != expected {
		test.Fatalf("expected totals %+v, got %+v", expected, supply)
	}
	circulating, err := supply.Circulating()
	if err != nil {
		test.Fatalf("circulating: %v", err)
	}
	if circulating != 0 {
		test.Fatalf("expected zero circulating, got %d", circulating)
	}
}

func TestJournalListsNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &stubClock{nowUnix: 100}
	service := mustService(test, store, clock)
	account := mustAccountID(test, accountValue)
	tokenType := mustTokenTypeID(test, tokenTypeValue)
	metadata := mustMetadata(test, metadataValue)

	if err := service.Credit(context.Background(), account, tokenType, mustAmount(test, 100), 50, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	clock.nowUnix = 110
	if err := service.Debit(context.Background(), account, tokenType, mustAmount(test, 30), metadata); err != nil {
		test.Fatalf("debit: %v", err)
	}

	entries, err := service.Journal(context.Background(), account, tokenType, 10)
	if err != nil {
		test.Fatalf("journal: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != JournalOperationDebit || entries[1].Operation != JournalOperationCredit {
		test.Fatalf("expected newest first, got %+v", entries)
	}

	limited, err := service.Journal(context.Background(), account, tokenType, 1)
	if err != nil {
		test.Fatalf("limited journal: %v", err)
	}
	if len(limited) != 1 {
		test.Fatalf("expected 1 entry, got %d", len(limited))
	}
}

type stubClock struct {
	nowUnix int64
}

func (clock *stubClock) now() int64 {
	return clock.nowUnix
}

type stubStore struct {
	records              map[CollectionKey][]BalanceRecord
	tokenTypes           map[string]TokenTypeConfig
	journal              []JournalEntry
	saveCalls            int
	loadCalls            int
	loadRecordsError     error
	loadRecordsErrorCall int
	saveRecordsError     error
	getTokenTypeError    error
	putTokenTypeError    error
	appendJournalError   error
	listJournalError     error
	supplyError          error
	listCollectionsError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		records:    make(map[CollectionKey][]BalanceRecord),
		tokenTypes: make(map[string]TokenTypeConfig),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) LoadRecords(ctx context.Context, account AccountID, tokenType TokenTypeID) ([]BalanceRecord, error) {
	store.loadCalls++
	if store.loadRecordsError != nil && (store.loadRecordsErrorCall == 0 || store.loadCalls == store.loadRecordsErrorCall) {
		return nil, store.loadRecordsError
	}
	key := CollectionKey{Account: account.String(), TokenType: tokenType.String()}
	return append([]BalanceRecord(nil), store.records[key]...), nil
}

func (store *stubStore) SaveRecords(ctx context.Context, account AccountID, tokenType TokenTypeID, records []BalanceRecord) error {
	if store.saveRecordsError != nil {
		return store.saveRecordsError
	}
	key := CollectionKey{Account: account.String(), TokenType: tokenType.String()}
	store.records[key] = append([]BalanceRecord(nil), records...)
	store.saveCalls++
	return nil
}

func (store *stubStore) GetTokenType(ctx context.Context, tokenType TokenTypeID) (TokenTypeConfig, error) {
	if store.getTokenTypeError != nil {
		return TokenTypeConfig{}, store.getTokenTypeError
	}
	config, ok := store.tokenTypes[tokenType.String()]
	if !ok {
		return TokenTypeConfig{}, ErrTokenTypeNotFound
	}
	return config, nil
}

func (store *stubStore) PutTokenType(ctx context.Context, tokenType TokenTypeID, config TokenTypeConfig) error {
	if store.putTokenTypeError != nil {
		return store.putTokenTypeError
	}
	store.tokenTypes[tokenType.String()] = config
	return nil
}

func (store *stubStore) AppendJournal(ctx context.Context, entry JournalEntry) error {
	if store.appendJournalError != nil {
		return store.appendJournalError
	}
	store.journal = append(store.journal, entry)
	return nil
}

func (store *stubStore) ListJournal(ctx context.Context, account AccountID, tokenType TokenTypeID, limit int) ([]JournalEntry, error) {
	if store.listJournalError != nil {
		return nil, store.listJournalError
	}
	entries := make([]JournalEntry, 0, limit)
	for index := len(store.journal) - 1; index >= 0 && len(entries) < limit; index-- {
		entry := store.journal[index]
		if entry.Account != account.String() || entry.TokenType != tokenType.String() {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *stubStore) SupplyTotals(ctx context.Context, tokenType TokenTypeID) (SupplyTotals, error) {
	if store.supplyError != nil {
		return SupplyTotals{}, store.supplyError
	}
	var totals SupplyTotals
	for _, entry := range store.journal {
		if entry.TokenType != tokenType.String() {
			continue
		}
		switch entry.Operation {
		case JournalOperationCredit:
			totals.Credited += entry.Amount
		case JournalOperationDebit:
			totals.Debited += entry.Amount
		case JournalOperationExpire:
			totals.Expired += entry.Amount
		}
	}
	return totals, nil
}

func (store *stubStore) ListCollections(ctx context.Context) ([]CollectionKey, error) {
	if store.listCollectionsError != nil {
		return nil, store.listCollectionsError
	}
	keys := make([]CollectionKey, 0, len(store.records))
	for key := range store.records {
		keys = append(keys, key)
	}
	return keys, nil
}

func mustService(test *testing.T, store Store, clock *stubClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, clock.now, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	account, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return account
}

func mustTokenTypeID(test *testing.T, raw string) TokenTypeID {
	test.Helper()
	tokenType, err := NewTokenTypeID(raw)
	if err != nil {
		test.Fatalf("token type id %q: %v", raw, err)
	}
	return tokenType
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustRecords(test *testing.T, service *Service, account AccountID, tokenType TokenTypeID) []BalanceRecord {
	test.Helper()
	records, err := service.RecordsOf(context.Background(), account, tokenType)
	if err != nil {
		test.Fatalf("records of: %v", err)
	}
	return records
}
