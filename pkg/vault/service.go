package vault

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store            Store
	nowFn            func() int64
	logger           OperationLogger
	notifier         ExpiryNotifier
	maxRecords       int
	compactionPolicy CompactionPolicy
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:      store,
		nowFn:      now,
		maxRecords: DefaultMaxRecords,
		compactionPolicy: CompactionPolicy{
			ShrinkFactor:    DefaultShrinkFactor,
			ShrinkMinLength: DefaultShrinkMinLength,
		},
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.maxRecords <= 0 {
		return nil, fmt.Errorf("%w: max records must be positive", ErrInvalidServiceConfig)
	}
	if service.compactionPolicy.ShrinkFactor <= 0 {
		return nil, fmt.Errorf("%w: shrink factor must be positive", ErrInvalidServiceConfig)
	}
	if service.compactionPolicy.ShrinkMinLength < 0 {
		return nil, fmt.Errorf("%w: shrink min length must not be negative", ErrInvalidServiceConfig)
	}
	return service, nil
}

// Credit adds value under the token type with the supplied time to live.
// A zero TTL mints permanent tokens.
func (service *Service) Credit(ctx context.Context, account AccountID, tokenType TokenTypeID, amount Amount, ttlSeconds int64, metadata MetadataJSON) error {
	var pendingEvents []ExpiryEvent
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount.Int64() <= 0 {
			return fmt.Errorf("%w: credit amount must be positive", ErrInvalidAmount)
		}
		if ttlSeconds < 0 {
			return fmt.Errorf("%w: ttl seconds must not be negative", ErrInvalidTTL)
		}
		capacity, err := service.capacityFor(ctx, transactionStore, tokenType)
		if err != nil {
			return err
		}
		events, err := service.creditInTx(ctx, transactionStore, account, tokenType, amount, ttlSeconds, capacity, metadata)
		if err != nil {
			return err
		}
		pendingEvents = events
		return nil
	})
	service.emitExpiryEvents(ctx, operationError, pendingEvents)
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		Account:   account,
		TokenType: tokenType,
		Amount:    amount,
		Metadata:  metadata,
		Error:     operationError,
	})
	return operationError
}

// Debit consumes the soonest-expiring value first. A zero amount is a no-op;
// a shortfall fails with InsufficientBalanceError and leaves the collection
// untouched.
func (service *Service) Debit(ctx context.Context, account AccountID, tokenType TokenTypeID, amount Amount, metadata MetadataJSON) error {
	var pendingEvents []ExpiryEvent
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount.Int64() < 0 {
			return fmt.Errorf("%w: debit amount must not be negative", ErrInvalidAmount)
		}
		if amount.Int64() == 0 {
			return nil
		}
		nowUnix := service.nowFn()
		records, err := transactionStore.LoadRecords(ctx, account, tokenType)
		if err != nil {
			return err
		}
		records, expiredTotal, err := pruneRecords(records, nowUnix, service.compactionPolicy)
		if err != nil {
			return err
		}
		events, err := service.journalExpired(ctx, transactionStore, account, tokenType, expiredTotal, nowUnix)
		if err != nil {
			return err
		}
		records, available, err := deductRecords(records, amount, nowUnix)
		if err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				return NewInsufficientBalanceError(account, tokenType, available, amount)
			}
			return err
		}
		if err := transactionStore.SaveRecords(ctx, account, tokenType, records); err != nil {
			return err
		}
		if err := transactionStore.AppendJournal(ctx, JournalEntry{
			Operation:    JournalOperationDebit,
			Account:      account.String(),
			TokenType:    tokenType.String(),
			Amount:       amount,
			MetadataJSON: metadata.String(),
			CreatedUnix:  nowUnix,
		}); err != nil {
			return err
		}
		pendingEvents = events
		return nil
	})
	service.emitExpiryEvents(ctx, operationError, pendingEvents)
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		Account:   account,
		TokenType: tokenType,
		Amount:    amount,
		Metadata:  metadata,
		Error:     operationError,
	})
	return operationError
}

// Move transfers value between accounts oldest-first while every moved
// tranche keeps its original expiry. Transfers to the same account and
// zero-amount transfers are no-ops.
func (service *Service) Move(ctx context.Context, from AccountID, to AccountID, tokenType TokenTypeID, amount Amount, metadata MetadataJSON) error {
	var pendingEvents []ExpiryEvent
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount.Int64() < 0 {
			return fmt.Errorf("%w: transfer amount must not be negative", ErrInvalidAmount)
		}
		if amount.Int64() == 0 || from == to {
			return nil
		}
		nowUnix := service.nowFn()
		sourceRecords, err := transactionStore.LoadRecords(ctx, from, tokenType)
		if err != nil {
			return err
		}
		sourceRecords, sourceExpired, err := pruneRecords(sourceRecords, nowUnix, service.compactionPolicy)
		if err != nil {
			return err
		}
		events, err := service.journalExpired(ctx, transactionStore, from, tokenType, sourceExpired, nowUnix)
		if err != nil {
			return err
		}
		destinationRecords, err := transactionStore.LoadRecords(ctx, to, tokenType)
		if err != nil {
			return err
		}
		destinationRecords, destinationExpired, err := pruneRecords(destinationRecords, nowUnix, service.compactionPolicy)
		if err != nil {
			return err
		}
		destinationEvents, err := service.journalExpired(ctx, transactionStore, to, tokenType, destinationExpired, nowUnix)
		if err != nil {
			return err
		}
		events = append(events, destinationEvents...)
		sourceRecords, destinationRecords, available, err := transferRecords(sourceRecords, destinationRecords, amount, nowUnix)
		if err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				return NewInsufficientBalanceError(from, tokenType, available, amount)
			}
			return err
		}
		sourceRecords, _, err = pruneRecords(sourceRecords, nowUnix, service.compactionPolicy)
		if err != nil {
			return err
		}
		if err := transactionStore.SaveRecords(ctx, from, tokenType, sourceRecords); err != nil {
			return err
		}
		if err := transactionStore.SaveRecords(ctx, to, tokenType, destinationRecords); err != nil {
			return err
		}
		if err := transactionStore.AppendJournal(ctx, JournalEntry{
			Operation:      JournalOperationTransfer,
			Account:        from.String(),
			CounterAccount: to.String(),
			TokenType:      tokenType.String(),
			Amount:         amount,
			MetadataJSON:   metadata.String(),
			CreatedUnix:    nowUnix,
		}); err != nil {
			return err
		}
		pendingEvents = events
		return nil
	})
	service.emitExpiryEvents(ctx, operationError, pendingEvents)
	service.logOperation(ctx, OperationLog{
		Operation:      operationTransfer,
		Account:        from,
		CounterAccount: to,
		TokenType:      tokenType,
		Amount:         amount,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Prune drops expired and empty records and returns the expired total.
// Anyone may prune any collection at any time; balances never depend on it.
func (service *Service) Prune(ctx context.Context, account AccountID, tokenType TokenTypeID) (Amount, error) {
	var prunedTotal Amount
	var pendingEvents []ExpiryEvent
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnix := service.nowFn()
		records, err := transactionStore.LoadRecords(ctx, account, tokenType)
		if err != nil {
			return err
		}
		records, expiredTotal, err := pruneRecords(records, nowUnix, service.compactionPolicy)
		if err != nil {
			return err
		}
		events, err := service.journalExpired(ctx, transactionStore, account, tokenType, expiredTotal, nowUnix)
		if err != nil {
			return err
		}
		if err := transactionStore.SaveRecords(ctx, account, tokenType, records); err != nil {
			return err
		}
		prunedTotal = expiredTotal
		pendingEvents = events
		return nil
	})
	service.emitExpiryEvents(ctx, operationError, pendingEvents)
	service.logOperation(ctx, OperationLog{
		Operation: operationPrune,
		Account:   account,
		TokenType: tokenType,
		Amount:    prunedTotal,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return prunedTotal, nil
}

// BalanceOf sums the non-expired records. Pure read, never mutates.
func (service *Service) BalanceOf(ctx context.Context, account AccountID, tokenType TokenTypeID) (Amount, error) {
	records, err := service.store.LoadRecords(ctx, account, tokenType)
	if err != nil {
		return 0, err
	}
	return sumActiveRecords(records, service.nowFn())
}

// RecordsOf returns the raw collection including expired and empty slots.
func (service *Service) RecordsOf(ctx context.Context, account AccountID, tokenType TokenTypeID) ([]BalanceRecord, error) {
	return service.store.LoadRecords(ctx, account, tokenType)
}

func (service *Service) creditInTx(ctx context.Context, transactionStore Store, account AccountID, tokenType TokenTypeID, amount Amount, ttlSeconds int64, capacity int, metadata MetadataJSON) ([]ExpiryEvent, error) {
	nowUnix := service.nowFn()
	records, err := transactionStore.LoadRecords(ctx, account, tokenType)
	if err != nil {
		return nil, err
	}
	records, expiredTotal, err := pruneRecords(records, nowUnix, service.compactionPolicy)
	if err != nil {
		return nil, err
	}
	events, err := service.journalExpired(ctx, transactionStore, account, tokenType, expiredTotal, nowUnix)
	if err != nil {
		return nil, err
	}
	expiresAtUnix, err := bucketedExpiry(nowUnix, ttlSeconds, capacity)
	if err != nil {
		return nil, err
	}
	records, err = insertRecord(records, amount, expiresAtUnix)
	if err != nil {
		return nil, err
	}
	if err := transactionStore.SaveRecords(ctx, account, tokenType, records); err != nil {
		return nil, err
	}
	if err := transactionStore.AppendJournal(ctx, JournalEntry{
		Operation:     JournalOperationCredit,
		Account:       account.String(),
		TokenType:     tokenType.String(),
		Amount:        amount,
		ExpiresAtUnix: expiresAtUnix,
		MetadataJSON:  metadata.String(),
		CreatedUnix:   nowUnix,
	}); err != nil {
		return nil, err
	}
	return events, nil
}

func (service *Service) capacityFor(ctx context.Context, transactionStore Store, tokenType TokenTypeID) (int, error) {
	config, err := transactionStore.GetTokenType(ctx, tokenType)
	if err != nil {
		if errors.Is(err, ErrTokenTypeNotFound) {
			return service.maxRecords, nil
		}
		return 0, err
	}
	if config.MaxRecords > 0 {
		return config.MaxRecords, nil
	}
	return service.maxRecords, nil
}

func (service *Service) journalExpired(ctx context.Context, transactionStore Store, account AccountID, tokenType TokenTypeID, expiredTotal Amount, nowUnix int64) ([]ExpiryEvent, error) {
	if expiredTotal.Int64() <= 0 {
		return nil, nil
	}
	if err := transactionStore.AppendJournal(ctx, JournalEntry{
		Operation:    JournalOperationExpire,
		Account:      account.String(),
		TokenType:    tokenType.String(),
		Amount:       expiredTotal,
		MetadataJSON: emptyMetadataValue,
		CreatedUnix:  nowUnix,
	}); err != nil {
		return nil, err
	}
	return []ExpiryEvent{{
		Account:      account.String(),
		TokenType:    tokenType.String(),
		Amount:       expiredTotal,
		PrunedAtUnix: nowUnix,
	}}, nil
}

func (service *Service) emitExpiryEvents(ctx context.Context, operationError error, events []ExpiryEvent) {
	if operationError != nil || service.notifier == nil {
		return
	}
	for _, event := range events {
		service.notifier.NotifyExpired(ctx, event)
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
