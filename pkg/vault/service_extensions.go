package vault

import (
	"context"
	"fmt"
)

// RegisterTokenType upserts the TTL and capacity configuration of a token type.
func (service *Service) RegisterTokenType(ctx context.Context, tokenType TokenTypeID, config TokenTypeConfig, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := config.Validate(); err != nil {
			return err
		}
		if err := transactionStore.PutTokenType(ctx, tokenType, config); err != nil {
			return err
		}
		return transactionStore.AppendJournal(ctx, JournalEntry{
			Operation:    JournalOperationRegisterTokenType,
			TokenType:    tokenType.String(),
			MetadataJSON: metadata.String(),
			CreatedUnix:  service.nowFn(),
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterTokenType,
		TokenType: tokenType,
		Metadata:  metadata,
		Error:     operationError,
	})
	return operationError
}

// TokenTypeOf returns the registered configuration of a token type.
func (service *Service) TokenTypeOf(ctx context.Context, tokenType TokenTypeID) (TokenTypeConfig, error) {
	return service.store.GetTokenType(ctx, tokenType)
}

// CreditType credits using the TTL and capacity registered for the token
// type. Unregistered token types fail with ErrTokenTypeNotFound.
func (service *Service) CreditType(ctx context.Context, account AccountID, tokenType TokenTypeID, amount Amount, metadata MetadataJSON) error {
	var pendingEvents []ExpiryEvent
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount.Int64() <= 0 {
			return fmt.Errorf("%w: credit amount must be positive", ErrInvalidAmount)
		}
		config, err := transactionStore.GetTokenType(ctx, tokenType)
		if err != nil {
			return err
		}
		capacity := config.MaxRecords
		if capacity <= 0 {
			capacity = service.maxRecords
		}
		events, err := service.creditInTx(ctx, transactionStore, account, tokenType, amount, config.TTLSeconds, capacity, metadata)
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

// SupplyOf aggregates journaled movement for a token type.
func (service *Service) SupplyOf(ctx context.Context, tokenType TokenTypeID) (SupplyTotals, error) {
	return service.store.SupplyTotals(ctx, tokenType)
}

// Journal lists journal entries for an account and token type, newest first.
func (service *Service) Journal(ctx context.Context, account AccountID, tokenType TokenTypeID, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	return service.store.ListJournal(ctx, account, tokenType, limit)
}
