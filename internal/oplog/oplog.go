// Package oplog adapts zap to the vault's operation logging hook.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

// ZapLogger writes one structured line per vault operation.
type ZapLogger struct {
	logger *zap.Logger
}

// New wraps the logger; nil falls back to a no-op logger.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation records the outcome of a vault operation.
func (adapter *ZapLogger) LogOperation(_ context.Context, entry vault.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("account", entry.Account.String()),
		zap.String("token_type", entry.TokenType.String()),
		zap.Int64("amount", entry.Amount.Int64()),
	}
	if counter := entry.CounterAccount.String(); counter != "" {
		fields = append(fields, zap.String("counter_account", counter))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("vault operation failed", fields...)
		return
	}
	adapter.logger.Info("vault operation", fields...)
}
