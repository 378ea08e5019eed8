package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

// LogNotifier records expiry events through zap. Deployments without a
// message broker use it so that expired value still leaves a trace.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wraps the logger; nil falls back to a no-op logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// NotifyExpired writes one structured log line per expired batch.
func (notifier *LogNotifier) NotifyExpired(_ context.Context, event vault.ExpiryEvent) {
	notifier.logger.Info("tokens expired",
		zap.String("account", event.Account),
		zap.String("token_type", event.TokenType),
		zap.Int64("amount", event.Amount.Int64()),
		zap.Int64("pruned_at_unix", event.PrunedAtUnix))
}
