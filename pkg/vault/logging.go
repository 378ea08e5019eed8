package vault

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// ExpiryNotifier receives burn accounting for value that expired during a
// prune. Notifications fire after the owning transaction commits and are
// one-way; implementations must not call back into the service.
type ExpiryNotifier interface {
	NotifyExpired(ctx context.Context, event ExpiryEvent)
}

// OperationLog describes a state-changing vault operation.
type OperationLog struct {
	Operation      string
	Account        AccountID
	CounterAccount AccountID
	TokenType      TokenTypeID
	Amount         Amount
	Metadata       MetadataJSON
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithExpiryNotifier wires the post-commit notifier for expired value.
func WithExpiryNotifier(notifier ExpiryNotifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithMaxRecords overrides the service-wide record capacity per collection.
func WithMaxRecords(maxRecords int) ServiceOption {
	return func(service *Service) {
		service.maxRecords = maxRecords
	}
}

// WithCompactionPolicy overrides the shrink thresholds used by pruning.
func WithCompactionPolicy(policy CompactionPolicy) ServiceOption {
	return func(service *Service) {
		service.compactionPolicy = policy
	}
}
