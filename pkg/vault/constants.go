package vault

import "math"

// NeverExpiresUnix marks a record that stays valid forever.
const NeverExpiresUnix int64 = math.MaxInt64

// DefaultMaxRecords bounds the non-empty records kept per collection.
const DefaultMaxRecords = 100

// Default shrink thresholds applied when no CompactionPolicy override is set.
const (
	DefaultShrinkFactor    = 2
	DefaultShrinkMinLength = 10
)

const (
	defaultJournalLimit = 50

	emptyMetadataValue = "{}"
)

const (
	operationCredit            = "credit"
	operationDebit             = "debit"
	operationTransfer          = "transfer"
	operationPrune             = "prune"
	operationRegisterTokenType = "register_token_type"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
