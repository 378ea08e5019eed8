// Package sweeper runs periodic maintenance over the vault. Sweepers are
// long-running background tasks driven by a context; they are hygiene, not
// correctness, because every mutating vault operation prunes inline.
package sweeper

import "context"

// Sweeper is a long-running background maintenance task.
type Sweeper interface {
	// Start runs the main loop until the context is cancelled or Stop is
	// called.
	Start(ctx context.Context) error

	// Stop signals the main loop and waits for in-flight work to drain.
	Stop(ctx context.Context) error

	// Name identifies the sweeper in logs.
	Name() string
}
