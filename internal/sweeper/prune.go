package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	defaultInterval      = 5 * time.Minute
	defaultWorkers       = 4
	defaultRetryAttempts = 3
	defaultRetryWait     = 500 * time.Millisecond
	maxRetryWait         = 10 * time.Second
)

// Config tunes the prune sweeper.
type Config struct {
	Interval      time.Duration
	Workers       int
	RetryAttempts uint64
	RetryWait     time.Duration
}

// PruneSweeper walks every balance collection on a fixed interval and prunes
// expired records, so idle accounts release slack storage and their expiry
// events still fire.
type PruneSweeper struct {
	config    Config
	service   *vault.Service
	store     vault.Store
	logger    *zap.Logger
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewPruneSweeper wires the sweeper; the store is only used to enumerate
// collections, all pruning goes through the service.
func NewPruneSweeper(config Config, service *vault.Service, store vault.Store, logger *zap.Logger) (*PruneSweeper, error) {
	if service == nil {
		return nil, errors.New("vault service is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = defaultRetryAttempts
	}
	if config.RetryWait <= 0 {
		config.RetryWait = defaultRetryWait
	}
	return &PruneSweeper{
		config:    config,
		service:   service,
		store:     store,
		logger:    logger,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Name identifies the sweeper in logs.
func (sweeper *PruneSweeper) Name() string {
	return "prune-sweeper"
}

// Start runs sweep cycles until the context is cancelled or Stop is called.
func (sweeper *PruneSweeper) Start(ctx context.Context) error {
	if !sweeper.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		sweeper.running.Store(false)
		close(sweeper.stoppedCh)
	}()

	sweeper.logger.Info("prune sweeper starting",
		zap.Duration("interval", sweeper.config.Interval),
		zap.Int("workers", sweeper.config.Workers))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweeper.stopChan:
			return nil
		default:
			if err := sweeper.runCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sweeper.logger.Error("sweep cycle failed", zap.Error(err))
			}
			if !sweeper.sleep(ctx) {
				return nil
			}
		}
	}
}

// Stop signals the main loop and waits for it to drain.
func (sweeper *PruneSweeper) Stop(ctx context.Context) error {
	if !sweeper.running.CompareAndSwap(true, false) {
		return nil
	}
	close(sweeper.stopChan)
	select {
	case <-sweeper.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sweeper *PruneSweeper) runCycle(ctx context.Context) error {
	started := time.Now()
	keys, err := sweeper.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pool := pond.NewPool(sweeper.config.Workers, pond.WithContext(ctx))
	var expiredTotal atomic.Int64
	var failures atomic.Int32
	for _, key := range keys {
		pool.Submit(func() {
			expired, pruneError := sweeper.pruneWithRetry(ctx, key)
			if pruneError != nil {
				failures.Add(1)
				sweeper.logger.Error("prune failed",
					zap.String("account", key.Account),
					zap.String("token_type", key.TokenType),
					zap.Error(pruneError))
				return
			}
			expiredTotal.Add(expired.Int64())
		})
	}
	pool.StopAndWait()

	sweeper.logger.Info("sweep cycle completed",
		zap.Duration("duration", time.Since(started)),
		zap.Int("collections", len(keys)),
		zap.Int64("expired", expiredTotal.Load()),
		zap.Int32("failures", failures.Load()))
	return nil
}

func (sweeper *PruneSweeper) pruneWithRetry(ctx context.Context, key vault.CollectionKey) (vault.Amount, error) {
	account, err := vault.NewAccountID(key.Account)
	if err != nil {
		return 0, err
	}
	tokenType, err := vault.NewTokenTypeID(key.TokenType)
	if err != nil {
		return 0, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = sweeper.config.RetryWait
	policy.MaxInterval = maxRetryWait
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, sweeper.config.RetryAttempts), ctx)

	var expired vault.Amount
	operation := func() error {
		var pruneError error
		expired, pruneError = sweeper.service.Prune(ctx, account, tokenType)
		return pruneError
	}
	notify := func(retryError error, wait time.Duration) {
		sweeper.logger.Warn("prune retry",
			zap.String("account", key.Account),
			zap.String("token_type", key.TokenType),
			zap.Duration("next_attempt_in", wait),
			zap.Error(retryError))
	}
	if err := backoff.RetryNotify(operation, bounded, notify); err != nil {
		return 0, err
	}
	return expired, nil
}

// sleep waits one interval, returning false when interrupted.
func (sweeper *PruneSweeper) sleep(ctx context.Context) bool {
	timer := time.NewTimer(sweeper.config.Interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-sweeper.stopChan:
		return false
	}
}
