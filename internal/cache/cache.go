package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"athanor/internal/model"
)

const (
	defaultLeaseTTL     = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// ComputeFn produces the artifact for one fingerprint. It runs only on a
// cache miss, and under the at-most-once guarantee at most one invocation is
// in flight per key at a time.
type ComputeFn func(ctx context.Context) (model.Artifact, error)

// Options tune a Cache. Zero values pick defaults; a nil Logger stays
// silent; nil Metrics disables instrumentation.
type Options struct {
	Logger       *zap.Logger
	Metrics      *Metrics
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

// Cache provides get-or-compute over a Store. Concurrent in-process requests
// for one key coalesce through singleflight; cross-process callers
// coordinate through the store's lease and converge on the first persisted
// record.
type Cache struct {
	store        Store
	logger       *zap.Logger
	metrics      *Metrics
	leaseTTL     time.Duration
	pollInterval time.Duration
	owner        string

	group singleflight.Group
}

// New wraps an initialized store.
func New(store Store, opts Options) (*Cache, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	leaseTTL := opts.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Cache{
		store:        store,
		logger:       logger,
		metrics:      opts.Metrics,
		leaseTTL:     leaseTTL,
		pollInterval: poll,
		owner:        uuid.NewString(),
	}, nil
}

// GetOrCompute returns the artifact for (fingerprint, evaluatorVersion),
// computing and persisting it when absent. A hit never invokes compute. On a
// miss the result becomes visible to other readers only after the durable
// insert completes. Compute failures are surfaced and nothing is persisted,
// so a later call retries the computation. Once compute has finished,
// persistence proceeds even if ctx was cancelled meanwhile: completed work
// is never thrown away.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint, evaluatorName, evaluatorVersion string, compute ComputeFn) (model.Artifact, error) {
	if fingerprint == "" {
		return model.Artifact{}, errors.New("fingerprint is required")
	}
	if evaluatorVersion == "" {
		return model.Artifact{}, errors.New("evaluator version is required")
	}
	if compute == nil {
		return model.Artifact{}, errors.New("compute function is required")
	}
	key := Key(fingerprint, evaluatorVersion)

	record, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ok {
		c.metrics.hit()
		return record.Artifact, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		return c.computeAndStore(ctx, key, fingerprint, evaluatorName, evaluatorVersion, compute)
	})
	if err != nil {
		return model.Artifact{}, err
	}
	return value.(model.Artifact), nil
}

// computeAndStore is the singleflight winner's path: acquire the store
// lease, re-check for a record persisted by another process, compute,
// persist, release.
func (c *Cache) computeAndStore(ctx context.Context, key, fingerprint, evaluatorName, evaluatorVersion string, compute ComputeFn) (model.Artifact, error) {
	waiting := false
	for {
		record, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return model.Artifact{}, fmt.Errorf("cache get %s: %w", key, err)
		}
		if ok {
			c.metrics.hit()
			return record.Artifact, nil
		}

		acquired, err := c.store.AcquireLease(ctx, key, c.owner, c.leaseTTL)
		if err != nil {
			return model.Artifact{}, fmt.Errorf("cache lease %s: %w", key, err)
		}
		if acquired {
			return c.computeHoldingLease(ctx, key, fingerprint, evaluatorName, evaluatorVersion, compute)
		}

		if !waiting {
			waiting = true
			c.metrics.leaseWait()
			c.logger.Debug("waiting on cache lease",
				zap.String("key", key))
		}
		select {
		case <-ctx.Done():
			return model.Artifact{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Cache) computeHoldingLease(ctx context.Context, key, fingerprint, evaluatorName, evaluatorVersion string, compute ComputeFn) (model.Artifact, error) {
	// Survives run cancellation so completed results and lease cleanup
	// still reach the store.
	persistCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := c.store.ReleaseLease(persistCtx, key, c.owner); err != nil {
			c.logger.Warn("cache lease release failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()

	c.metrics.miss()
	c.metrics.computation()
	artifact, err := compute(ctx)
	if err != nil {
		c.metrics.computeFailure()
		return model.Artifact{}, err
	}

	record := NewRecord(fingerprint, evaluatorName, evaluatorVersion, artifact)
	inserted, err := c.store.PutIfAbsent(persistCtx, key, record)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("cache put %s: %w", key, err)
	}
	if !inserted {
		// Another process won the insert race, likely after our lease
		// expired mid-compute. The first record is authoritative.
		existing, ok, err := c.store.Get(persistCtx, key)
		if err != nil {
			return model.Artifact{}, fmt.Errorf("cache get %s: %w", key, err)
		}
		if ok {
			return existing.Artifact, nil
		}
		return model.Artifact{}, fmt.Errorf("cache put %s: record rejected but absent", key)
	}
	return artifact, nil
}

// Export dumps every cache record for offline audit.
func (c *Cache) Export(ctx context.Context) ([]model.CacheRecord, error) {
	return c.store.Export(ctx)
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
