package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Checkpointer mediates all checkpoint traffic between the executor and a
// Store. It assigns checkpoint identity, and on a storage fault it pings
// the backend and retries the operation exactly once before surfacing a
// terminal error. ErrConflict and ErrNotFound are semantic outcomes, not
// faults, and pass through without a retry.
type Checkpointer struct {
	store Store
}

func NewCheckpointer(store Store) *Checkpointer {
	return &Checkpointer{store: store}
}

// Latest returns the authoritative checkpoint for a thread, or ErrNotFound
// for a thread with no history.
func (c *Checkpointer) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	var cp Checkpoint
	err := c.withRetry(ctx, func() error {
		var err error
		cp, err = c.store.LoadLatestCheckpoint(ctx, threadID)
		return err
	})
	return cp, err
}

// Save persists a checkpoint, filling in its ID and timestamp. A duplicate
// (thread, seq) pair means another execution of the same thread won the
// turn; that surfaces as ErrConflict and must not be retried.
func (c *Checkpointer) Save(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	err := c.withRetry(ctx, func() error {
		return c.store.SaveCheckpoint(ctx, cp)
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func (c *Checkpointer) History(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	var cps []Checkpoint
	err := c.withRetry(ctx, func() error {
		var err error
		cps, err = c.store.ListCheckpoints(ctx, threadID, limit)
		return err
	})
	return cps, err
}

// Ping reports whether the backing store is reachable.
func (c *Checkpointer) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Checkpointer) Purge(ctx context.Context, threadID string) error {
	return c.withRetry(ctx, func() error {
		return c.store.PurgeThread(ctx, threadID)
	})
}

// withRetry runs op, and on a non-sentinel failure pings the store and
// re-runs it once. A failed ping or a failed second attempt is terminal.
func (c *Checkpointer) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	if pingErr := c.store.Ping(ctx); pingErr != nil {
		return fmt.Errorf("checkpoint store unavailable: %w", err)
	}
	if retryErr := op(); retryErr != nil {
		if errors.Is(retryErr, ErrNotFound) || errors.Is(retryErr, ErrConflict) {
			return retryErr
		}
		return fmt.Errorf("checkpoint store failed after retry: %w", retryErr)
	}
	return nil
}
