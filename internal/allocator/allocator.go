// Package allocator assigns unique settlement amounts to new orders so that
// amount-strategy matching is never ambiguous.
package allocator

import (
	"context"
	"errors"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/observability"
	"github.com/qrpay/reconciler/internal/repository"
	"go.uber.org/zap"
)

// ErrAmountExhausted is returned when no free settlement amount exists within
// the retry budget. Surfaced to the caller as an order-creation failure.
var ErrAmountExhausted = errors.New("no unique settlement amount available")

// maxAttempts bounds the allocation loop.
const maxAttempts = 100

// allocLockKey identifies the process-wide advisory lock serializing amount
// allocation across all connections and instances.
const allocLockKey int64 = 0x716d7061795f4131

// QueryStore is the data access contract the allocator requires.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// Allocator hands out settlement amounts under a global exclusive lock.
type Allocator struct {
	store  QueryStore
	offset domain.Amount
	window time.Duration
}

// New creates an allocator with the configured offset step and active
// matching window.
func New(store QueryStore, offset domain.Amount, window time.Duration) *Allocator {
	return &Allocator{store: store, offset: offset, window: window}
}

// Allocate finds the lowest free settlement amount at or above original and
// invokes reserve with it while still holding the allocation lock. reserve
// must persist the order (or otherwise claim the amount) so that the amount
// is taken before the lock is released; two concurrent Allocate calls are
// fully serialized by a blocking transaction-scoped advisory lock, which is
// released on every exit path when the transaction ends.
func (a *Allocator) Allocate(ctx context.Context, original domain.Amount, reserve func(q *repository.Queries, final domain.Amount) error) (domain.Amount, error) {
	var final domain.Amount
	err := a.store.RunInTx(ctx, func(q *repository.Queries) error {
		if err := q.AdvisoryLock(ctx, allocLockKey); err != nil {
			return err
		}

		since := time.Now().Add(-a.window)
		final = original
		for attempt := 1; ; attempt++ {
			exists, err := q.PendingAmountExists(ctx, final.Cents(), since)
			if err != nil {
				return err
			}
			if !exists {
				break
			}
			if attempt >= maxAttempts {
				zap.L().Error("settlement amount allocation exhausted",
					zap.String("original", original.String()),
					zap.String("last_tried", final.String()),
					zap.Int("attempts", attempt),
				)
				return ErrAmountExhausted
			}
			final += a.offset
		}

		if final != original {
			observability.IncrementAmountAdjusted()
			zap.L().Info("settlement amount adjusted to avoid conflict",
				zap.String("original", original.String()),
				zap.String("final", final.String()),
			)
		}
		return reserve(q, final)
	})
	if err != nil {
		return 0, err
	}
	return final, nil
}
