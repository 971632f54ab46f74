// Package lock serialises read-validate-write sequences on orders and
// product stock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var ErrTimeout = errors.New("lock acquisition timed out")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func OrderKey(orderID string) string {
	return "bloompos:lock:order:" + orderID
}

func ProductKey(productID string) string {
	return "bloompos:lock:product:" + productID
}

// Acquire takes every key in ascending order so that two callers locking
// overlapping sets cannot deadlock. Waiting is bounded by timeout; on failure
// any lock already held is released.
func Acquire(ctx context.Context, locker Locker, timeout time.Duration, keys ...string) (Unlock, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]Unlock, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, key := range sorted {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return once(release), nil
}

func waitErr(ctx context.Context, key string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", key, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", key, ctx.Err())
}

func once(fn func()) Unlock {
	var o sync.Once
	return func() { o.Do(fn) }
}
