package balances

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const defaultFanOutLimit = 8

// fanOut runs fn for every item with at most limit calls in flight. A failed or
// panicking call yields fallback(item, err) for that item; siblings are never
// cancelled. Results keep the order of items.
func fanOut[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error), fallback func(T, error) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 {
		limit = defaultFanOutLimit
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = fallback(item, fmt.Errorf("panic: %v", r))
				}
			}()
			res, err := fn(ctx, item)
			if err != nil {
				results[i] = fallback(item, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
