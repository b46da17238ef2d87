package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultFilteredBatchSize = 500
	DefaultScanBatchSize     = 2000
)

// BatchError reports a run in which at least one item failed. First is the
// first failure recorded; Failed counts all of them.
type BatchError struct {
	First  error
	Failed int
	Total  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("storage: %d of %d reads failed: %v", e.Failed, e.Total, e.First)
}

func (e *BatchError) Unwrap() error {
	return e.First
}

// ProcessBatch applies fn to every item, at most size at a time. Each chunk
// runs fully concurrently and must finish before the next one starts. A
// failed item does not stop its siblings or later chunks. Results keep the
// order of items.
//
// ctx is checked between chunks; once it is done no further chunk starts.
func ProcessBatch[In, Out any](ctx context.Context, items []In, size int, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	if size <= 0 {
		size = 1
	}
	results := make([]Out, len(items))
	var (
		first  error
		failed atomic.Int64
	)
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(items))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				out, err := fn(ctx, items[i])
				if err != nil {
					failed.Add(1)
					return err
				}
				results[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return nil, &BatchError{First: first, Failed: int(failed.Load()), Total: len(items)}
	}
	return results, nil
}
