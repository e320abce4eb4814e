// Package chunk splits mutation work into size-bounded batches and isolates
// items a remote service rejects by bisecting failed batches.
package chunk

import (
	"context"
	"fmt"
)

// Split partitions units into consecutive batches by cumulative size. Units
// are added to the current batch while its running total stays below limit
// and units remain; the unit that reaches the limit closes the batch. Every
// unit lands in exactly one batch and order is preserved. A non-positive
// limit puts each unit in its own batch.
func Split[T any](units []T, size func(T) int64, limit int64) [][]T {
	var (
		batches [][]T
		current []T
		total   int64
	)

	for i, u := range units {
		current = append(current, u)
		total += size(u)

		if total < limit && i < len(units)-1 {
			continue
		}

		batches = append(batches, current)
		current = nil
		total = 0
	}

	return batches
}

// SubmitFunc sends one batch. A nil error means the service accepted it.
type SubmitFunc[T any] func(ctx context.Context, batch []T) error

// Report summarizes a Bisect run.
type Report[T any] struct {
	Calls    int // submissions made, including retries of halves
	Accepted int // items in accepted batches
	Dropped  []T // single items still rejected, in submission order
	MaxDepth int // deepest bisection level reached (0 = no split)
}

// DropFunc is told about each item that is rejected on its own.
type DropFunc[T any] func(item T, err error)

type work[T any] struct {
	items []T
	depth int
}

// Bisect submits batch. When the service rejects a batch with an error that
// splittable reports true for, the batch is halved and each half retried on
// its own, first half first, down to single items. A single item that is
// still rejected is dropped and reported. Any other error stops the run and
// is returned with the report so far; batches accepted before it stay
// accepted.
func Bisect[T any](
	ctx context.Context,
	batch []T,
	submit SubmitFunc[T],
	splittable func(error) bool,
	onDrop DropFunc[T],
) (Report[T], error) {
	var report Report[T]

	if len(batch) == 0 {
		return report, nil
	}

	stack := []work[T]{{items: batch}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("chunk: bisect canceled: %w", err)
		}

		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if w.depth > report.MaxDepth {
			report.MaxDepth = w.depth
		}

		report.Calls++

		err := submit(ctx, w.items)
		if err == nil {
			report.Accepted += len(w.items)
			continue
		}

		if !splittable(err) {
			return report, err
		}

		if len(w.items) == 1 {
			report.Dropped = append(report.Dropped, w.items[0])
			if onDrop != nil {
				onDrop(w.items[0], err)
			}

			continue
		}

		mid := len(w.items) / 2
		// Push the second half first so the first half is tried first.
		stack = append(stack,
			work[T]{items: w.items[mid:], depth: w.depth + 1},
			work[T]{items: w.items[:mid], depth: w.depth + 1},
		)
	}

	return report, nil
}
