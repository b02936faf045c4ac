// Package batch runs independent per-item operations with bounded
// concurrency. A failing item never stops the others and nothing is
// rolled back; every outcome is reported.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is used when Run is given a non-positive limit.
const DefaultLimit = 4

// Outcome is the result of one item.
type Outcome[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Report holds one outcome per input item, in input order.
type Report[T, R any] struct {
	Outcomes []Outcome[T, R]
}

// Run calls fn for every item with at most limit calls in flight. Items
// not yet started when ctx is cancelled fail with the context error. A
// panic in fn is recorded as that item's error.
func Run[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) Report[T, R] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	outcomes := make([]Outcome[T, R], len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		outcomes[i].Item = item

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}

			outcomes[i].Value, outcomes[i].Err = call(ctx, item, fn)

			return nil
		})
	}

	_ = g.Wait()

	return Report[T, R]{Outcomes: outcomes}
}

func call[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx, item)
}

// Succeeded returns the outcomes without an error.
func (r Report[T, R]) Succeeded() []Outcome[T, R] {
	var out []Outcome[T, R]

	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}

	return out
}

// Failed returns the outcomes with an error.
func (r Report[T, R]) Failed() []Outcome[T, R] {
	var out []Outcome[T, R]

	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}

	return out
}

// Err joins every item error, or returns nil if all succeeded.
func (r Report[T, R]) Err() error {
	var errs []error

	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}

	return errors.Join(errs...)
}
