// Package settle runs tasks concurrently and waits for every one of them,
// collecting each outcome instead of failing on the first error.
package settle

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type Status int

const (
	Fulfilled Status = iota
	Rejected
)

func (s Status) String() string {
	if s == Rejected {
		return "rejected"
	}
	return "fulfilled"
}

type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

type Task[T any] func(ctx context.Context) (T, error)

// All starts every task in its own goroutine and returns once all of them
// have returned. Results keep the order of tasks. A panicking task is
// reported as rejected.
func All[T any](ctx context.Context, tasks ...Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result[T]{Status: Rejected, Err: errors.Errorf("task panicked: %v", r)}
				}
			}()

			value, err := task(ctx)
			if err != nil {
				results[i] = Result[T]{Status: Rejected, Value: value, Err: err}
				return
			}
			results[i] = Result[T]{Status: Fulfilled, Value: value}
		}(i, task)
	}
	wg.Wait()

	return results
}
