package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrTaskPanicked = errors.New("task panicked")

type CompletedTask[T any] struct {
	Index  int
	Result T
	Error  error
}

type task[In any] struct {
	index int
	input In
}

// RunInPool runs worker over every input on at most maxWorkers goroutines and
// blocks until all of them finish. Results are returned in input order.
// Inputs not yet started when ctx is cancelled complete with ctx.Err(). A
// panicking worker completes its task with ErrTaskPanicked.
func RunInPool[In any, Out any](ctx context.Context, worker func(In) (Out, error), inputs []In, maxWorkers int) []CompletedTask[Out] {
	queue := make(chan task[In], len(inputs))
	for i, in := range inputs {
		queue <- task[In]{index: i, input: in}
	}
	close(queue)

	results := make([]CompletedTask[Out], len(inputs))
	workers := max(1, min(len(inputs), maxWorkers))

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			for next := range queue {
				if err := ctx.Err(); err != nil {
					results[next.index] = CompletedTask[Out]{Index: next.index, Error: err}
					continue
				}
				res, err := runTask(worker, next.input)
				results[next.index] = CompletedTask[Out]{Index: next.index, Result: res, Error: err}
			}
		}()
	}

	wg.Wait()

	return results
}

func runTask[In any, Out any](worker func(In) (Out, error), input In) (res Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return worker(input)
}

// FirstError returns the error of the earliest failed task.
func FirstError[T any](completed []CompletedTask[T]) error {
	for _, c := range completed {
		if c.Error != nil {
			return c.Error
		}
	}
	return nil
}
