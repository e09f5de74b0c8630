// Package runner bounds how many research runs execute at once.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/ai-research/research"
)

// Pipeline runs one research question to completion.
type Pipeline interface {
	Run(ctx context.Context, question, endUserID string) (research.QueryState, error)
}

// Runner executes pipeline runs under a concurrency limit. It satisfies Pipeline
// itself, so it can stand in wherever a pipeline is expected.
type Runner struct {
	pipeline       Pipeline
	maxConcurrency int
	semaphore      chan struct{}
}

var _ Pipeline = (*Runner)(nil)

// New creates a new runner
func New(p Pipeline, maxConcurrency int) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 4 // Default concurrency
	}
	return &Runner{
		pipeline:       p,
		maxConcurrency: maxConcurrency,
		semaphore:      make(chan struct{}, maxConcurrency),
	}
}

// Run waits for a free slot, then runs the pipeline.
func (r *Runner) Run(ctx context.Context, question, endUserID string) (research.QueryState, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return research.QueryState{}, ctx.Err()
	}

	return r.pipeline.Run(ctx, question, endUserID)
}

// InFlight reports how many runs currently hold a slot.
func (r *Runner) InFlight() int {
	return len(r.semaphore)
}

// MaxConcurrency returns the slot count.
func (r *Runner) MaxConcurrency() int {
	return r.maxConcurrency
}

// Task represents a task to be executed
type Task struct {
	ID        string
	Question  string
	EndUserID string
}

// Result represents the result of a task execution
type Result struct {
	TaskID string
	State  research.QueryState
	Error  error
}

// RunParallel executes every task, at most maxConcurrency at a time. Results are in
// task order; a panicking task reports an error instead of crashing the batch.
func (r *Runner) RunParallel(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(index int, t Task) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[index] = Result{
						TaskID: t.ID,
						Error:  fmt.Errorf("panic in task %s: %v", t.ID, rec),
					}
				}
			}()

			st, err := r.Run(ctx, t.Question, t.EndUserID)
			results[index] = Result{
				TaskID: t.ID,
				State:  st,
				Error:  err,
			}
		}(i, task)
	}

	wg.Wait()
	return results
}
