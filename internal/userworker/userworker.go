// Package userworker implements the per-simulated-user driver loop: acquire
// a rate-limit permit, pick a task, run it, and report a failure to the stats
// aggregator on the task's behalf when it returns an error or panics. A task
// that returns nil is expected to have reported its own outcome.
package userworker

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/swarmload/worker/internal/ratelimiter"
	"github.com/swarmload/worker/internal/stats"
	"github.com/swarmload/worker/internal/taskselector"
)

// unknownErrorType is the tag prefixed to the error text of a task that
// panicked. An error the task returns is reported with its own text,
// untagged.
const unknownErrorType = "unknown"

// Worker drives one simulated user: loop { acquire; pick; run; } until
// Stop is called. Workers hold only read references to the shared
// RateLimiter, Selector, and Aggregator — the Runner owns their lifecycle.
type Worker struct {
	id          int
	limiter     ratelimiter.RateLimiter // nil disables rate limiting
	selector    *taskselector.Selector
	aggregator  *stats.Aggregator
	onException func(method, name, errText string) // nil disables exception reporting
	logger      *zap.Logger

	cancelled atomic.Bool
	done      chan struct{}
}

// New builds a Worker. limiter may be nil if no rate limiter is configured.
// onException, if non-nil, is called for every error/panic a task does not
// report itself, in addition to the matching aggregator.ReportFailure call.
func New(id int, limiter ratelimiter.RateLimiter, selector *taskselector.Selector, aggregator *stats.Aggregator, onException func(method, name, errText string), logger *zap.Logger) *Worker {
	return &Worker{
		id:          id,
		limiter:     limiter,
		selector:    selector,
		aggregator:  aggregator,
		onException: onException,
		logger:      logger.Named("userworker"),
		done:        make(chan struct{}),
	}
}

// Run executes the driver loop until Stop is called or the rate limiter
// reports it has stopped. It is meant to be launched in its own goroutine;
// Done() closes when it returns.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		if w.cancelled.Load() {
			return
		}
		if w.limiter != nil {
			if !w.limiter.Acquire() {
				return
			}
		}
		if w.cancelled.Load() {
			return
		}

		task := w.selector.Pick()
		start := time.Now()
		err := invoke(task.Fn)
		elapsed := time.Since(start)

		if err != nil {
			w.aggregator.ReportFailure(task.Method, task.Name, err.Error(), elapsed)
			if w.onException != nil {
				w.onException(task.Method, task.Name, err.Error())
			}
		}
		// A nil error means the task is assumed to have reported its own
		// outcome (success or failure, with its own timing) already.
	}
}

// Stop requests cancellation. The worker checks this flag between
// iterations only — never inside user code — so it exits within one task
// execution plus, at most, one rate-limiter wait.
func (w *Worker) Stop() {
	w.cancelled.Store(true)
}

// Done reports when the worker's loop has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// invoke runs fn, converting a panic into an error tagged as an unknown
// exception so it can never bring down the worker pool — user code is
// explicitly not required to catch its own exceptions.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v", unknownErrorType, r)
		}
	}()
	return fn()
}
