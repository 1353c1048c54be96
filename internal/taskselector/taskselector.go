// Package taskselector picks a registered task at random, weighted by each
// task's configured weight, on the hot path of every UserWorker iteration.
package taskselector

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// Task is one user-supplied unit of work: a name (used as the StatsEntry
// key alongside the task's method), a relative weight, and the callable
// itself. Task code is responsible for reporting its own outcome via the
// stats aggregator; the selector only picks a Task and never calls Fn.
type Task struct {
	Name   string
	Method string
	Weight int
	Fn     func() error
}

// Selector draws one Task per Pick call with probability proportional to
// its weight. Construction builds a cumulative-weight array once; Pick is
// then a single random draw plus a binary search, safe for any number of
// concurrent callers since Selector is immutable after New.
type Selector struct {
	tasks      []Task
	cumulative []int
	total      int
	uniform    bool
}

// New builds a Selector from tasks. If every task's weight is <= 0,
// selection falls back to uniform random among all of them; otherwise
// tasks with weight <= 0 are excluded entirely.
func New(tasks []Task) (*Selector, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("taskselector: no tasks registered")
	}

	total := 0
	for _, task := range tasks {
		if task.Weight > 0 {
			total += task.Weight
		}
	}

	if total == 0 {
		return &Selector{tasks: tasks, uniform: true}, nil
	}

	selectable := make([]Task, 0, len(tasks))
	cumulative := make([]int, 0, len(tasks))
	running := 0
	for _, task := range tasks {
		if task.Weight <= 0 {
			continue
		}
		running += task.Weight
		selectable = append(selectable, task)
		cumulative = append(cumulative, running)
	}

	return &Selector{tasks: selectable, cumulative: cumulative, total: running}, nil
}

// Pick returns one task, chosen with probability proportional to its
// weight (or uniformly, if every registered weight was <= 0).
func (s *Selector) Pick() Task {
	if s.uniform {
		return s.tasks[rand.IntN(len(s.tasks))]
	}
	draw := rand.IntN(s.total)
	idx := sort.Search(len(s.cumulative), func(i int) bool {
		return s.cumulative[i] > draw
	})
	return s.tasks[idx]
}

// Len returns the number of selectable tasks.
func (s *Selector) Len() int {
	return len(s.tasks)
}
