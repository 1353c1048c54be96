// Package stats implements the single-writer statistics aggregator: it is
// the only component that mutates response-time histograms, per-second
// request maps, and failure fingerprints, so none of that state needs
// locking. Every other goroutine in the runtime only ever pushes events onto
// one of the aggregator's queues.
package stats

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// queueCapacity bounds the success/failure event queues. At this depth a
// producer only ever drops an event if the aggregation goroutine has fallen
// multiple report intervals behind — acceptable degradation rather than a
// correctness violation.
const queueCapacity = 1 << 17

// totalKey names the Total entry. The aggregator keeps the Total in its own
// total field, outside the entries map, and does not store anything under
// this key.
const totalKey = "\x00total\x00"

type successEvent struct {
	method        string
	name          string
	responseTime  int64
	contentLength int64
	at            time.Time
}

type failureEvent struct {
	method       string
	name         string
	errorText    string
	responseTime int64
	at           time.Time
}

// Aggregator is the single-writer statistics aggregator: a single
// background goroutine owns all Entry and StatsError state; every other
// goroutine talks to it only through ReportSuccess, ReportFailure,
// RequestClear, and SetUserCount, none of which ever block the caller.
type Aggregator struct {
	logger *zap.Logger

	successQ chan successEvent
	failureQ chan failureEvent
	clearQ   chan struct{}

	reportInterval time.Duration
	snapshots      chan ReportSnapshot

	userCount chan int32

	entries map[string]*Entry
	total   *Entry
	errors  map[string]*StatsError

	dropped atomicCounter
}

// New builds an Aggregator that emits a ReportSnapshot every reportInterval.
// Run must be started in its own goroutine for the aggregator to do
// anything; the Report*/RequestClear methods are safe to call before Run
// starts, they simply queue.
func New(reportInterval time.Duration, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		logger:         logger.Named("stats"),
		successQ:       make(chan successEvent, queueCapacity),
		failureQ:       make(chan failureEvent, queueCapacity),
		clearQ:         make(chan struct{}, 1),
		reportInterval: reportInterval,
		snapshots:      make(chan ReportSnapshot, 4),
		userCount:      make(chan int32, 1),
		entries:        map[string]*Entry{},
		total:          newEntry("", ""),
		errors:         map[string]*StatsError{},
	}
}

// Snapshots returns the channel ReportSnapshots are published on. The
// channel buffers 4 snapshots; once it is full, Run blocks on a send for up
// to one report interval and then drops that snapshot with a warning.
func (a *Aggregator) Snapshots() <-chan ReportSnapshot {
	return a.snapshots
}

// DroppedEvents returns the number of success/failure events discarded
// because their queue was full.
func (a *Aggregator) DroppedEvents() int64 {
	return a.dropped.load()
}

// ReportSuccess records one successful call. Never blocks: if the queue is
// saturated the event is dropped and counted in DroppedEvents.
func (a *Aggregator) ReportSuccess(method, name string, responseTime time.Duration, contentLength int64) {
	ev := successEvent{
		method:        method,
		name:          name,
		responseTime:  responseTime.Milliseconds(),
		contentLength: contentLength,
		at:            time.Now(),
	}
	select {
	case a.successQ <- ev:
	default:
		a.dropped.inc()
	}
}

// ReportFailure records one failed call. Never blocks.
func (a *Aggregator) ReportFailure(method, name, errorText string, responseTime time.Duration) {
	ev := failureEvent{
		method:       method,
		name:         name,
		errorText:    errorText,
		responseTime: responseTime.Milliseconds(),
		at:           time.Now(),
	}
	select {
	case a.failureQ <- ev:
	default:
		a.dropped.inc()
	}
}

// RequestClear asks the aggregation loop to reset all counters at its next
// opportunity. Never blocks; a second call before the first is processed is
// a harmless no-op since one pending clear already covers it.
func (a *Aggregator) RequestClear() {
	select {
	case a.clearQ <- struct{}{}:
	default:
	}
}

// SetUserCount records the current spawned user count, surfaced on the next
// ReportSnapshot's UserCount field.
func (a *Aggregator) SetUserCount(n int32) {
	for {
		select {
		case a.userCount <- n:
			return
		default:
		}
		select {
		case <-a.userCount:
		default:
		}
	}
}

// Run drives the aggregation loop until ctx is cancelled. It is the single
// writer of all Entry/StatsError state: success events, failure events, and
// clear requests are drained as they arrive (Go's select statement picks
// uniformly at random among ready channels, which is what prevents any one
// queue from starving the others under load), and a ticker fires the
// periodic report build.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.reportInterval)
	defer ticker.Stop()

	var userCount int32
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-a.successQ:
			a.logSuccess(ev)

		case ev := <-a.failureQ:
			a.logFailure(ev)

		case <-a.clearQ:
			a.clear()

		case n := <-a.userCount:
			userCount = n

		case <-ticker.C:
			a.emit(userCount)
		}
	}
}

func (a *Aggregator) entryFor(method, name string) *Entry {
	key := method + "\x00" + name
	e, ok := a.entries[key]
	if !ok {
		e = newEntry(method, name)
		a.entries[key] = e
	}
	return e
}

func (a *Aggregator) logSuccess(ev successEvent) {
	e := a.entryFor(ev.method, ev.name)
	e.logRequest(ev.responseTime, ev.contentLength, ev.at)
	a.total.logRequest(ev.responseTime, ev.contentLength, ev.at)
}

func (a *Aggregator) logFailure(ev failureEvent) {
	e := a.entryFor(ev.method, ev.name)
	e.logFailure(ev.responseTime, ev.at)
	a.total.logFailure(ev.responseTime, ev.at)

	key := fingerprint(ev.method, ev.name, ev.errorText)
	se, ok := a.errors[key]
	if !ok {
		se = &StatsError{Method: ev.method, Name: ev.name, Error: ev.errorText}
		a.errors[key] = se
	}
	se.Occurrences++
}

// clear resets every entry and the error table. Entries stay in the map,
// but a reset entry has no requests and no failures, so emit leaves it out
// of reports until it records a new event.
func (a *Aggregator) clear() {
	for _, e := range a.entries {
		e.reset()
	}
	a.total.reset()
	a.errors = map[string]*StatsError{}
}

// emit builds a ReportSnapshot from the current state and publishes it,
// blocking for up to one report interval if the Snapshots buffer is full
// and dropping the snapshot after that. Per-entry
// histograms and per-second maps are preserved across reports (only clear()
// resets them); the error table is moved out and emptied, since errors are
// reported as "occurrences since last report" rather than as a running
// total.
func (a *Aggregator) emit(userCount int32) {
	stats := make([]EntryReport, 0, len(a.entries))
	for _, e := range a.entries {
		if e.NumRequests == 0 && e.NumFailures == 0 {
			continue
		}
		stats = append(stats, newEntryReport(e.clone()))
	}

	errs := a.errors
	a.errors = map[string]*StatsError{}
	errsOut := make(map[string]StatsError, len(errs))
	for k, v := range errs {
		errsOut[k] = *v
	}

	snap := ReportSnapshot{
		Stats:      stats,
		StatsTotal: newEntryReport(a.total.clone()),
		Errors:     errsOut,
		UserCount:  userCount,
	}

	select {
	case a.snapshots <- snap:
	case <-time.After(a.reportInterval):
		a.logger.Warn("dropping stats snapshot, consumer not draining Snapshots()")
	}
}
