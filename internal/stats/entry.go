package stats

import "time"

// unsetMin marks an Entry that has not yet recorded a response time, so the
// first sample always becomes the new minimum regardless of its value.
const unsetMin = int64(-1)

// Entry accumulates counters, a response-time histogram, and per-second
// request/failure counts for one (method, name) pair — or, for the
// distinguished Total entry, across all of them.
type Entry struct {
	Name   string
	Method string

	NumRequests         int64
	NumFailures         int64
	TotalResponseTime   int64
	MinResponseTime     int64
	MaxResponseTime     int64
	TotalContentLength  int64
	StartTime           time.Time
	LastRequestTimestamp time.Time

	Histogram         map[int64]int64
	RequestsPerSecond map[int64]int64
	FailuresPerSecond map[int64]int64
}

func newEntry(method, name string) *Entry {
	return &Entry{
		Name:              name,
		Method:            method,
		MinResponseTime:   unsetMin,
		StartTime:         time.Now(),
		Histogram:         map[int64]int64{},
		RequestsPerSecond: map[int64]int64{},
		FailuresPerSecond: map[int64]int64{},
	}
}

// logRequest records one successful call of duration rt (milliseconds)
// transferring contentLength bytes, observed at now.
func (e *Entry) logRequest(rt, contentLength int64, now time.Time) {
	e.NumRequests++
	e.TotalResponseTime += rt
	e.TotalContentLength += contentLength

	if e.MinResponseTime == unsetMin || rt < e.MinResponseTime {
		e.MinResponseTime = rt
	}
	if rt > e.MaxResponseTime {
		e.MaxResponseTime = rt
	}

	e.Histogram[RoundToSignificant(rt)]++
	e.RequestsPerSecond[now.Unix()]++
	e.LastRequestTimestamp = now
}

// logFailure records one failed call observed at now. Failures still carry a
// response time (the call ran to completion before failing its assertion or
// erroring out), so a failure goes through the same accounting as a
// successful logRequest call — incrementing NumRequests, updating
// min/max, and folding into the same histogram and RequestsPerSecond a
// success would — with NumFailures, FailuresPerSecond, and the error
// fingerprint table layered on top as the only failure-specific bookkeeping.
func (e *Entry) logFailure(rt int64, now time.Time) {
	e.logRequest(rt, 0, now)
	e.NumFailures++
	e.FailuresPerSecond[now.Unix()]++
}

// clone returns a deep copy of e, suitable for handing to a report consumer
// that reads concurrently with further aggregator mutation.
func (e *Entry) clone() *Entry {
	c := &Entry{
		Name:                 e.Name,
		Method:               e.Method,
		NumRequests:          e.NumRequests,
		NumFailures:          e.NumFailures,
		TotalResponseTime:    e.TotalResponseTime,
		MinResponseTime:      e.MinResponseTime,
		MaxResponseTime:      e.MaxResponseTime,
		TotalContentLength:   e.TotalContentLength,
		StartTime:            e.StartTime,
		LastRequestTimestamp: e.LastRequestTimestamp,
		Histogram:            make(map[int64]int64, len(e.Histogram)),
		RequestsPerSecond:    make(map[int64]int64, len(e.RequestsPerSecond)),
		FailuresPerSecond:    make(map[int64]int64, len(e.FailuresPerSecond)),
	}
	for k, v := range e.Histogram {
		c.Histogram[k] = v
	}
	for k, v := range e.RequestsPerSecond {
		c.RequestsPerSecond[k] = v
	}
	for k, v := range e.FailuresPerSecond {
		c.FailuresPerSecond[k] = v
	}
	return c
}

// reset zeroes e in place, as if newly created, keeping its identity.
func (e *Entry) reset() {
	e.NumRequests = 0
	e.NumFailures = 0
	e.TotalResponseTime = 0
	e.MinResponseTime = unsetMin
	e.MaxResponseTime = 0
	e.TotalContentLength = 0
	e.StartTime = time.Now()
	e.LastRequestTimestamp = time.Time{}
	e.Histogram = map[int64]int64{}
	e.RequestsPerSecond = map[int64]int64{}
	e.FailuresPerSecond = map[int64]int64{}
}
