package stats

// EntryReport is the outbound, wire-shaped view of an Entry: plain value
// types only, safe to hand to a codec or to a test without exposing the
// aggregator's live maps.
type EntryReport struct {
	Name   string
	Method string

	NumRequests        int64
	NumFailures        int64
	TotalResponseTime  int64
	MinResponseTime    int64
	MaxResponseTime    int64
	TotalContentLength int64

	StartTime             int64
	LastRequestTimestamp  int64

	ResponseTimes     map[int64]int64
	RequestsPerSecond map[int64]int64
	FailuresPerSecond map[int64]int64
}

func newEntryReport(e *Entry) EntryReport {
	min := e.MinResponseTime
	if min == unsetMin {
		min = 0
	}
	return EntryReport{
		Name:                 e.Name,
		Method:               e.Method,
		NumRequests:          e.NumRequests,
		NumFailures:          e.NumFailures,
		TotalResponseTime:    e.TotalResponseTime,
		MinResponseTime:      min,
		MaxResponseTime:      e.MaxResponseTime,
		TotalContentLength:   e.TotalContentLength,
		StartTime:            e.StartTime.Unix(),
		LastRequestTimestamp: e.LastRequestTimestamp.Unix(),
		ResponseTimes:        e.Histogram,
		RequestsPerSecond:    e.RequestsPerSecond,
		FailuresPerSecond:    e.FailuresPerSecond,
	}
}

// ReportSnapshot is one aggregation-interval report: the per-(method,name)
// breakdown, the running total across all of them, and the distinct errors
// observed since the previous snapshot.
type ReportSnapshot struct {
	Stats      []EntryReport
	StatsTotal EntryReport
	Errors     map[string]StatsError
	UserCount  int32
}
