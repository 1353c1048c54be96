// Package ratelimiter shapes aggregate worker throughput with a token-bucket
// mechanism. It provides two variants sharing one contract: Stable (fixed
// capacity, periodic full refill) and RampUp (capacity grows over time up to
// a ceiling, on its own schedule, independent of the refill cadence).
//
// Neither variant paces individual users — Acquire only shapes throughput in
// aggregate, across the whole population.
package ratelimiter

// RateLimiter is the contract shared by both variants.
type RateLimiter interface {
	// Acquire blocks the caller until a token is available, then consumes
	// it. It returns false, without blocking, if the limiter is already
	// stopped or its capacity is below 1, and returns false if the limiter
	// is stopped while the caller waits.
	Acquire() bool
	Start()
	Stop()
	IsStopped() bool
}
