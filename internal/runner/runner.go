// Package runner is the core controller: it owns the RunnerState machine,
// the control-pool goroutines (Receiver, Sender, Heartbeater,
// MasterLivenessWatcher), and the spawned UserWorker population, and wires
// together the transport, stats aggregator, task selector, and rate
// limiter.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swarmload/worker/internal/metrics"
	"github.com/swarmload/worker/internal/protocol"
	"github.com/swarmload/worker/internal/ratelimiter"
	"github.com/swarmload/worker/internal/stats"
	"github.com/swarmload/worker/internal/taskselector"
	"github.com/swarmload/worker/internal/userworker"
)

// Socket is everything Runner needs from the transport layer. Defined here
// (rather than depending on the concrete *transport.Transport) so tests can
// substitute an in-memory fake master; transport.Transport satisfies this
// interface without either package importing the other.
type Socket interface {
	Send(protocol.Message) error
	Recv() (protocol.Message, error)
	Close() error
}

// consecutiveHeartbeatFailureLimit is the number of consecutive failed
// heartbeat sends that move the Runner to Missing.
const consecutiveHeartbeatFailureLimit = 3

// exceptionQueueCapacity bounds the queue of unhandled user-code errors
// waiting to be sent as exception messages. It is deliberately small and
// non-blocking: a worker that hits this limit is producing exceptions far
// faster than the master can be told about them, and dropping the
// notification (while still counting the failure in stats) is preferable
// to blocking the user population on a slow master.
const exceptionQueueCapacity = 256

// Runner is the core controller coordinating the worker's connection to
// the master, the spawned user population, and stats/heartbeat reporting.
type Runner struct {
	nodeID     string
	socket     Socket
	aggregator *stats.Aggregator
	selector   *taskselector.Selector
	newLimiter func() ratelimiter.RateLimiter // nil disables rate limiting
	logger     *zap.Logger

	heartbeatInterval time.Duration
	masterMissing     time.Duration
	livenessPoll      time.Duration

	mu         sync.Mutex
	state      State
	population []*userworker.Worker
	target     int32
	limiter    ratelimiter.RateLimiter

	generation atomic.Int64

	lastInbound atomic.Int64 // unix nano
	hbFailures  atomic.Int32

	workerSeq  atomic.Int64
	exceptions chan protocol.Message
}

// Config bundles the construction-time parameters a Runner needs beyond
// its collaborators.
type Config struct {
	NodeID            string
	HeartbeatInterval time.Duration
	MasterMissing     time.Duration
	// LivenessPoll is how often the MasterLivenessWatcher checks elapsed
	// silence; it should be well under MasterMissing. Defaults to 1s.
	LivenessPoll time.Duration
}

// New builds a Runner in the Ready state. newLimiter, if non-nil, is
// called once per transition into Spawning (from Ready/Stopped) to build a
// fresh RateLimiter, which is (re)started on every such transition rather
// than reused across them.
func New(socket Socket, aggregator *stats.Aggregator, selector *taskselector.Selector, newLimiter func() ratelimiter.RateLimiter, cfg Config, logger *zap.Logger) *Runner {
	livenessPoll := cfg.LivenessPoll
	if livenessPoll <= 0 {
		livenessPoll = time.Second
	}
	r := &Runner{
		nodeID:            cfg.NodeID,
		socket:            socket,
		aggregator:        aggregator,
		selector:          selector,
		newLimiter:        newLimiter,
		logger:            logger.Named("runner"),
		heartbeatInterval: cfg.HeartbeatInterval,
		masterMissing:     cfg.MasterMissing,
		livenessPoll:      livenessPoll,
		state:             Ready,
		exceptions:        make(chan protocol.Message, exceptionQueueCapacity),
	}
	r.lastInbound.Store(time.Now().UnixNano())
	return r
}

// State returns the current RunnerState.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// UserCount returns the number of currently live UserWorkers.
func (r *Runner) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.population)
}

// Run starts the control pool (Receiver, Sender, Heartbeater,
// MasterLivenessWatcher) and blocks until ctx is cancelled or the
// connection fails fatally. It sends client_ready before entering the
// loop.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.send(protocol.NewMessage(protocol.MsgClientReady, r.nodeID, map[string]any{
		"version": float64(protocol.ProtocolVersion),
	})); err != nil {
		return fmt.Errorf("runner: initial client_ready: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.receiveLoop(ctx) })
	g.Go(func() error { r.senderLoop(ctx); return nil })
	g.Go(func() error { r.heartbeatLoop(ctx); return nil })
	g.Go(func() error { r.livenessLoop(ctx); return nil })

	err := g.Wait()
	r.stopAllWorkers()
	return err
}

// --- control pool loops ---

func (r *Runner) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := r.socket.Recv()
		if err != nil {
			if isTimedOut(err) {
				continue
			}
			r.logger.Error("transport closed unexpectedly, quitting", zap.Error(err))
			r.transitionQuitting()
			return err
		}

		r.lastInbound.Store(time.Now().UnixNano())
		r.dispatch(msg)

		r.mu.Lock()
		quitting := r.state == Quitting
		r.mu.Unlock()
		if quitting {
			return nil
		}
	}
}

func (r *Runner) senderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.aggregator.Snapshots():
			r.sendStats(snap)
		case msg := <-r.exceptions:
			_ = r.send(msg)
		}
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeat(ctx)
		}
	}
}

func (r *Runner) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(r.livenessPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, r.lastInbound.Load())
			if time.Since(last) >= r.masterMissing {
				r.transitionMissing()
			}
		}
	}
}

// --- dispatch ---

func (r *Runner) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgSpawn:
		r.handleSpawn(msg.Data)
	case protocol.MsgStop:
		r.handleStop()
	case protocol.MsgQuit:
		r.handleQuit()
	case protocol.MsgReconnect:
		r.handleReconnect()
	case protocol.MsgAck:
		r.handleAck()
	case protocol.MsgHeartbeat:
		// liveness already updated by the caller; no further action.
	default:
		r.logger.Info("ignoring unknown inbound message type", zap.String("type", string(msg.Type)))
	}
}

func (r *Runner) handleSpawn(data map[string]any) {
	target := int32(asFloat(data["user_count"]))
	rate := asFloat(data["spawn_rate"])

	r.mu.Lock()
	if r.state == Quitting {
		r.mu.Unlock()
		return
	}
	r.state = Spawning
	r.target = target
	if r.limiter == nil && r.newLimiter != nil {
		r.limiter = r.newLimiter()
		r.limiter.Start()
	}
	r.mu.Unlock()

	gen := r.generation.Add(1)
	go r.reconcile(gen, target, rate)
}

func (r *Runner) reconcile(gen int64, target int32, rate float64) {
	r.mu.Lock()
	current := int32(len(r.population))
	r.mu.Unlock()

	if current > target {
		r.mu.Lock()
		if r.generation.Load() != gen {
			r.mu.Unlock()
			return
		}
		n := int32(len(r.population))
		clamped := target
		if clamped < 0 {
			clamped = 0
		}
		if clamped > n {
			clamped = n
		}
		excess := append([]*userworker.Worker(nil), r.population[clamped:]...)
		r.population = r.population[:clamped]
		r.mu.Unlock()
		for i := len(excess) - 1; i >= 0; i-- {
			excess[i].Stop()
		}
	} else if current < target {
		interval := spawnInterval(rate)
		for {
			r.mu.Lock()
			if r.generation.Load() != gen {
				r.mu.Unlock()
				return
			}
			if int32(len(r.population)) >= target {
				r.mu.Unlock()
				break
			}
			w := r.newWorker()
			r.population = append(r.population, w)
			r.mu.Unlock()
			go w.Run()

			if interval > 0 {
				time.Sleep(interval)
			}
		}
	}

	r.mu.Lock()
	if r.generation.Load() != gen {
		r.mu.Unlock()
		return
	}
	if r.state == Spawning {
		r.state = Running
	}
	if r.limiter == nil && r.newLimiter != nil {
		r.limiter = r.newLimiter()
		r.limiter.Start()
	}
	r.mu.Unlock()

	r.aggregator.SetUserCount(target)
	r.send(protocol.NewMessage(protocol.MsgSpawningComplete, r.nodeID, map[string]any{
		"user_count": float64(target),
	}))
}

func (r *Runner) handleStop() {
	r.generation.Add(1) // cancel any in-flight reconcile
	r.stopAllWorkers()
	r.send(protocol.NewMessage(protocol.MsgClientStopped, r.nodeID, nil))
}

func (r *Runner) handleQuit() {
	r.generation.Add(1)
	r.stopAllWorkers()
	r.send(protocol.NewMessage(protocol.MsgClientStopped, r.nodeID, nil))
	r.transitionQuitting()
	_ = r.socket.Close()
}

func (r *Runner) handleReconnect() {
	// Stats and population are preserved across a reconnect; only the
	// handshake is repeated.
	r.send(protocol.NewMessage(protocol.MsgClientReady, r.nodeID, map[string]any{
		"version": float64(protocol.ProtocolVersion),
	}))
}

func (r *Runner) handleAck() {
	r.mu.Lock()
	if r.state == Missing {
		r.state = Ready
	}
	r.mu.Unlock()
}

func (r *Runner) stopAllWorkers() {
	r.mu.Lock()
	pop := r.population
	r.population = nil
	r.target = 0
	if r.state != Quitting {
		r.state = Stopped
	}
	limiter := r.limiter
	r.limiter = nil
	r.mu.Unlock()

	for _, w := range pop {
		w.Stop()
	}
	if limiter != nil {
		limiter.Stop()
	}
	r.aggregator.SetUserCount(0)
}

func (r *Runner) transitionMissing() {
	r.mu.Lock()
	changed := r.state != Missing && r.state != Quitting
	if changed {
		r.state = Missing
	}
	r.mu.Unlock()
	if changed {
		r.logger.Warn("master considered missing; attempting reconnect handshake")
		r.send(protocol.NewMessage(protocol.MsgClientReady, r.nodeID, map[string]any{
			"version": float64(protocol.ProtocolVersion),
		}))
	}
}

func (r *Runner) transitionQuitting() {
	r.mu.Lock()
	r.state = Quitting
	r.mu.Unlock()
}

// --- outbound helpers ---

func (r *Runner) send(m protocol.Message) error {
	if err := r.socket.Send(m); err != nil {
		r.logger.Warn("transport send failed", zap.String("type", string(m.Type)), zap.Error(err))
		return err
	}
	return nil
}

func (r *Runner) sendStats(snap stats.ReportSnapshot) {
	statsList := make([]any, 0, len(snap.Stats))
	for _, e := range snap.Stats {
		statsList = append(statsList, entryReportToWire(e))
	}
	errs := make(map[string]any, len(snap.Errors))
	for k, v := range snap.Errors {
		errs[k] = map[string]any{
			"method":      v.Method,
			"name":        v.Name,
			"error":       v.Error,
			"occurrences": float64(v.Occurrences),
		}
	}

	msg := protocol.NewMessage(protocol.MsgStats, r.nodeID, map[string]any{
		"stats":       statsList,
		"stats_total": entryReportToWire(snap.StatsTotal),
		"errors":      errs,
		"user_count":  float64(snap.UserCount),
	})
	if err := r.socket.Send(msg); err != nil {
		r.logger.Warn("dropping stats snapshot, transport send failed", zap.Error(err))
	}
}

func (r *Runner) sendHeartbeat(ctx context.Context) {
	snap := metrics.Collect(ctx)
	msg := protocol.NewMessage(protocol.MsgHeartbeat, r.nodeID, map[string]any{
		"state":             r.State().String(),
		"current_cpu_usage": snap.CPUPercent,
		"count":              float64(r.UserCount()),
	})
	if err := r.socket.Send(msg); err != nil {
		r.logger.Warn("heartbeat send failed", zap.Error(err))
		if r.hbFailures.Add(1) >= consecutiveHeartbeatFailureLimit {
			r.transitionMissing()
		}
		return
	}
	r.hbFailures.Store(0)
}

func (r *Runner) newWorker() *userworker.Worker {
	id := int(r.workerSeq.Add(1))
	var lim ratelimiter.RateLimiter
	if r.limiter != nil {
		lim = r.limiter
	}
	return userworker.New(id, lim, r.selector, r.aggregator, r.reportException, r.logger)
}

// reportException queues an exception message for an unhandled user-code
// error so the master can observe it, matching userworker's "report on
// behalf of a task that errored or panicked" contract. Non-blocking: under
// sustained exception pressure it drops and logs rather than stalling the
// worker that hit it.
func (r *Runner) reportException(method, name, errText string) {
	msg := protocol.NewMessage(protocol.MsgException, r.nodeID, map[string]any{
		"msg":       errText,
		"traceback": fmt.Sprintf("%s %s: %s", method, name, errText),
	})
	select {
	case r.exceptions <- msg:
	default:
		r.logger.Warn("dropping exception message, queue full",
			zap.String("method", method), zap.String("name", name))
	}
}

func spawnInterval(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rate)
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func isTimedOut(err error) bool {
	type timedOut interface{ Timeout() bool }
	if t, ok := err.(timedOut); ok {
		return t.Timeout()
	}
	return err != nil && err.Error() == "transport: recv timed out"
}

func entryReportToWire(e stats.EntryReport) map[string]any {
	rt := make(map[string]any, len(e.ResponseTimes))
	for k, v := range e.ResponseTimes {
		rt[fmt.Sprintf("%d", k)] = float64(v)
	}
	reqSec := make(map[string]any, len(e.RequestsPerSecond))
	for k, v := range e.RequestsPerSecond {
		reqSec[fmt.Sprintf("%d", k)] = float64(v)
	}
	failSec := make(map[string]any, len(e.FailuresPerSecond))
	for k, v := range e.FailuresPerSecond {
		failSec[fmt.Sprintf("%d", k)] = float64(v)
	}
	return map[string]any{
		"name":                  e.Name,
		"method":                e.Method,
		"last_request_timestamp": float64(e.LastRequestTimestamp),
		"start_time":            float64(e.StartTime),
		"num_requests":          float64(e.NumRequests),
		"num_none_requests":     float64(0),
		"num_failures":          float64(e.NumFailures),
		"total_response_time":   float64(e.TotalResponseTime),
		"max_response_time":     float64(e.MaxResponseTime),
		"min_response_time":     float64(e.MinResponseTime),
		"total_content_length":  float64(e.TotalContentLength),
		"response_times":        rt,
		"num_reqs_per_sec":      reqSec,
		"num_fail_per_sec":      failSec,
	}
}
