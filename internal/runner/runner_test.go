package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmload/worker/internal/protocol"
	"github.com/swarmload/worker/internal/runner"
	"github.com/swarmload/worker/internal/stats"
	"github.com/swarmload/worker/internal/taskselector"
	"github.com/swarmload/worker/internal/testmaster"
)

const nodeID = "test-node"

func newHarness(t *testing.T, agg *stats.Aggregator, cfg runner.Config) (*runner.Runner, *testmaster.Master, context.CancelFunc) {
	t.Helper()
	return newHarnessWithTasks(t, agg, cfg, []taskselector.Task{
		{Name: "/x", Method: "GET", Weight: 1, Fn: func() error {
			agg.ReportSuccess("GET", "/x", time.Millisecond, 100)
			return nil
		}},
	})
}

func newHarnessWithTasks(t *testing.T, agg *stats.Aggregator, cfg runner.Config, tasks []taskselector.Task) (*runner.Runner, *testmaster.Master, context.CancelFunc) {
	t.Helper()
	master := testmaster.New()
	sel, err := taskselector.New(tasks)
	require.NoError(t, err)

	r := runner.New(master.Socket(), agg, sel, nil, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	aggCtx, aggCancel := context.WithCancel(ctx)
	go agg.Run(aggCtx)
	go r.Run(ctx)

	return r, master, func() {
		aggCancel()
		cancel()
		master.Close()
	}
}

func TestRunner_SpawnRunStop(t *testing.T) {
	agg := stats.New(50*time.Millisecond, zap.NewNop())
	r, master, stop := newHarness(t, agg, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: 100 * time.Millisecond,
		MasterMissing:     10 * time.Second,
		LivenessPoll:      50 * time.Millisecond,
	})
	defer stop()

	_, ok := master.RecvType(protocol.MsgClientReady, time.Second)
	require.True(t, ok, "expected client_ready on startup")

	master.SendSpawn(nodeID, 5, 5)

	complete, ok := master.RecvType(protocol.MsgSpawningComplete, 1500*time.Millisecond)
	require.True(t, ok, "expected spawning_complete within 1500ms")
	assert.Equal(t, float64(5), complete.Data["user_count"])
	assert.Equal(t, runner.Running, r.State())

	statsMsg, ok := master.RecvType(protocol.MsgStats, 4*time.Second)
	require.True(t, ok, "expected a stats snapshot within 4s")
	total, ok := statsMsg.Data["stats_total"].(map[string]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, total["num_requests"], float64(5))

	master.SendStop(nodeID)
	_, ok = master.RecvType(protocol.MsgClientStopped, 500*time.Millisecond)
	require.True(t, ok, "expected client_stopped within 500ms")
	assert.Equal(t, runner.Stopped, r.State())
}

// Mid-spawn stop: a spawn targeting many users at a slow rate is cut short
// by a stop; the runner must not keep spawning toward the old target.
func TestRunner_StopDuringSpawn(t *testing.T) {
	agg := stats.New(100*time.Millisecond, zap.NewNop())
	r, master, stop := newHarness(t, agg, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: 200 * time.Millisecond,
		MasterMissing:     10 * time.Second,
		LivenessPoll:      50 * time.Millisecond,
	})
	defer stop()

	_, ok := master.RecvType(protocol.MsgClientReady, time.Second)
	require.True(t, ok)

	master.SendSpawn(nodeID, 50, 5) // 10s to finish spawning at this rate
	time.Sleep(100 * time.Millisecond)
	master.SendStop(nodeID)

	_, ok = master.RecvType(protocol.MsgClientStopped, 500*time.Millisecond)
	require.True(t, ok)

	time.Sleep(300 * time.Millisecond) // let any stray spawn goroutine notice the cancel
	assert.Equal(t, 0, r.UserCount())
	assert.Equal(t, runner.Stopped, r.State())
}

// Mid-spawn respawn: retargeting during an in-flight spawn must converge on
// the newest target, not the superseded one.
func TestRunner_RespawnDuringSpawn(t *testing.T) {
	agg := stats.New(100*time.Millisecond, zap.NewNop())
	_, master, stop := newHarness(t, agg, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: 200 * time.Millisecond,
		MasterMissing:     10 * time.Second,
		LivenessPoll:      50 * time.Millisecond,
	})
	defer stop()

	_, ok := master.RecvType(protocol.MsgClientReady, time.Second)
	require.True(t, ok)

	master.SendSpawn(nodeID, 50, 5) // slow; would take 10s to reach 50
	time.Sleep(100 * time.Millisecond)
	master.SendSpawn(nodeID, 3, 100) // fast retarget, much smaller target

	complete, ok := master.RecvType(protocol.MsgSpawningComplete, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, float64(3), complete.Data["user_count"])
}

// A task that returns an error (an unhandled user-code error, not a
// self-reported failure) must reach the master as an exception message,
// not just count against stats.
func TestRunner_UnhandledTaskErrorSendsException(t *testing.T) {
	agg := stats.New(50*time.Millisecond, zap.NewNop())
	r, master, stop := newHarnessWithTasks(t, agg, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: 200 * time.Millisecond,
		MasterMissing:     10 * time.Second,
		LivenessPoll:      50 * time.Millisecond,
	}, []taskselector.Task{
		{Name: "/broken", Method: "GET", Weight: 1, Fn: func() error {
			return errors.New("boom")
		}},
	})
	defer stop()

	_, ok := master.RecvType(protocol.MsgClientReady, time.Second)
	require.True(t, ok)

	master.SendSpawn(nodeID, 1, 1)
	_, ok = master.RecvType(protocol.MsgSpawningComplete, 1500*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, runner.Running, r.State())

	exc, ok := master.RecvType(protocol.MsgException, 2*time.Second)
	require.True(t, ok, "expected an exception message for the unhandled task error")
	assert.Contains(t, exc.Data["msg"], "boom")
}

func TestRunner_MasterMissingTransition(t *testing.T) {
	agg := stats.New(time.Second, zap.NewNop())
	r, master, stop := newHarness(t, agg, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: 500 * time.Millisecond,
		MasterMissing:     250 * time.Millisecond,
		LivenessPoll:      20 * time.Millisecond,
	})
	defer stop()

	_, ok := master.RecvType(protocol.MsgClientReady, time.Second)
	require.True(t, ok)
	master.SendAck(nodeID)

	assert.Eventually(t, func() bool {
		return r.State() == runner.Missing
	}, 2*time.Second, 10*time.Millisecond, "runner never transitioned to Missing")

	// The runner should attempt a reconnect handshake on top of the
	// startup one already drained above.
	_, ok = master.RecvType(protocol.MsgClientReady, time.Second)
	assert.True(t, ok, "expected a reconnect client_ready after going Missing")
}

// Heartbeats keep arriving on cadence even while the receiver is blocked
// in its bounded-timeout recv loop with no inbound traffic.
func TestRunner_HeartbeatsArriveOnCadence(t *testing.T) {
	agg := stats.New(time.Second, zap.NewNop())
	_, master, stop := newHarness(t, agg, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: 60 * time.Millisecond,
		MasterMissing:     10 * time.Second,
		LivenessPoll:      50 * time.Millisecond,
	})
	defer stop()

	_, ok := master.RecvType(protocol.MsgClientReady, time.Second)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		_, ok := master.RecvType(protocol.MsgHeartbeat, 500*time.Millisecond)
		require.True(t, ok, "heartbeat %d did not arrive in time", i)
	}
}
