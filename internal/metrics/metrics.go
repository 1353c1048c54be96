// Package metrics collects host resource utilization for heartbeat
// reporting.
package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// sampleWindow bounds how long Collect spends measuring CPU percent. It
// must stay well under HEARTBEAT_INTERVAL_MS so a slow metrics sample never
// delays the heartbeat loop.
const sampleWindow = 200 * time.Millisecond

// Snapshot is a point-in-time read of host resource usage. Only CPU is
// wired into the heartbeat's current_cpu_usage field today; the struct
// leaves room for the other gauges the wire format allows without forcing
// every caller to thread new parameters through.
type Snapshot struct {
	CPUPercent float64
}

// Collect returns a snapshot of current host CPU usage (0-100). It blocks
// for up to sampleWindow to get a non-instantaneous reading; on any
// collection error it returns a zero snapshot rather than failing the
// heartbeat.
func Collect(ctx context.Context) Snapshot {
	percents, err := cpu.PercentWithContext(ctx, sampleWindow, false)
	if err != nil || len(percents) == 0 {
		return Snapshot{}
	}
	return Snapshot{CPUPercent: percents[0]}
}
