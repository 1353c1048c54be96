// Package config defines the worker's configuration surface and binds it
// to CLI flags with environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// RateLimiterKind selects which RateLimiter variant (if any) the Runner
// constructs.
type RateLimiterKind string

const (
	RateLimiterNone    RateLimiterKind = "none"
	RateLimiterStable  RateLimiterKind = "stable"
	RateLimiterRampUp  RateLimiterKind = "rampup"
)

// Config is the full recognized configuration surface for the worker.
type Config struct {
	MasterHost string
	MasterPort int

	LogLevel string

	RateLimiter        RateLimiterKind
	StableMaxThreshold int64
	StablePeriod       time.Duration

	RampMaxThreshold int64
	RampUpStep       int64
	RampUpPeriod     time.Duration
	RefillPeriod     time.Duration

	RecvTimeout       time.Duration
	HeartbeatInterval time.Duration
	ReportInterval    time.Duration
	MasterMissing     time.Duration
}

// Default timing constants for the worker's control loops.
const (
	DefaultRecvTimeout       = 300 * time.Millisecond
	DefaultHeartbeatInterval = 1000 * time.Millisecond
	DefaultReportInterval    = 3000 * time.Millisecond
	DefaultMasterMissing     = 60000 * time.Millisecond
)

// RegisterFlags attaches every Config field to cmd's persistent flags, each
// defaulting to its environment variable if set.
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	cmd.PersistentFlags().StringVar(&cfg.MasterHost, "master-host", envOrDefault("SWARM_MASTER_HOST", "127.0.0.1"), "load-test master hostname")
	cmd.PersistentFlags().IntVar(&cfg.MasterPort, "master-port", envIntOrDefault("SWARM_MASTER_PORT", 5557), "load-test master port")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", envOrDefault("SWARM_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	cmd.PersistentFlags().StringVar((*string)(&cfg.RateLimiter), "rate-limiter", envOrDefault("SWARM_RATE_LIMITER", string(RateLimiterNone)), "rate limiter variant: none, stable, rampup")
	cmd.PersistentFlags().Int64Var(&cfg.StableMaxThreshold, "stable-max-threshold", envInt64OrDefault("SWARM_STABLE_MAX_THRESHOLD", 0), "stable limiter: tokens per period")
	cmd.PersistentFlags().DurationVar(&cfg.StablePeriod, "stable-period", envDurationOrDefault("SWARM_STABLE_PERIOD", time.Second), "stable limiter: refill period")

	cmd.PersistentFlags().Int64Var(&cfg.RampMaxThreshold, "rampup-max-threshold", envInt64OrDefault("SWARM_RAMPUP_MAX_THRESHOLD", 0), "ramp-up limiter: ceiling tokens per refill")
	cmd.PersistentFlags().Int64Var(&cfg.RampUpStep, "rampup-step", envInt64OrDefault("SWARM_RAMPUP_STEP", 0), "ramp-up limiter: growth step")
	cmd.PersistentFlags().DurationVar(&cfg.RampUpPeriod, "rampup-period", envDurationOrDefault("SWARM_RAMPUP_PERIOD", time.Second), "ramp-up limiter: growth period")
	cmd.PersistentFlags().DurationVar(&cfg.RefillPeriod, "rampup-refill-period", envDurationOrDefault("SWARM_RAMPUP_REFILL_PERIOD", time.Second), "ramp-up limiter: refill period")

	cmd.PersistentFlags().DurationVar(&cfg.RecvTimeout, "recv-timeout", envDurationOrDefault("SWARM_RECV_TIMEOUT", DefaultRecvTimeout), "transport recv timeout")
	cmd.PersistentFlags().DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", envDurationOrDefault("SWARM_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval), "heartbeat send interval")
	cmd.PersistentFlags().DurationVar(&cfg.ReportInterval, "report-interval", envDurationOrDefault("SWARM_REPORT_INTERVAL", DefaultReportInterval), "stats report interval")
	cmd.PersistentFlags().DurationVar(&cfg.MasterMissing, "master-missing", envDurationOrDefault("SWARM_MASTER_MISSING", DefaultMasterMissing), "silence before the master is considered missing")
}

// Validate rejects configurations that cannot be started: invalid options
// at startup are fatal, and the worker refuses to start rather than run
// with a nonsensical configuration.
func (c *Config) Validate() error {
	if c.MasterHost == "" {
		return fmt.Errorf("config: master-host must not be empty")
	}
	if c.MasterPort <= 0 || c.MasterPort > 65535 {
		return fmt.Errorf("config: master-port %d out of range", c.MasterPort)
	}
	if c.RecvTimeout <= 0 {
		return fmt.Errorf("config: recv-timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat-interval must be positive")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("config: report-interval must be positive")
	}
	if c.MasterMissing <= 0 {
		return fmt.Errorf("config: master-missing must be positive")
	}

	switch RateLimiterKind(c.RateLimiter) {
	case RateLimiterNone:
	case RateLimiterStable:
		if c.StableMaxThreshold < 1 {
			return fmt.Errorf("config: stable-max-threshold must be >= 1")
		}
		if c.StablePeriod <= 0 {
			return fmt.Errorf("config: stable-period must be positive")
		}
	case RateLimiterRampUp:
		if c.RampMaxThreshold < 1 {
			return fmt.Errorf("config: rampup-max-threshold must be >= 1")
		}
		if c.RampUpStep < 1 {
			return fmt.Errorf("config: rampup-step must be >= 1")
		}
		if c.RampUpPeriod <= 0 || c.RefillPeriod <= 0 {
			return fmt.Errorf("config: rampup-period and rampup-refill-period must be positive")
		}
	default:
		return fmt.Errorf("config: unknown rate-limiter %q", c.RateLimiter)
	}

	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
