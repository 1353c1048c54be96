// Package main is the entry point for the swarmworker binary.
// It wires all internal packages together and starts the runner.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Dial the master over the transport
//  4. Build stats aggregator, task selector, rate limiter factory
//  5. Build the Runner and publish it as the process-wide singleton
//  6. Start the aggregator and the Runner
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarmload/worker/internal/config"
	"github.com/swarmload/worker/internal/protocol"
	"github.com/swarmload/worker/internal/ratelimiter"
	"github.com/swarmload/worker/internal/runner"
	"github.com/swarmload/worker/internal/stats"
	"github.com/swarmload/worker/internal/taskselector"
	"github.com/swarmload/worker/internal/transport"
	"github.com/swarmload/worker/tasks"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "swarmworker",
		Short: "swarmworker — worker-side runtime for a distributed load generator",
		Long: `swarmworker connects to a load-test master over a persistent
bidirectional socket, spawns simulated users on demand, and reports
aggregated statistics and liveness back to the master.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	config.RegisterFlags(root, cfg)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("swarmworker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	nodeID := protocol.NewNodeID()
	logger.Info("starting swarmworker",
		zap.String("version", version),
		zap.String("node_id", nodeID),
		zap.String("master", fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%d/worker", cfg.MasterHost, cfg.MasterPort)
	tr, err := transport.Dial(ctx, url, http.Header{}, protocol.ProtoCodec{}, logger, transport.WithRecvTimeout(cfg.RecvTimeout))
	if err != nil {
		return fmt.Errorf("failed to connect to master: %w", err)
	}
	defer tr.Close()

	aggregator := stats.New(cfg.ReportInterval, logger)

	selector, err := taskselector.New(defaultTasks(aggregator))
	if err != nil {
		return fmt.Errorf("failed to build task selector: %w", err)
	}

	newLimiter := buildLimiterFactory(cfg)

	r := runner.New(tr, aggregator, selector, newLimiter, runner.Config{
		NodeID:            nodeID,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MasterMissing:     cfg.MasterMissing,
	}, logger)
	runner.SetCurrent(r)

	go aggregator.Run(ctx)

	logger.Info("swarmworker connected, entering runner loop")
	if err := r.Run(ctx); err != nil {
		logger.Warn("runner stopped", zap.Error(err))
	}

	logger.Info("swarmworker stopped")
	return nil
}

// defaultTasks is a placeholder task set so the binary runs end-to-end out
// of the box; real deployments replace this with their own tasks package.
func defaultTasks(aggregator *stats.Aggregator) []taskselector.Task {
	return []taskselector.Task{
		tasks.HTTPTask(tasks.HTTPTaskConfig{
			Name:   "/",
			Method: "GET",
			URL:    "http://localhost/",
			Weight: 1,
		}, aggregator),
	}
}

func buildLimiterFactory(cfg *config.Config) func() ratelimiter.RateLimiter {
	switch config.RateLimiterKind(cfg.RateLimiter) {
	case config.RateLimiterStable:
		return func() ratelimiter.RateLimiter {
			return ratelimiter.NewStable(cfg.StableMaxThreshold, cfg.StablePeriod)
		}
	case config.RateLimiterRampUp:
		return func() ratelimiter.RateLimiter {
			return ratelimiter.NewRampUp(cfg.RampMaxThreshold, cfg.RampUpStep, cfg.RampUpPeriod, cfg.RefillPeriod)
		}
	default:
		return nil
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var zapCfg zap.Config

	switch level {
	case "debug":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		zapCfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zapCfg.Build()
}
