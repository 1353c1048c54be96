// Package tasks provides example task implementations that plug into
// taskselector.Selector: an HTTP request task and a shell-command task. Real
// deployments supply their own; these exist to give the worker something to
// run end-to-end and to demonstrate the self-reporting contract UserWorker
// expects from task code.
package tasks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmload/worker/internal/stats"
	"github.com/swarmload/worker/internal/taskselector"
)

// HTTPTaskConfig describes one HTTP request task.
type HTTPTaskConfig struct {
	Name   string // stats entry name, e.g. "/login"
	Method string
	URL    string
	Weight int
	Client *http.Client // nil uses http.DefaultClient
}

// HTTPTask builds a taskselector.Task that issues one HTTP request per
// invocation and reports its own outcome to aggregator, timing the request
// itself rather than letting the UserWorker shell time it — tasks calling
// back into reportSuccess/reportFailure with their own timing is the
// default, expected pattern.
func HTTPTask(cfg HTTPTaskConfig, aggregator *stats.Aggregator) taskselector.Task {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	return taskselector.Task{
		Name:   cfg.Name,
		Method: cfg.Method,
		Weight: cfg.Weight,
		Fn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}

			start := time.Now()
			resp, err := client.Do(req)
			elapsed := time.Since(start)
			if err != nil {
				aggregator.ReportFailure(cfg.Method, cfg.Name, err.Error(), elapsed)
				return nil
			}
			defer resp.Body.Close()

			n, _ := io.Copy(io.Discard, resp.Body)
			if resp.StatusCode >= 400 {
				aggregator.ReportFailure(cfg.Method, cfg.Name, fmt.Sprintf("status %d", resp.StatusCode), elapsed)
				return nil
			}

			aggregator.ReportSuccess(cfg.Method, cfg.Name, elapsed, n)
			return nil
		},
	}
}
