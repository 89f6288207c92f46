// Package task implements spec.md §4.8's task-level orchestration: create
// a task row, expand inputs against the store, dispatch each resource to
// a bounded worker pool, and sweep the cache on teardown.
package task

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/fetch/pkg/cache"
	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/log"
	"github.com/cuemby/fetch/pkg/metrics"
	"github.com/cuemby/fetch/pkg/resource"
	"github.com/cuemby/fetch/pkg/store"
	"github.com/cuemby/fetch/pkg/types"
)

// Config carries the knobs a Run needs beyond the store/cache it is given.
type Config struct {
	DestRoot    string
	Concurrency int

	// Debug aborts the whole task at the first (resource, source) failure
	// instead of aggregating every failure into a TaskError, and logs a
	// stack trace alongside it (spec.md's debug mode).
	Debug bool
}

// Run creates a task, expands inputs into resource names, and applies op
// to each concurrently, aggregating every (resource, source) failure into
// one TaskError rather than aborting peers.
func Run(ctx context.Context, st store.Store, client *http.Client, c *cache.Cache, cfg Config, inputs []string, op types.Action, arguments string, force bool) error {
	timer := metrics.NewTimer()
	metrics.TasksTotal.Inc()
	defer timer.ObserveDuration(metrics.TaskDuration)

	taskID, err := st.NewTask()
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	logger := log.WithTaskID(taskID)

	names, err := expandInputs(st, inputs, op)
	if err != nil {
		return fmt.Errorf("expand task inputs: %w", err)
	}
	logger.Info().Int("resources", len(names)).Str("action", string(op)).Msg("task started")

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	taskErr := &fetcherrors.TaskError{}

	for _, name := range names {
		name := name
		g.Go(func() error {
			err := resource.Apply(gctx, st, client, cfg.DestRoot, taskID, name, op, arguments, force)
			if err == nil {
				return nil
			}
			if cfg.Debug {
				// Surface the first (resource, source) failure itself rather
				// than the resource's aggregate of them.
				if nested, ok := fetcherrors.AsTaskError(err); ok && nested.HasFailures() {
					err = nested.Failures[0]
				}
				logger.Error().Err(err).Str("resource", name).
					Bytes("stack", debug.Stack()).
					Msg("aborting task at first error (debug mode)")
				return fmt.Errorf("resource %q: %w", name, err)
			}
			// A single resource's failure never aborts its peers
			// (spec.md §5: "A Task does not abort peers on a single
			// Source failure") unless Debug is set.
			mu.Lock()
			mergeError(taskErr, name, err)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("task %s aborted: %w", taskID, err)
	}

	if c != nil {
		sweepTimer := metrics.NewTimer()
		if err := c.Sweep(); err != nil {
			logger.Warn().Err(err).Msg("cache sweep failed")
			metrics.UpdateComponent("cache", false, err.Error())
		} else {
			metrics.UpdateComponent("cache", true, "")
		}
		sweepTimer.ObserveDuration(metrics.CacheSweepDuration)
	}

	if taskErr.HasFailures() {
		logger.Warn().Int("failures", len(taskErr.Failures)).Msg("task completed with failures")
		return taskErr
	}
	logger.Info().Msg("task completed")
	return nil
}

// mergeError folds a resource.Apply error into the task's aggregate,
// flattening a nested TaskError rather than double-wrapping it.
func mergeError(taskErr *fetcherrors.TaskError, resourceName string, err error) {
	if nested, ok := fetcherrors.AsTaskError(err); ok {
		taskErr.Failures = append(taskErr.Failures, nested.Failures...)
		return
	}
	taskErr.Add(resourceName, "", err)
}

// expandInputs implements spec.md §4.8: for update/remove, each input is
// glob-expanded against stored resource names; otherwise inputs are taken
// as exact names.
func expandInputs(st store.Store, inputs []string, op types.Action) ([]string, error) {
	if op != types.ActionUpdate && op != types.ActionRemove {
		return inputs, nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, pattern := range inputs {
		matches, err := st.FindResourceByGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob resources matching %q: %w", pattern, err)
		}
		for _, res := range matches {
			if seen[res.Name] {
				continue
			}
			seen[res.Name] = true
			names = append(names, res.Name)
		}
	}
	return names, nil
}
