// Package dispatch fans a single command out across many remote targets,
// bounded by a concurrency ceiling. Each target is executed by an isolated
// worker; the coordinator reaps completions, classifies them, and
// aggregates a complete success/failure partition of the batch.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/a8cteam51/team51-cli-new/internal/connector"
	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// Report is the aggregate outcome of one dispatch run. Every submitted task
// ID appears in exactly one of the two maps.
type Report struct {
	Successes map[string]json.RawMessage
	Failures  map[string]tasks.Failure

	Started  time.Time
	Finished time.Time
}

// Total returns the number of tasks the run accounted for.
func (r *Report) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// Dispatcher owns the bounded worker pool. All strategies are injected at
// construction; a Dispatcher holds no per-run state and may be reused for
// sequential runs.
type Dispatcher struct {
	config     Config
	worker     *Worker
	classify   ClassifyFunc
	onProgress ProgressFunc
	metrics    *Metrics
}

// New builds a dispatcher over the given connector.
func New(conn connector.Connector, config Config, opts ...Option) (*Dispatcher, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}

	d := &Dispatcher{
		config:   config,
		worker:   NewWorker(conn),
		classify: Classify,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// completion is the single message a worker goroutine sends back to the
// coordinator. Workers never touch the report maps themselves.
type completion struct {
	taskID  string
	kind    tasks.TargetKind
	outcome tasks.RawOutcome
	started time.Time
}

// Run launches workers for the batch in submission order, never exceeding
// the concurrency ceiling, and blocks until every task has a terminal
// result. Failures are terminal; nothing is retried. Cancelling ctx stops
// further launches and records never-launched tasks as failures, so the
// returned report is always a complete partition of the batch.
//
// The returned error reports caller mistakes (malformed batch) and aborts
// the run before any launch; remote-environment problems surface as
// per-task failures instead.
func (d *Dispatcher) Run(ctx context.Context, batch []tasks.Task) (*Report, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	report := &Report{
		Successes: make(map[string]json.RawMessage, len(batch)),
		Failures:  make(map[string]tasks.Failure),
		Started:   time.Now(),
	}

	total := len(batch)
	if d.metrics != nil {
		d.metrics.workersCapacity.Set(float64(d.config.Concurrency))
	}

	slog.Info("dispatch started",
		"tasks", total,
		"concurrency", d.config.Concurrency,
		"per_task_timeout", d.config.PerTaskTimeout)

	if total == 0 {
		report.Finished = report.Started
		return report, nil
	}

	completions := make(chan completion, d.config.Concurrency)
	inFlight := 0
	completed := 0
	failed := 0

	// record is the only writer of the report maps; it runs exclusively on
	// the coordinator goroutine.
	record := func(taskID string, kind tasks.TargetKind, outcome tasks.RawOutcome) {
		result := d.classify(taskID, outcome)
		if result.OK() {
			report.Successes[taskID] = result.Payload
			slog.Debug("task succeeded", "task_id", taskID, "kind", kind)
		} else {
			report.Failures[taskID] = *result.Failure
			failed++
			slog.Warn("task failed",
				"task_id", taskID,
				"kind", kind,
				"error", result.Failure.Kind,
				"detail", result.Failure.Detail)
		}
		completed++

		if d.metrics != nil {
			status := "success"
			if !result.OK() {
				status = string(result.Failure.Kind)
			}
			d.metrics.tasksCompleted.WithLabelValues(string(kind), status).Inc()
		}
		if d.onProgress != nil {
			d.onProgress(completed, total, failed)
		}
	}

	reap := func(c completion) {
		inFlight--
		if d.metrics != nil {
			d.metrics.workersActive.Dec()
			d.metrics.taskDuration.WithLabelValues(string(c.kind)).Observe(time.Since(c.started).Seconds())
		}
		record(c.taskID, c.kind, c.outcome)
	}

	launch := func(t tasks.Task) {
		inFlight++
		if d.metrics != nil {
			d.metrics.workersActive.Inc()
			d.metrics.tasksDispatched.WithLabelValues(string(t.Target.Kind)).Inc()
		}
		go func(t tasks.Task) {
			started := time.Now()
			outcome := d.worker.Execute(ctx, t.Target, t.Command, d.config.PerTaskTimeout)
			completions <- completion{taskID: t.ID, kind: t.Target.Kind, outcome: outcome, started: started}
		}(t)
	}

	launched := 0
	for _, t := range batch {
		if ctx.Err() != nil {
			break
		}

		// Block until a slot frees, then sweep up anything else that has
		// finished in the meantime so progress stays continuous.
		for inFlight >= d.config.Concurrency {
			reap(<-completions)
		}
		for {
			select {
			case c := <-completions:
				reap(c)
				continue
			default:
			}
			break
		}

		launch(t)
		launched++
	}

	// Drain the in-flight set.
	for inFlight > 0 {
		reap(<-completions)
	}

	// Tasks never launched because the run was cancelled still owe a
	// terminal result.
	for _, t := range batch[launched:] {
		record(t.ID, t.Target.Kind, tasks.UnknownError("dispatch cancelled before launch"))
	}

	report.Finished = time.Now()
	slog.Info("dispatch finished",
		"tasks", total,
		"succeeded", len(report.Successes),
		"failed", len(report.Failures),
		"duration", report.Finished.Sub(report.Started).Round(time.Millisecond))

	return report, nil
}

// validateBatch rejects caller errors that must abort the whole run: these
// indicate a programming mistake, not a remote-environment failure.
func validateBatch(batch []tasks.Task) error {
	seen := make(map[string]struct{}, len(batch))
	for _, t := range batch {
		if t.ID == "" {
			return fmt.Errorf("task for target %q has no id", t.Target.ID)
		}
		if t.Command == "" {
			return fmt.Errorf("task %s has no command", t.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
