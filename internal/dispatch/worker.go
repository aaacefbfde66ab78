package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/a8cteam51/team51-cli-new/internal/connector"
	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// Worker executes one task at a time against a remote target. Workers hold
// no shared mutable state; each invocation buffers its own output and emits
// exactly one RawOutcome.
type Worker struct {
	connector connector.Connector
}

// NewWorker builds a worker over the given connector.
func NewWorker(c connector.Connector) *Worker {
	return &Worker{connector: c}
}

// Execute opens a session to the target, runs the command under the given
// timeout, and converts every outcome, including panics, into a RawOutcome.
// No error escapes this boundary. A timeout of zero means no deadline.
func (w *Worker) Execute(ctx context.Context, target tasks.TargetDescriptor, command string, timeout time.Duration) (outcome tasks.RawOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic", "target", target.ID, "panic", r)
			outcome = tasks.UnknownError(fmt.Sprintf("worker panic: %v", r))
		}
	}()

	sess, err := w.connector.Open(ctx, target)
	if err != nil {
		return tasks.ConnectorError(err.Error())
	}
	defer sess.Close()

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := sess.Run(runCtx, command)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return tasks.TimeoutOutcome(fmt.Sprintf("deadline of %s exceeded", timeout))
		}
		if errors.Is(err, context.Canceled) {
			return tasks.UnknownError("execution cancelled")
		}
		return tasks.ExecutionError(err.Error())
	}
	return tasks.RawOutput(out)
}
