// Package connector provides remote session connectors: given a target
// descriptor, a connector authenticates and opens a command-execution
// channel to that target.
package connector

import (
	"context"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// Session is one open command channel to a target. Run blocks until the
// command completes or ctx is done, returning all buffered output. A session
// must be closed on every exit path; Close is safe to call more than once.
type Session interface {
	Run(ctx context.Context, command string) ([]byte, error)
	Close() error
}

// Connector opens authenticated sessions to targets. Implementations must be
// safe for concurrent use: the dispatcher opens sessions from many workers
// at once.
type Connector interface {
	Open(ctx context.Context, target tasks.TargetDescriptor) (Session, error)
}
