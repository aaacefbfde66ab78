package connector

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// LocalConnector runs commands in a local subprocess instead of a remote
// session. It backs dry runs and tests, and is the external-process flavor
// of the execution-unit abstraction: the dispatcher cannot tell it apart
// from a real remote connector.
type LocalConnector struct {
	Shell string // defaults to /bin/sh
}

// Open returns a session bound to the local shell. Nothing is dialed, so
// acquisition only fails if the shell is missing.
func (c *LocalConnector) Open(ctx context.Context, target tasks.TargetDescriptor) (Session, error) {
	shell := c.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if _, err := exec.LookPath(shell); err != nil {
		return nil, fmt.Errorf("target %s: %w", target.ID, err)
	}
	return &localSession{shell: shell}, nil
}

type localSession struct {
	shell string
}

// Run executes the command in its own process group so that killing it on
// ctx expiry takes any children down with it.
func (s *localSession) Run(ctx context.Context, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		// Non-zero exits still produce classifiable output.
		if _, ok := err.(*exec.ExitError); ok && len(out) > 0 {
			return out, nil
		}
		return out, fmt.Errorf("run %q: %w", command, err)
	}
	return out, nil
}

func (s *localSession) Close() error {
	return nil
}
