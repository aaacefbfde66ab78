package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a8cteam51/team51-cli-new/internal/connector"
	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// fakeSession scripts one session's behavior and records whether it was
// closed.
type fakeSession struct {
	run    func(ctx context.Context, command string) ([]byte, error)
	closed atomic.Bool
}

func (s *fakeSession) Run(ctx context.Context, command string) ([]byte, error) {
	return s.run(ctx, command)
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeConnector hands out scripted sessions and tracks how many are open at
// once.
type fakeConnector struct {
	openErr   error
	session   func(target tasks.TargetDescriptor) *fakeSession
	active    atomic.Int32
	maxActive atomic.Int32
}

func (c *fakeConnector) Open(ctx context.Context, target tasks.TargetDescriptor) (connector.Session, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	n := c.active.Add(1)
	for {
		max := c.maxActive.Load()
		if n <= max || c.maxActive.CompareAndSwap(max, n) {
			break
		}
	}
	sess := c.session(target)
	inner := sess.run
	sess.run = func(ctx context.Context, command string) ([]byte, error) {
		defer c.active.Add(-1)
		return inner(ctx, command)
	}
	return sess, nil
}

func sessionReturning(out []byte, err error) func(tasks.TargetDescriptor) *fakeSession {
	return func(tasks.TargetDescriptor) *fakeSession {
		return &fakeSession{run: func(ctx context.Context, command string) ([]byte, error) {
			return out, err
		}}
	}
}

var testTarget = tasks.TargetDescriptor{ID: "site-1", Kind: tasks.KindPressable}

func TestWorkerConnectorError(t *testing.T) {
	w := NewWorker(&fakeConnector{openErr: errors.New("auth refused")})
	outcome := w.Execute(context.Background(), testTarget, "wp cli version", time.Second)
	if outcome.Kind != tasks.OutcomeConnectorError {
		t.Fatalf("kind = %v, want connector error", outcome.Kind)
	}
	if outcome.Detail == "" {
		t.Error("expected a detail")
	}
}

func TestWorkerRawOutput(t *testing.T) {
	conn := &fakeConnector{session: sessionReturning([]byte(`{"code":"success"}`), nil)}
	w := NewWorker(conn)
	outcome := w.Execute(context.Background(), testTarget, "wp cli version", time.Second)
	if outcome.Kind != tasks.OutcomeRaw {
		t.Fatalf("kind = %v, want raw", outcome.Kind)
	}
	if string(outcome.Output) != `{"code":"success"}` {
		t.Errorf("output = %s", outcome.Output)
	}
}

func TestWorkerTimeout(t *testing.T) {
	conn := &fakeConnector{session: func(tasks.TargetDescriptor) *fakeSession {
		return &fakeSession{run: func(ctx context.Context, command string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
	}}
	w := NewWorker(conn)
	outcome := w.Execute(context.Background(), testTarget, "sleep forever", 30*time.Millisecond)
	if outcome.Kind != tasks.OutcomeTimeout {
		t.Fatalf("kind = %v, want timeout", outcome.Kind)
	}
}

func TestWorkerExecutionError(t *testing.T) {
	conn := &fakeConnector{session: sessionReturning(nil, errors.New("connection reset"))}
	w := NewWorker(conn)
	outcome := w.Execute(context.Background(), testTarget, "wp cli version", time.Second)
	if outcome.Kind != tasks.OutcomeExecutionError {
		t.Fatalf("kind = %v, want execution error", outcome.Kind)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	conn := &fakeConnector{session: func(tasks.TargetDescriptor) *fakeSession {
		return &fakeSession{run: func(ctx context.Context, command string) ([]byte, error) {
			panic("session exploded")
		}}
	}}
	w := NewWorker(conn)
	outcome := w.Execute(context.Background(), testTarget, "wp cli version", time.Second)
	if outcome.Kind != tasks.OutcomeUnknown {
		t.Fatalf("kind = %v, want unknown", outcome.Kind)
	}
	if want := "session exploded"; !strings.Contains(outcome.Detail, want) {
		t.Errorf("detail = %q, want it to mention %q", outcome.Detail, want)
	}
}

func TestWorkerClosesSessionOnEveryPath(t *testing.T) {
	cases := []struct {
		name string
		run  func(ctx context.Context, command string) ([]byte, error)
	}{
		{"success", func(ctx context.Context, command string) ([]byte, error) {
			return []byte("ok"), nil
		}},
		{"error", func(ctx context.Context, command string) ([]byte, error) {
			return nil, errors.New("boom")
		}},
		{"timeout", func(ctx context.Context, command string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &fakeSession{run: tc.run}
			conn := &fakeConnector{session: func(tasks.TargetDescriptor) *fakeSession { return sess }}
			NewWorker(conn).Execute(context.Background(), testTarget, "cmd", 30*time.Millisecond)
			if !sess.closed.Load() {
				t.Error("session was not closed")
			}
		})
	}
}
