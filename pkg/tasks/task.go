// Package tasks defines the data model shared between the dispatcher, its
// workers and callers: targets, tasks, raw worker outcomes and classified
// results.
package tasks

import (
	"encoding/json"
	"fmt"
)

// TargetKind identifies the platform a target lives on.
type TargetKind string

const (
	// KindPressable is a Pressable-hosted site, addressed by its site ID.
	KindPressable TargetKind = "pressable"

	// KindWPCOM is a WordPress.com site, addressed by its site ID or domain.
	KindWPCOM TargetKind = "wpcom"

	// KindCustom is an arbitrary host reachable at an explicit URL.
	KindCustom TargetKind = "custom"
)

// ParseTargetKind converts a string into a TargetKind, rejecting anything
// outside the closed set.
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(s) {
	case KindPressable, KindWPCOM, KindCustom:
		return TargetKind(s), nil
	}
	return "", fmt.Errorf("unknown target kind: %q", s)
}

// RequiresURL reports whether targets of this kind must carry an explicit
// endpoint URL. Hosted kinds are resolved from the target ID by the
// connector; custom hosts have nothing to resolve from.
func (k TargetKind) RequiresURL() bool {
	return k == KindCustom
}

// TargetDescriptor identifies one remote entity a command runs against.
type TargetDescriptor struct {
	ID   string     `json:"target_id"`
	Kind TargetKind `json:"target_kind"`
	URL  string     `json:"target_url,omitempty"`
}

// Validate checks the descriptor against the closed kind set and the
// per-kind URL requirement.
func (t TargetDescriptor) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("target has no id")
	}
	if _, err := ParseTargetKind(string(t.Kind)); err != nil {
		return err
	}
	if t.Kind.RequiresURL() && t.URL == "" {
		return fmt.Errorf("target %s: kind %q requires target_url", t.ID, t.Kind)
	}
	return nil
}

// Task is one unit of work: a target plus the command to run against it.
// Tasks are immutable once built.
type Task struct {
	ID      string           `json:"id"`
	Target  TargetDescriptor `json:"target"`
	Command string           `json:"command"`
}

// NewTask builds a task for the given target and pre-escaped command line.
// Validation happens here, at construction time; a malformed target or an
// empty command is a caller error, never a runtime Failure.
func NewTask(target TargetDescriptor, command string) (Task, error) {
	if err := target.Validate(); err != nil {
		return Task{}, err
	}
	if command == "" {
		return Task{}, fmt.Errorf("target %s: empty command", target.ID)
	}
	return Task{ID: target.ID, Target: target, Command: command}, nil
}

// ErrorKind is the closed taxonomy of why a task failed.
type ErrorKind string

const (
	// ErrConnectorUnavailable means no remote session could be established.
	ErrConnectorUnavailable ErrorKind = "connector_unavailable"

	// ErrCommandFailed means the session was established and the command ran,
	// but the remote side reported failure.
	ErrCommandFailed ErrorKind = "command_failed"

	// ErrEmptyOutput means the command ran but returned nothing.
	ErrEmptyOutput ErrorKind = "empty_output"

	// ErrMalformedOutput means output was present but did not parse as the
	// agreed payload envelope.
	ErrMalformedOutput ErrorKind = "malformed_output"

	// ErrTimeout means the per-task deadline elapsed.
	ErrTimeout ErrorKind = "timeout"

	// ErrUnknown is an uncategorized failure inside the worker.
	ErrUnknown ErrorKind = "unknown"
)

// ParseErrorKind maps a wire string onto the closed ErrorKind set,
// collapsing anything unrecognized to ErrUnknown.
func ParseErrorKind(s string) ErrorKind {
	switch ErrorKind(s) {
	case ErrConnectorUnavailable, ErrCommandFailed, ErrEmptyOutput,
		ErrMalformedOutput, ErrTimeout, ErrUnknown:
		return ErrorKind(s)
	}
	return ErrUnknown
}

// RawOutcomeKind discriminates the RawOutcome union.
type RawOutcomeKind int

const (
	// OutcomeRaw carries buffered command output awaiting classification.
	OutcomeRaw RawOutcomeKind = iota

	// OutcomeConnectorError means session acquisition failed.
	OutcomeConnectorError

	// OutcomeExecutionError means the session raised an I/O or protocol error.
	OutcomeExecutionError

	// OutcomeTimeout means the deadline elapsed before the command finished.
	OutcomeTimeout

	// OutcomeUnknown is an uncategorized worker-side failure.
	OutcomeUnknown
)

// RawOutcome is what a worker hands back to the dispatcher before
// classification: either buffered output or a transport-level failure.
type RawOutcome struct {
	Kind   RawOutcomeKind
	Output []byte
	Detail string
}

// RawOutput wraps buffered command output.
func RawOutput(b []byte) RawOutcome {
	return RawOutcome{Kind: OutcomeRaw, Output: b}
}

// ConnectorError reports a failed session acquisition.
func ConnectorError(detail string) RawOutcome {
	return RawOutcome{Kind: OutcomeConnectorError, Detail: detail}
}

// ExecutionError reports an I/O or protocol error from an open session.
func ExecutionError(detail string) RawOutcome {
	return RawOutcome{Kind: OutcomeExecutionError, Detail: detail}
}

// TimeoutOutcome reports an elapsed deadline.
func TimeoutOutcome(detail string) RawOutcome {
	return RawOutcome{Kind: OutcomeTimeout, Detail: detail}
}

// UnknownError reports an uncategorized worker failure.
func UnknownError(detail string) RawOutcome {
	return RawOutcome{Kind: OutcomeUnknown, Detail: detail}
}

// Failure records why a task terminally failed.
type Failure struct {
	TaskID string    `json:"task_id"`
	Kind   ErrorKind `json:"error"`
	Detail string    `json:"detail,omitempty"`
}

func (f Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("task %s: %s", f.TaskID, f.Kind)
	}
	return fmt.Sprintf("task %s: %s: %s", f.TaskID, f.Kind, f.Detail)
}

// Result is the terminal outcome of one task: a payload on success, a
// Failure otherwise. Exactly one Result exists per submitted task.
type Result struct {
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Failure *Failure        `json:"failure,omitempty"`
}

// OK reports whether the task succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Succeed builds a success result.
func Succeed(taskID string, payload json.RawMessage) Result {
	return Result{TaskID: taskID, Payload: payload}
}

// Fail builds a failure result.
func Fail(taskID string, kind ErrorKind, detail string) Result {
	return Result{TaskID: taskID, Failure: &Failure{TaskID: taskID, Kind: kind, Detail: detail}}
}

// Envelope is the JSON shape a worker emits exactly once per task.
// Success: {"code":"success","target_id":...,"target_kind":...,"data":...}
// Failure: {"error":<ErrorKind>,"target_id":...,"target_kind":...,"detail":...}
type Envelope struct {
	Code       string          `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	TargetKind string          `json:"target_kind,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}
