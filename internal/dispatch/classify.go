package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// FatalMarker is the banner a remote command prints when it dies outright.
// Output carrying it is a command failure, not transport garbage.
const FatalMarker = "Fatal error:"

// maxDetailLen caps how much raw text is copied into a failure detail.
const maxDetailLen = 512

// ClassifyFunc maps a raw worker outcome onto a terminal Result.
type ClassifyFunc func(taskID string, outcome tasks.RawOutcome) tasks.Result

// Classify is the default classifier. It is pure: no side effects, and equal
// inputs always produce equal results.
//
// Rules, in order: transport outcomes map 1:1 onto the error taxonomy; empty
// output is its own failure; output carrying the fatal marker is a command
// failure with the marker's message as detail; anything that does not parse
// as the payload envelope is malformed; a parsed envelope yields its success
// payload or its declared error kind.
func Classify(taskID string, outcome tasks.RawOutcome) tasks.Result {
	switch outcome.Kind {
	case tasks.OutcomeConnectorError:
		return tasks.Fail(taskID, tasks.ErrConnectorUnavailable, outcome.Detail)
	case tasks.OutcomeExecutionError:
		return tasks.Fail(taskID, tasks.ErrCommandFailed, outcome.Detail)
	case tasks.OutcomeTimeout:
		return tasks.Fail(taskID, tasks.ErrTimeout, outcome.Detail)
	case tasks.OutcomeUnknown:
		return tasks.Fail(taskID, tasks.ErrUnknown, outcome.Detail)
	}

	raw := bytes.TrimSpace(outcome.Output)
	if len(raw) == 0 {
		return tasks.Fail(taskID, tasks.ErrEmptyOutput, "")
	}

	var env tasks.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if msg, ok := fatalMessage(raw); ok {
			return tasks.Fail(taskID, tasks.ErrCommandFailed, msg)
		}
		return tasks.Fail(taskID, tasks.ErrMalformedOutput, truncate(string(raw)))
	}

	switch {
	case env.Error != "":
		return tasks.Fail(taskID, tasks.ParseErrorKind(env.Error), env.Detail)
	case env.Code == "success":
		return tasks.Succeed(taskID, env.Data)
	}

	// Parsed as JSON but not as the agreed envelope.
	if msg, ok := fatalMessage(raw); ok {
		return tasks.Fail(taskID, tasks.ErrCommandFailed, msg)
	}
	return tasks.Fail(taskID, tasks.ErrMalformedOutput, truncate(string(raw)))
}

// fatalMessage extracts the message following the fatal marker, if present.
func fatalMessage(raw []byte) (string, bool) {
	idx := bytes.Index(raw, []byte(FatalMarker))
	if idx < 0 {
		return "", false
	}
	msg := string(raw[idx+len(FatalMarker):])
	if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
		msg = msg[:nl]
	}
	return truncate(strings.TrimSpace(msg)), true
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "..."
}
