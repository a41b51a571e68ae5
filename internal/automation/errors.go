// Package automation defines the classified failures raised while driving
// the remote browser and the small interfaces the core consumes from it.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Stage is the machine-readable step at which an automation failure happened
type Stage string

const (
	StageConnectionLost Stage = "connection-lost"
	StageConnect        Stage = "connect"
	StageNavigate       Stage = "navigate"
	StageEvaluate       Stage = "evaluate"
	StageSubmit         Stage = "submit"
	StageDiscovery      Stage = "discovery"
	StageDownload       Stage = "download"
	StageTimeout        Stage = "timeout"
)

// Error is a classified automation or validation failure
type Error struct {
	Stage   Stage
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Resumable reports whether the run can be picked up again by reattaching
func (e *Error) Resumable() bool { return e.Stage == StageConnectionLost }

// Errorf builds a classified error
func Errorf(stage Stage, err error, format string, args ...any) *Error {
	return &Error{Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsConnectionLost reports whether err carries the resumable stage
func IsConnectionLost(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Resumable()
}

// Evaluator runs a self-contained expression in page context and returns
// the value by value
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
}

// EvaluateInto evaluates expression and decodes the returned value into out
func EvaluateInto(ctx context.Context, ev Evaluator, expression string, out any) error {
	raw, err := ev.Evaluate(ctx, expression)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return Errorf(StageEvaluate, nil, "empty evaluation result")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Errorf(StageEvaluate, err, "decode evaluation result")
	}
	return nil
}
