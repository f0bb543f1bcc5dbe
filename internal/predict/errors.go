package predict

import (
	"errors"
	"fmt"
)

// ErrInvalidAsset is returned for asset ids that are not safe to pass to the
// scripts.
var ErrInvalidAsset = errors.New("predict: invalid asset id")

// ErrDisabled is returned when no scripts are configured.
var ErrDisabled = errors.New("predict: disabled")

// Stage names one subprocess of the pipeline.
type Stage string

const (
	StageCollect Stage = "collect"
	StagePredict Stage = "predict"
)

// FailureKind classifies a failed stage.
type FailureKind string

const (
	// KindTimeout means the stage outlived its deadline and was killed.
	KindTimeout FailureKind = "timeout"
	// KindStart means the process could not be started.
	KindStart FailureKind = "start"
	// KindExit means the process exited non-zero.
	KindExit FailureKind = "exit"
	// KindOutput means stdout held no usable JSON object.
	KindOutput FailureKind = "output"
)

// PipelineError describes a failed run. Callers may retry; the runner does
// not.
type PipelineError struct {
	Stage    Stage
	Kind     FailureKind
	ExitCode int
	// Stderr is the tail of the process's standard error.
	Stderr string
	// Message is the script's own error message, when it printed one.
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("predict: %s stage: %s", e.Stage, e.Kind)
	if e.Kind == KindExit {
		msg += fmt.Sprintf(" (code %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }
