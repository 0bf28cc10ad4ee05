package models

import (
	"errors"
	"fmt"
)

// Error kinds shared across the pipeline. Wrap with StageError or %w and test
// with errors.Is.
var (
	ErrTransport        = errors.New("transport failure")
	ErrUnknownSource    = errors.New("unknown source or format")
	ErrForecastInput    = errors.New("insufficient forecast input")
	ErrDomain           = errors.New("outside velocity field domain")
	ErrCacheAcquisition = errors.New("velocity field acquisition failed")
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageCache     Stage = "cache"
	StageIntegrate Stage = "integrate"
)

// StageError carries the failing stage and a sentinel kind alongside the
// underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	cause := e.Err
	if cause == nil {
		cause = e.Kind
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Stage, cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Op, cause)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the sentinel kind so errors.Is(err, ErrDomain) works regardless
// of the wrapped cause.
func (e *StageError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewStageError builds a StageError.
func NewStageError(stage Stage, kind error, op string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Op: op, Err: err}
}

// StageOf returns the stage of the first StageError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
