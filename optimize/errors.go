package optimize

import (
	"errors"
	"fmt"

	"github.com/icodeforyou/solarplant-dispatch/milp"
)

var (
	ErrConfig      = errors.New("invalid configuration")
	ErrNotSolvable = errors.New("schedule not solvable")
	ErrTolerance   = errors.New("solution outside tolerance")
)

// ConfigError is returned before any model is built.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SolveError carries the raw solver status of a run that produced no schedule.
type SolveError struct {
	Status milp.Status
	Detail string
}

func (e *SolveError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("schedule not solvable: solver status %s", e.Status)
	}
	return fmt.Sprintf("schedule not solvable: solver status %s: %s", e.Status, e.Detail)
}

func (e *SolveError) Is(target error) bool {
	return target == ErrNotSolvable
}

// ToleranceError reports a solved value that is too far off to be clamped.
type ToleranceError struct {
	Check    string
	Step     int
	Residual float64
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("solution outside tolerance: %s at step %d off by %g", e.Check, e.Step, e.Residual)
}

func (e *ToleranceError) Is(target error) bool {
	return target == ErrTolerance
}
