package effects

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStage = errors.New("unknown effect stage")
	ErrUnknownParam = errors.New("unknown effect parameter")
)

// InvalidParameterError reports a parameter update that could not be applied.
// Out-of-range numbers are clamped and never produce this error.
type InvalidParameterError struct {
	Stage  string
	Param  string
	Value  float64
	Reason string
	Err    error
}

func (e *InvalidParameterError) Error() string {
	msg := fmt.Sprintf("effects: %s.%s = %v", e.Stage, e.Param, e.Value)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidParameterError) Unwrap() error { return e.Err }
