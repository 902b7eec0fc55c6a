package library

import (
	"errors"
	"fmt"
)

// ErrNoBPM is returned when the service could not detect a tempo.
var ErrNoBPM = errors.New("bpm not detected")

// FetchError reports a network or storage failure talking to the track service.
type FetchError struct {
	Op         string
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
