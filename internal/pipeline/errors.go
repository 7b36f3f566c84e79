package pipeline

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned by every Detect call when the VAD model
// never loaded or was torn down. Callers must surface it rather than treat
// it as "no speech"; a silent false negative here is a security defect.
var ErrModelUnavailable = errors.New("voice-activity model unavailable")

// ErrBudgetExceeded is returned when a call overruns the configured
// wall-clock budget.
var ErrBudgetExceeded = errors.New("detection budget exceeded")

// DecodeError reports a malformed, truncated, or unsupported audio payload.
// No partial waveform accompanies it.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode audio: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode audio: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(err error, format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...), Err: err}
}
