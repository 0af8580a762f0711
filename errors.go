package rfburst

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShortRead means a source returned fewer samples than requested.
	ErrShortRead = errors.New("short read")

	// ErrSourceClosed is returned by reads on a closed source.
	ErrSourceClosed = errors.New("source closed")
)

// SourceError reports a failed acquisition. It is fatal for the current run;
// the pipeline never retries a read.
type SourceError struct {
	Op  string // "open", "read", "tune", ...
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("sample source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// CalibrationError reports that no usable noise estimate could be made.
// Monitoring never starts after one.
type CalibrationError struct {
	Blocks int // calibration blocks read
	Means  int // sub-block means collected
	Err    error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration failed after %d blocks (%d sub-block means): %v", e.Blocks, e.Means, e.Err)
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}

// sourceErr wraps err as a *SourceError unless it already is one.
func sourceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return &SourceError{Op: op, Err: err}
}
