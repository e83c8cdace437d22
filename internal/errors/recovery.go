// Package errors converts panics raised inside scheduled jobs into errors.
package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError represents an error recovered from a panic
type PanicError struct {
	Job        string // Name of the job that panicked
	Value      any    // The panic value
	Stacktrace string // Full stack trace
}

// Error implements the error interface
func (p *PanicError) Error() string {
	if p.Job == "" {
		return fmt.Sprintf("panic recovered: %v", p.Value)
	}
	return fmt.Sprintf("panic recovered in job %s: %v", p.Job, p.Value)
}

// Unwrap exposes the panic value when it was itself an error
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Guard runs fn and returns its error, or a *PanicError if fn panicked
func Guard(job string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Job:        job,
				Value:      r,
				Stacktrace: string(debug.Stack()),
			}
		}
	}()
	return fn()
}

// AsPanic reports whether err carries a recovered panic
func AsPanic(err error) (*PanicError, bool) {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return panicErr, true
	}
	return nil, false
}

// FormatPanicForLog returns a formatted string suitable for logging
func FormatPanicForLog(panicErr *PanicError) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", panicErr.Value, panicErr.Stacktrace)
}
