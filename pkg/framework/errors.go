package framework

import (
	"fmt"
	"strings"
)

// AggregatedError aggregates multiple errors.
type AggregatedError struct {
	Errors []error
}

// Error implements error
func (e *AggregatedError) Error() string {
	if len(e.Errors) == 0 {
		return ""
	}
	msg := make([]string, len(e.Errors)+1)
	msg[0] = "Multiple errors:"
	for n, err := range e.Errors {
		msg[n+1] = err.Error()
	}
	return strings.Join(msg, "\n")
}

// Add adds errors to be aggregated. nil will be skipped.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		if err != nil {
			e.Errors = append(e.Errors, err)
		}
	}
	return e
}

// Aggregate returns aggregated error if any error happened.
func (e *AggregatedError) Aggregate() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// System error codes.
const (
	CodeAssert       = 10
	CodeBadState     = 11
	CodeDoubleFree   = 12
	CodeTooManyWaits = 13
	CodeBadQueue     = 14
)

// SysError is a fatal condition. The system halts with it instead of
// continuing in a corrupted state.
type SysError struct {
	Code   int
	Reason string
}

// Error implements error.
func (e *SysError) Error() string {
	return fmt.Sprintf("syserror %d: %s", e.Code, e.Reason)
}

// Halt panics with a SysError. The panic is recovered by the kernel
// which stops scheduling and reports the error.
func Halt(code int, reason string) {
	panic(&SysError{Code: code, Reason: reason})
}

// RecoverSysError is deferred by the code halting on SysError.
// It stores the recovered SysError into errp and re-panics on anything else.
func RecoverSysError(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if serr, ok := r.(*SysError); ok {
		*errp = serr
		return
	}
	panic(r)
}
