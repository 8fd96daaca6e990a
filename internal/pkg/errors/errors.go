// Package errors provides the coded error type used across clipmill.
//
// The taxonomy mirrors how failures propagate through a batch:
//   - CodeValidation: rejected before admission, returned to the caller.
//   - CodeBusy: the concurrency limiter denied admission; retry later.
//   - CodeStage / CodeTimeout: one (item, variant) pair failed in a pipeline
//     stage; recorded on the job, never returned past it.
//   - CodeJobCrash: a job panicked outside its own error boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// Code classifies an Error. It is also the "code" of the HTTP error envelope.
type Code string

const (
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeBusy        Code = "BUSY"
	CodeStage       Code = "STAGE_FAILED"
	CodeTimeout     Code = "TIMEOUT"
	CodeJobCrash    Code = "JOB_CRASH"
	CodeUnavailable Code = "UNAVAILABLE"
)

var statusByCode = map[Code]int{
	CodeValidation:  http.StatusBadRequest,
	CodeNotFound:    http.StatusNotFound,
	CodeBusy:        http.StatusTooManyRequests,
	CodeStage:       http.StatusBadGateway,
	CodeUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:     http.StatusGatewayTimeout,
}

// Error carries a Code plus the context needed to log it. Op names the
// failing operation, e.g. "pipeline.publish".
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
	Stack   []Frame
}

// Frame is one captured caller.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		fmt.Fprintf(&b, "%s: ", e.Op)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithField attaches a log/response detail and returns e.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 2)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus maps the code onto a response status; unknown codes are 500.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// StackTrace formats Stack one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func build(code Code, message, op string, cause error, fields map[string]any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     cause,
		Fields:  fields,
		Stack:   captureStack(3),
	}
}

func New(code Code, message string) *Error {
	return build(code, message, "", nil, nil)
}

func Newf(code Code, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), "", nil, nil)
}

// Wrap wraps err under op. When err already is one of ours its code and
// fields carry over, otherwise the result is CodeInternal.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	if inner, ok := lookup(err); ok {
		return build(inner.Code, message, op, err, inner.Fields)
	}
	return build(CodeInternal, message, op, err, nil)
}

// WrapWithCode wraps err under op with an explicit code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, op, err, nil)
}

func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// ValidationField names the offending field in the response details.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

// Busy is returned when the limiter has no free slot for a synchronous batch.
func Busy(inFlight, max int) *Error {
	return New(CodeBusy, "processing capacity exhausted, retry later").
		WithField("in_flight", inFlight).
		WithField("max", max)
}

// StageFailed records a pipeline stage failure for one (item, variant) pair.
func StageFailed(stage string, err error) *Error {
	msg := "stage failed"
	if err != nil {
		msg = err.Error()
	}
	return build(CodeStage, msg, "pipeline."+stage, err, map[string]any{"stage": stage})
}

// StageTimeout is the error produced when a stage loses the race against its timer.
func StageTimeout(stage string, after time.Duration) *Error {
	return build(CodeTimeout, fmt.Sprintf("%s timed out after %s", stage, after), "pipeline."+stage, nil,
		map[string]any{"stage": stage, "timeout": after.String()})
}

// Crash wraps a value recovered from a panicking job.
func Crash(jobID string, recovered any) *Error {
	return Newf(CodeJobCrash, "job crashed: %v", recovered).WithField("job_id", jobID)
}

func Unavailable(service string) *Error {
	return New(CodeUnavailable, fmt.Sprintf("service unavailable: %s", service)).
		WithField("service", service)
}

func lookup(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// GetCode returns the code of the outermost *Error in err's chain, or
// CodeInternal for foreign errors.
func GetCode(err error) Code {
	if e, ok := lookup(err); ok {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	if e, ok := lookup(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	if e, ok := lookup(err); ok {
		return e.Fields
	}
	return nil
}

// StageOf returns the stage label carried by a stage or timeout error.
func StageOf(err error) string {
	s, _ := GetFields(err)["stage"].(string)
	return s
}

func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

func IsValidation(err error) bool { return IsCode(err, CodeValidation) }
func IsBusy(err error) bool       { return IsCode(err, CodeBusy) }
func IsNotFound(err error) bool   { return IsCode(err, CodeNotFound) }

// captureStack keeps at most ten non-runtime frames above skip.
func captureStack(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	it := runtime.CallersFrames(pcs[:n])

	frames := make([]Frame, 0, 10)
	for len(frames) < 10 {
		f, more := it.Next()
		if !strings.Contains(f.File, "runtime/") {
			frames = append(frames, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return frames
}

func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }
