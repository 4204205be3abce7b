package async

import (
	"context"
	"os"
	"strings"

	"github.com/teranos/hydrotrace/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeFileNotFound    ErrorCode = "file_not_found"
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeLocked          ErrorCode = "locked"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeCanceled        ErrorCode = "canceled"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodePanic           ErrorCode = "panic"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrPanic marks errors recovered from a panicking job.
var ErrPanic = errors.New("job panicked")

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Would a later attempt plausibly succeed?
}

// ClassifyError categorizes an error by its sentinel first, then by message.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Stage: stage, Message: err.Error()}
	errLower := strings.ToLower(ctx.Message)

	switch {
	case errors.Is(err, ErrPanic):
		ctx.Code = ErrorCodePanic

	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeCanceled

	case errors.Is(err, context.DeadlineExceeded):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true

	case errors.IsLockedError(err):
		ctx.Code = ErrorCodeLocked
		ctx.Retryable = true

	case errors.Is(err, os.ErrNotExist) || strings.Contains(errLower, "no such file"):
		ctx.Code = ErrorCodeFileNotFound

	case errors.IsNotFoundError(err):
		ctx.Code = ErrorCodeNotFound

	case errors.Is(err, errors.ErrInvalidRequest) || errors.Is(err, errors.ErrInvalidTransition):
		ctx.Code = ErrorCodeValidationError

	case strings.Contains(errLower, "database") || strings.Contains(errLower, "sql"):
		ctx.Code = ErrorCodeDatabaseError
		ctx.Retryable = true

	default:
		ctx.Code = ErrorCodeUnknown
	}

	return ctx
}
