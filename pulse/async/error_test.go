package async

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/hydrotrace/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"panic", errors.Mark(errors.New("boom"), ErrPanic), ErrorCodePanic, false},
		{"canceled", errors.Wrap(context.Canceled, "job not dispatched"), ErrorCodeCanceled, false},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "trace"), ErrorCodeTimeout, true},
		{"locked", errors.Wrap(errors.ErrLocked, "store busy"), ErrorCodeLocked, true},
		{"missing file", errors.Wrap(os.ErrNotExist, "open network"), ErrorCodeFileNotFound, false},
		{"missing file by message", fmt.Errorf("lstat /x: no such file or directory"), ErrorCodeFileNotFound, false},
		{"not found", errors.NewNotFoundError("collection seg_9"), ErrorCodeNotFound, false},
		{"invalid request", errors.NewInvalidRequestError("bad name"), ErrorCodeValidationError, false},
		{"invalid transition", errors.Wrap(errors.ErrInvalidTransition, "tracing -> done"), ErrorCodeValidationError, false},
		{"sql", fmt.Errorf("sql: database is closed"), ErrorCodeDatabaseError, true},
		{"other", fmt.Errorf("something odd"), ErrorCodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := ClassifyError("tracing", tt.err)
			assert.Equal(t, tt.code, ec.Code)
			assert.Equal(t, tt.retryable, ec.Retryable)
			assert.Equal(t, "tracing", ec.Stage)
			assert.Equal(t, tt.err.Error(), ec.Message)
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	ec := ClassifyError("joining", nil)
	assert.Equal(t, ErrorCodeUnknown, ec.Code)
}
