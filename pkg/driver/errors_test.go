package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTranslateError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, TranslateError(nil))
	})

	t.Run("deadline becomes operation timeout", func(t *testing.T) {
		err := TranslateError(fmt.Errorf("find: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, ErrOperationTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "original cause stays unwrappable")
	})

	t.Run("network timeout becomes operation timeout", func(t *testing.T) {
		err := TranslateError(fmt.Errorf("dial: %w", timeoutErr{}))
		assert.ErrorIs(t, err, ErrOperationTimeout)
	})

	t.Run("unknown errors pass through unchanged", func(t *testing.T) {
		cause := errors.New("duplicate key")
		assert.Same(t, cause, TranslateError(cause))
	})

	t.Run("cancellation is not a timeout", func(t *testing.T) {
		err := TranslateError(context.Canceled)
		assert.NotErrorIs(t, err, ErrOperationTimeout)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrOperationTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("count: %w", ErrOperationTimeout)))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrConnectionModeMismatch))
	assert.False(t, IsRetryable(ErrSessionEnded))
	assert.False(t, IsRetryable(errors.New("boom")))
}
