package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeBackendUnavailable, CategoryNetwork, SeverityWarning, true},
		{ErrCodeRetrievalUnavailable, CategoryNetwork, SeverityWarning, true},
		{ErrCodeQueryEmpty, CategoryValidation, SeverityError, false},
		{ErrCodeSearchFailed, CategoryInternal, SeverityError, false},
		{ErrCodeRerankFailed, CategoryInternal, SeverityWarning, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestAmanError_IsMatchesByCode(t *testing.T) {
	embedErr := New(ErrCodeEmbeddingFailed, "embedding provider down", fmt.Errorf("dial tcp: refused"))
	searchErr := New(ErrCodeSearchFailed, "search failed", embedErr)
	wrapped := fmt.Errorf("handler: %w", searchErr)

	assert.True(t, stderrors.Is(wrapped, ErrSearchFailed))
	assert.True(t, stderrors.Is(wrapped, ErrEmbeddingFailed))
	assert.False(t, stderrors.Is(wrapped, ErrRetrievalUnavailable))
	assert.Equal(t, ErrCodeSearchFailed, GetCode(wrapped))
	assert.Equal(t, CategoryInternal, GetCategory(wrapped))
}

func TestAmanError_ErrorIncludesCause(t *testing.T) {
	err := New(ErrCodeStoreWriteFailed, "vector insert failed", fmt.Errorf("disk full"))
	assert.Equal(t, "[ERR_505_STORE_WRITE_FAILED] vector insert failed: disk full", err.Error())

	wrapped := Wrap(ErrCodeInternal, fmt.Errorf("boom"))
	assert.Equal(t, "[ERR_501_INTERNAL] boom", wrapped.Error())
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_SetDetails(t *testing.T) {
	err := OutOfRange("top_k", 0, 1, 100)
	assert.Equal(t, ErrCodeOutOfRange, err.Code)
	assert.Equal(t, "top_k", err.Details["field"])
	assert.Contains(t, err.Message, "between 1 and 100")

	nf := NotFound("chunk", "abc")
	assert.True(t, stderrors.Is(nf, ErrNotFound))
	assert.Equal(t, "abc", nf.Details["id"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", New(ErrCodeBackendUnavailable, "down", nil))))
	assert.False(t, IsRetryable(New(ErrCodeInvalidInput, "bad", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query must not be empty", nil).WithSuggestion("pass a query string")
	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: query must not be empty")
	assert.Contains(t, out, "Hint: pass a query string")
	assert.Contains(t, out, "Code: ERR_402_QUERY_EMPTY")

	assert.Contains(t, FormatForCLI(fmt.Errorf("plain")), ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(InvalidInput("alpha", "alpha is not a number"))
	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"error", "error_code", "category", "retryable", "detail_field"}, keys)

	plain := LogAttrs(fmt.Errorf("plain"))
	require.Len(t, plain, 1)
	assert.Equal(t, "plain", plain[0].Value.String())
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResult_ExhaustsRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, fmt.Errorf("always")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return fmt.Errorf("embed: %w", New(ErrCodeDimensionMismatch, "wrong size", nil))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeDimensionMismatch, GetCode(err))
}

func TestRetry_RetriesRetryableCodes(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Jitter: true}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(ErrCodeBackendUnavailable, "down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(context.Canceled))
	assert.True(t, Permanent(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.True(t, Permanent(New(ErrCodeInvalidInput, "bad", nil)))
	assert.False(t, Permanent(New(ErrCodeBackendUnavailable, "down", nil)))
	assert.False(t, Permanent(fmt.Errorf("plain")))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("vector", WithMaxFailures(2), WithResetTimeout(time.Second),
		withClock(func() time.Time { return now }))

	fail := func() (int, error) { return 0, fmt.Errorf("down") }
	ok := func() (int, error) { return 1, nil }

	_, _ = Execute(cb, fail)
	assert.Equal(t, StateClosed, cb.State())
	_, _ = Execute(cb, fail)
	assert.Equal(t, StateOpen, cb.State())

	_, err := Execute(cb, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	v, err := Execute(cb, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("lexical", WithMaxFailures(1), WithResetTimeout(time.Second),
		withClock(func() time.Time { return now }))

	_, _ = Execute(cb, func() (int, error) { return 0, fmt.Errorf("down") })
	now = now.Add(2 * time.Second)

	_, err := Execute(cb, func() (int, error) { return 0, fmt.Errorf("still down") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "lexical", cb.Name())
}
