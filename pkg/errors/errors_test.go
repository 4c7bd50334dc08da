package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/stockscan/pkg/errors"
)

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal", errors.ErrCodeInternal, "unexpected failure"},
		{"invalid config", errors.ErrCodeInvalidConfig, "batch size must be positive"},
		{"stage unknown", errors.ErrCodeStageUnknown, "stage 9 not registered"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ae := errors.New(tc.code, tc.message)
			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.Contains(t, ae.Stack, "errors_test.go")
		})
	}
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeItemTimeout, "item timed out")
	assert.Equal(t, "[BATCH_004] item timed out", ae.Error())

	withDetail := ae.WithDetail("id=42")
	assert.Equal(t, "[BATCH_004] item timed out: id=42", withDetail.Error())

	withCause := withDetail.WithCause(context.DeadlineExceeded)
	assert.Equal(t, "[BATCH_004] item timed out: id=42 (context deadline exceeded)", withCause.Error())
}

func TestWithDetail_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	base := errors.New(errors.ErrCodePayloadFetch, "fetch failed")
	clone := base.WithDetail("bucket/object")

	assert.Empty(t, base.Detail)
	assert.Equal(t, "bucket/object", clone.Detail)

	var nilErr *errors.AppError
	assert.Nil(t, nilErr.WithDetail("x"))
	assert.Nil(t, nilErr.WithCause(stderrors.New("x")))
}

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("nil error yields nil", func(t *testing.T) {
		assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "ignored"))
	})

	t.Run("cause is reachable", func(t *testing.T) {
		root := stderrors.New("connection refused")
		ae := errors.Wrap(root, errors.ErrCodeExternalService, "analyzer call failed")
		assert.True(t, stderrors.Is(ae, root))
		assert.Equal(t, errors.ErrCodeExternalService, ae.Code)
	})

	t.Run("unknown code keeps original", func(t *testing.T) {
		inner := errors.New(errors.ErrCodeCacheError, "redis down")
		outer := errors.Wrap(inner, errors.ErrCodeUnknown, "lookup")
		assert.Equal(t, errors.ErrCodeCacheError, outer.Code)
	})
}

func TestIsCode_TraversesChain(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeItemPanic, "boom")
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	assert.True(t, errors.IsCode(wrapped, errors.ErrCodeItemPanic))
	assert.False(t, errors.IsCode(wrapped, errors.ErrCodeItemTimeout))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeItemPanic))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.ErrCodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.ErrCodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeStageUnknown,
		errors.GetCode(fmt.Errorf("run: %w", errors.New(errors.ErrCodeStageUnknown, "x"))))
}

func TestIs_MatchesSentinelAfterCopy(t *testing.T) {
	t.Parallel()

	sentinel := errors.New(errors.ErrCodeEngineClosed, "engine closed")
	derived := sentinel.WithDetail("run 7")

	assert.True(t, stderrors.Is(derived, sentinel))
	assert.False(t, stderrors.Is(derived, errors.New(errors.ErrCodeEngineClosed, "other message")))
	assert.False(t, stderrors.Is(derived, errors.New(errors.ErrCodeInternal, "engine closed")))
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	ae := errors.InvalidConfig("batch_size", "must be > 0")
	assert.Equal(t, errors.ErrCodeInvalidConfig, ae.Code)
	assert.Equal(t, "batch_size must be > 0", ae.Detail)
}

func TestCodeMappings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusForCode(errors.ErrCodeInvalidConfig))
	assert.Equal(t, http.StatusBadGateway, errors.HTTPStatusForCode(errors.ErrCodePayloadFetch))
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatusForCode("NOPE_1"))

	assert.True(t, errors.IsClientError(errors.ErrCodeStageUnknown))
	assert.False(t, errors.IsClientError(errors.ErrCodeInternal))

	assert.Equal(t, "batch", errors.ModuleForCode(errors.ErrCodeItemTimeout))
	assert.Equal(t, "infra", errors.ModuleForCode(errors.ErrCodePublishFailed))
	assert.Equal(t, "unknown", errors.ModuleForCode("weird"))

	assert.Equal(t, "item timed out", errors.DefaultMessageForCode(errors.ErrCodeItemTimeout))
	assert.Equal(t, "unknown error", errors.DefaultMessageForCode("NOPE_1"))
}
