package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorFormatting(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "invalid: bad cron", New(CodeInvalid, "bad cron").Error())

	cause := stderrors.New("boom")
	err := Wrap(cause, CodeUnavailable, "describe stacks")
	assert.Equal(t, "unavailable: describe stacks: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOfThroughWrapping(t *testing.T) {
	t.Parallel()
	inner := Newf(CodeDeadline, "stack %s did not settle", "dev")
	outer := fmt.Errorf("apply: %w", inner)

	assert.True(t, IsCode(outer, CodeDeadline))
	assert.False(t, IsCode(outer, CodeInvalid))
	assert.Equal(t, CodeUnknown, CodeOf(stderrors.New("plain")))
}

func TestWrapNilBehavesLikeNew(t *testing.T) {
	t.Parallel()
	err := Wrap(nil, CodeNotFound, "deployment not found")
	assert.Nil(t, err.Unwrap())
	assert.Equal(t, CodeNotFound, err.Code)
}

func TestWithMeta(t *testing.T) {
	t.Parallel()
	err := New(CodeRolledBack, "stack rolled back").WithMeta("status", "ROLLBACK_COMPLETE")
	assert.Equal(t, "ROLLBACK_COMPLETE", err.Meta["status"])
}
