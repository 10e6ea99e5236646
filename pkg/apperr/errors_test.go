package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := NotFound(CodeTaskNotFound, "task not found")
	wrapped := fmt.Errorf("change status: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, CodeTaskNotFound, CodeOf(wrapped))
}

func TestUnclassifiedErrorIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("failed to load task", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransient, err.Kind)
	assert.Equal(t, "failed to load task: connection refused", err.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "internal", Kind(99).String())
}
