package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationWrapped(t *testing.T) {
	err := fmt.Errorf("append: %w", ValidationField("reason", "reason is required"))

	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Contains(t, err.Error(), "field=reason")
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("link", "abc"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.True(t, IsNotFound(ErrNotFound))
}

func TestContinuityError(t *testing.T) {
	err := fmt.Errorf("record: %w", &ContinuityError{Field: "actor", Expected: "alice", Actual: "bob"})

	assert.True(t, IsContinuity(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, CodeContinuity, CodeOf(err))
	assert.Contains(t, err.Error(), `expected "alice", got "bob"`)
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorFormatSortsDetails(t *testing.T) {
	e := &Error{Code: CodeValidation, Message: "bad", Details: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, "VALIDATION: bad (a=1, b=2)", e.Error())
}
