package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackpilot/stackpilot/errors"
)

func TestCustomError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *errors.CustomError
		expected string
	}{
		{
			name:     "Error without wrapped error",
			err:      errors.New(errors.ErrStackDecode, "failed to decode stack", nil, nil),
			expected: "[STACK_DECODE_ERROR] failed to decode stack",
		},
		{
			name:     "Error with wrapped error",
			err:      errors.New(errors.ErrStateLoad, "failed to load state", nil, stderrors.New("no such file")),
			expected: "[STATE_LOAD_ERROR] failed to load state: no such file",
		},
		{
			name: "Error with context",
			err: errors.New(errors.ErrApply, "apply failed",
				map[string]interface{}{"address": "aws_vpc.main"}, nil),
			expected: "[APPLY_ERROR] apply failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestCustomError_Unwrap(t *testing.T) {
	inner := stderrors.New("boom")
	err := errors.New(errors.ErrAWSOperation, "operation failed", nil, inner)

	assert.Equal(t, inner, err.Unwrap())
	assert.True(t, stderrors.Is(err, inner))
}

func TestIs(t *testing.T) {
	err := errors.New(errors.ErrDriftChecker, "check failed", nil, nil)

	assert.True(t, errors.Is(err, errors.ErrDriftChecker))
	assert.False(t, errors.Is(err, errors.ErrPlan))
	assert.False(t, errors.Is(stderrors.New("plain"), errors.ErrPlan))
	assert.False(t, errors.Is(nil, errors.ErrPlan))
}
