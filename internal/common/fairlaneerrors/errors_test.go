package fairlaneerrors

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeFromError(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{nil, http.StatusOK},
		{&ErrRateLimited{TenantId: "acme"}, http.StatusTooManyRequests},
		{&ErrBudgetExceeded{TenantId: "acme", Dimension: "solver_sec"}, http.StatusTooManyRequests},
		{&ErrDuplicateJob{JobId: "a"}, http.StatusConflict},
		{&ErrLeaseMismatch{JobId: "a"}, http.StatusConflict},
		{&ErrNotFound{Type: "job"}, http.StatusNotFound},
		{&ErrInvalidWeight{TenantId: "a"}, http.StatusInternalServerError},
		{errors.New("some other error"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, CodeFromError(tc.err))
	}
}

func TestCodeFromError_Wrapped(t *testing.T) {
	err := errors.WithMessage(&ErrLeaseMismatch{JobId: "a", WorkerId: "w"}, "completing job")
	assert.Equal(t, http.StatusConflict, CodeFromError(err))
	assert.Equal(t, "LeaseMismatch", ShortCodeFromError(err))
}
