package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appErr.New(appErr.CodeInvalid, "bad"), http.StatusBadRequest},
		{appErr.New(appErr.CodeNotFound, "gone"), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", appErr.New(appErr.CodeConflict, "busy")), http.StatusConflict},
		{appErr.New(appErr.CodeUnavailable, "down"), http.StatusServiceUnavailable},
		{appErr.New(appErr.CodeDeadline, "slow"), http.StatusGatewayTimeout},
		{appErr.New(appErr.CodeInternal, "oops"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestFromAppError(t *testing.T) {
	assert.Nil(t, FromAppError(nil))

	e := FromAppError(fmt.Errorf("ctx: %w", appErr.New(appErr.CodeNotFound, "deployment not found")))
	assert.Equal(t, &APIError{Code: "not_found", Message: "deployment not found"}, e)

	e = FromAppError(appErr.Wrap(errors.New("subnets span 1 zone"), appErr.CodeInvalid, "template policy check failed"))
	assert.Equal(t, "subnets span 1 zone", e.Details)

	e = FromAppError(errors.New("plain"))
	assert.Equal(t, "unknown", e.Code)
}
