package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Is(t *testing.T) {
	err := Forbidden("no")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)

	wrapped := fmt.Errorf("handler: %w", NotFound("missing"))
	assert.ErrorIs(t, wrapped, ErrNotFound)

	last := LastAdminProtected("keep one")
	assert.ErrorIs(t, last, ErrConflict)
	assert.ErrorIs(t, last, ErrLastAdminProtected)
	assert.NotErrorIs(t, Conflict("dup"), ErrLastAdminProtected)
}

func TestAs_WrapsUnknownErrors(t *testing.T) {
	cause := stderrors.New("connection refused")
	appErr := As(cause)
	assert.Equal(t, KindInternal, appErr.Kind)
	assert.Equal(t, ErrInternal.Message, appErr.Message)
	assert.ErrorIs(t, appErr, cause)

	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindQuotaExceeded, KindOf(QuotaExceeded("full")))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:            http.StatusBadRequest,
		KindInvalidOrExpiredToken: http.StatusBadRequest,
		KindUnauthenticated:       http.StatusUnauthorized,
		KindForbidden:             http.StatusForbidden,
		KindQuotaExceeded:         http.StatusForbidden,
		KindNotFound:              http.StatusNotFound,
		KindConflict:              http.StatusConflict,
		KindInternal:              http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "权限不足", ErrForbidden.Error())
	assert.Equal(t, "服务器内部错误: boom", Internal(stderrors.New("boom")).Error())
}
