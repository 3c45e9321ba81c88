package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowcollab/internal/platform/correlation"
	apperrors "github.com/pscheid92/flowcollab/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/test", nil), rec)

	require.NoError(t, ErrorHandlingMiddleware()(handler)(c))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMiddlewareWithStructuredError(t *testing.T) {
	rec := runMiddleware(t, func(echo.Context) error {
		return apperrors.ValidationError("invalid input").WithContext("workflow_id", "w1")
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
	assert.Equal(t, "w1", resp.Context["workflow_id"])
}

func TestMiddlewareWithStandardError(t *testing.T) {
	rec := runMiddleware(t, func(echo.Context) error {
		return errors.New("standard error")
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestMiddlewareWithNoError(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewareAfterCommitOnlyLogs(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		if err := c.String(http.StatusOK, "data: hello\n\n"); err != nil {
			return err
		}
		return apperrors.InternalError("stream broke", errors.New("reset"))
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: hello\n\n", rec.Body.String())
}

func TestMiddlewareAllErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{"validation", apperrors.ValidationError("invalid"), http.StatusBadRequest, apperrors.TypeValidation},
		{"unauthorized", apperrors.UnauthorizedError("who", errors.New("no cookie")), http.StatusUnauthorized, apperrors.TypeUnauthorized},
		{"not_found", apperrors.NotFoundError("missing"), http.StatusNotFound, apperrors.TypeNotFound},
		{"unavailable", apperrors.UnavailableError("full", errors.New("limit")), http.StatusServiceUnavailable, apperrors.TypeUnavailable},
		{"internal", apperrors.InternalError("failed", errors.New("cause")), http.StatusInternalServerError, apperrors.TypeInternal},
		{"echo_http_error", echo.NewHTTPError(http.StatusUnauthorized, "invalid key"), http.StatusUnauthorized, apperrors.TypeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := runMiddleware(t, func(echo.Context) error { return tt.err })

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantType, decodeError(t, rec).Type)
		})
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/test", nil), httptest.NewRecorder())

	var id string
	err := correlationMiddleware(func(c echo.Context) error {
		id, _ = correlation.ID(c.Request().Context())
		return nil
	})(c)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{"bad_request", echo.NewHTTPError(http.StatusBadRequest, "bad request"), apperrors.TypeValidation, http.StatusBadRequest},
		{"method_not_allowed", echo.ErrMethodNotAllowed, apperrors.TypeValidation, http.StatusBadRequest},
		{"forbidden", echo.NewHTTPError(http.StatusForbidden, "forbidden"), apperrors.TypeForbidden, http.StatusForbidden},
		{"not_found", echo.ErrNotFound, apperrors.TypeNotFound, http.StatusNotFound},
		{"too_many_requests", echo.ErrTooManyRequests, apperrors.TypeUnavailable, http.StatusServiceUnavailable},
		{"internal", echo.NewHTTPError(http.StatusInternalServerError, "internal error"), apperrors.TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPError_Messages(t *testing.T) {
	cause := errors.New("underlying cause")
	withCause := echo.NewHTTPError(http.StatusInternalServerError, "wrapped")
	withCause.Internal = cause

	assert.Equal(t, cause, WrapHTTPError(withCause).Cause)
	assert.Equal(t, "Bad Request", WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, 12345)).Message)
	assert.Equal(t, "Bad Request", WrapHTTPError(&echo.HTTPError{Code: http.StatusBadRequest}).Message)
	assert.Equal(t, "internal server error", WrapHTTPError(&echo.HTTPError{Code: 599}).Message)
}
