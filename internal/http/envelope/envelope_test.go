package envelope

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestOKWritesSuccessEnvelope(t *testing.T) {
	c, w := newTestContext()
	OK(c, http.StatusOK, map[string]string{"id": "abc"}, "fetched")
	var body Success
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "fetched", body.Message)
}

func TestFromErrorMapsValidationErrorTo400(t *testing.T) {
	c, w := newTestContext()
	FromError(c, errs.NewValidation("sample_type"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body Failure
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, []string{"sample_type"}, body.Errors)
}

func TestFromErrorMapsNotFoundTo404(t *testing.T) {
	c, w := newTestContext()
	FromError(c, errs.NewNotFound("sample", "abc-123"))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFromErrorMapsConflictTo409(t *testing.T) {
	c, w := newTestContext()
	FromError(c, errs.NewConflict("step already completed"))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestFromErrorMapsTransientTo503(t *testing.T) {
	c, w := newTestContext()
	FromError(c, errs.NewTransient(nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFromErrorDefaultsUnknownErrorsTo500(t *testing.T) {
	c, w := newTestContext()
	FromError(c, errUnknown{})
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

type errUnknown struct{}

func (errUnknown) Error() string { return "boom" }
