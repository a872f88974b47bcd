// Package envelope implements the success/error JSON envelope of spec §6:
// {success: true, data, message?} and {success: false, message, errors?}.
// Grounded on the teacher's internal/http/response package (gin.Context
// helpers returning a single JSON shape) but reshaped to the spec's own
// envelope rather than the teacher's {error:{message,code}} shape.
package envelope

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
)

type Success struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type Failure struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func OK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Success{Success: true, Data: data, Message: message})
}

func Fail(c *gin.Context, status int, message string, fieldErrors ...string) {
	c.JSON(status, Failure{Success: false, Message: message, Errors: fieldErrors})
}

// FromError maps the error taxonomy of §7 onto HTTP status codes and the
// standard error envelope.
func FromError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *errs.ValidationError:
		Fail(c, http.StatusBadRequest, e.Error(), e.Fields...)
	case *errs.NotFoundError:
		Fail(c, http.StatusNotFound, e.Error())
	case *errs.ConflictError:
		Fail(c, http.StatusConflict, e.Error())
	case *errs.TransientBackendError:
		Fail(c, http.StatusServiceUnavailable, e.Error())
	case *errs.InvariantViolationError:
		Fail(c, http.StatusInternalServerError, e.Error())
	default:
		Fail(c, http.StatusInternalServerError, err.Error())
	}
}
