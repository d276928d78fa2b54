package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/engramhq/engram/internal/engerr"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SuccessResponse sends a 200 with data.
func SuccessResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, &Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreatedResponse sends a 201 with data.
func CreatedResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, &Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error with an explicit status code.
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, &Response{
		Success: false,
		Message: message,
	})
}

// BadRequestError sends a 400.
func BadRequestError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message)
}

// NotFoundError sends a 404.
func NotFoundError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message)
}

// InternalError sends a 500.
func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, message)
}

// EngineError maps a core error kind to its HTTP status. This is the one
// place the taxonomy meets HTTP.
func EngineError(c *gin.Context, err error) {
	var code int
	switch engerr.KindOf(err) {
	case engerr.InvalidInput:
		code = http.StatusBadRequest
	case engerr.NotFound:
		code = http.StatusNotFound
	case engerr.Conflict:
		code = http.StatusConflict
	case engerr.ResourceUnavailable:
		code = http.StatusServiceUnavailable
	case engerr.IntegrityViolation:
		code = http.StatusInternalServerError
	default:
		code = http.StatusInternalServerError
	}
	ErrorResponse(c, code, err.Error())
}
