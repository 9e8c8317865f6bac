package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Error is the structured error body the API returns for recoverable
// failures.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps an error response.
type Envelope struct {
	Error *Error `json:"error,omitempty"`
}

// AbortError records an error and aborts the handler. The response is
// rendered by the Errors middleware.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set("app_error", &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// BindError reports a request binding failure. Validation errors are broken
// out per field (lowercased field name, failing rule) so clients can show
// them next to the inputs; anything else is a plain bad request.
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		AbortError(c, http.StatusBadRequest, "validation", "invalid request", fields)
		return
	}
	AbortError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)
}

// Errors emits the JSON error envelope and a structured log entry when an
// error was recorded via AbortError.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get("app_error")
		if !ok {
			return
		}
		err, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		logger := log.Ctx(c.Request.Context()).Error().Str("code", err.Code)
		for k, v := range err.FieldErrors {
			logger = logger.Str("field_"+k, v)
		}
		logger.Msg(err.Message)
		c.JSON(status, Envelope{Error: err})
	}
}
