package response

import (
	"net/http"

	"activation-api/internal/apperr"

	"github.com/gin-gonic/gin"
)

// Body builds a response body: success and message followed by extra
// top-level fields
func Body(success bool, message string, fields gin.H) gin.H {
	body := gin.H{
		"success": success,
		"message": message,
	}
	for k, v := range fields {
		body[k] = v
	}
	return body
}

// JSON sends a JSON response
func JSON(c *gin.Context, statusCode int, body gin.H) {
	c.JSON(statusCode, body)
}

// SuccessJSON sends a 200 success response
func SuccessJSON(c *gin.Context, message string, fields gin.H) {
	JSON(c, http.StatusOK, Body(true, message, fields))
}

// CreatedJSON sends a 201 success response
func CreatedJSON(c *gin.Context, message string, fields gin.H) {
	JSON(c, http.StatusCreated, Body(true, message, fields))
}

// Fail writes a classified error. Only the client-safe message and the
// error's extra fields reach the body.
func Fail(c *gin.Context, err error) {
	body := Body(false, apperr.MessageOf(err), apperr.FieldsOf(err))
	body["code"] = apperr.KindOf(err).Code()
	JSON(c, apperr.StatusOf(err), body)
}

// AbortFail writes a classified error and stops the handler chain.
func AbortFail(c *gin.Context, err error) {
	Fail(c, err)
	c.Abort()
}
