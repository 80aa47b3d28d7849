package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"activation-api/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFail(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		err     error
		status  int
		message string
		code    string
	}{
		{"classified", apperr.New(apperr.NotFound, "Product not found"), http.StatusNotFound, "Product not found", "NOT_FOUND"},
		{"status override", apperr.New(apperr.Conflict, "Cannot delete used key").WithStatus(http.StatusBadRequest), http.StatusBadRequest, "Cannot delete used key", "CONFLICT"},
		{"unclassified", errors.New("pq: connection refused"), http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			Fail(c, tt.err)

			require.Equal(t, tt.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["message"])
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestFailCarriesFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	AbortFail(c, apperr.New(apperr.Conflict, "Product already activated on this device").WithField("activation_id", "a-1"))

	assert.True(t, c.IsAborted())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "a-1", body["activation_id"])
}

func TestSuccessJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	CreatedJSON(c, "Product added successfully!", gin.H{"product": gin.H{"name": "Editor"}})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Product added successfully!","product":{"name":"Editor"}}`, w.Body.String())
}
