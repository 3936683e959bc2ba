package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response represents standard API response
type Response struct {
	Code      int       `json:"code"`            // HTTP status code
	Message   string    `json:"message"`         // Response message
	Data      any       `json:"data,omitempty"`  // Response data
	Error     string    `json:"error,omitempty"` // Error message if any
	RequestID string    `json:"request_id"`      // Request ID for tracking
	Timestamp time.Time `json:"timestamp"`       // Response timestamp
}

// respond sends data with the given status
func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{
		Code:      status,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now(),
	})
}

// respondError sends an error response
func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, Response{
		Code:      status,
		Message:   "error",
		Error:     err.Error(),
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now(),
	})
}

// notFound sends a not found error response
func notFound(c *gin.Context, err error) {
	respondError(c, http.StatusNotFound, err)
}
