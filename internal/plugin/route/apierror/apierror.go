// Package apierror renders domain errors as HTTP responses shared by the
// route plugins.
package apierror

import (
	"errors"
	"net/http"

	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/chirino/threadflow/internal/service"
	"github.com/gin-gonic/gin"
)

// Write maps err to a status code and a {"error", "code"} body. Failures
// that happened after a user message was stored also carry the ids needed
// to retry. err is attached to the gin context for the access log.
func Write(c *gin.Context, err error) {
	status, body := Render(err)
	_ = c.Error(err)
	c.JSON(status, body)
}

// WriteBind reports a request body that could not be decoded.
func WriteBind(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "payload_too_large", "error": "request body too large"})
		return
	}
	Write(c, &registrystore.ValidationError{Field: "body", Message: "invalid JSON body"})
}

// Render returns the status and body Write would send.
func Render(err error) (int, gin.H) {
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var providerErr *registryprovider.Error

	var status int
	var body gin.H
	switch {
	case errors.Is(err, security.ErrUnauthenticated):
		status, body = http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "authentication required"}
	case errors.Is(err, registrystore.ErrNotFound):
		status, body = http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()}
	case errors.As(err, &validation):
		status, body = http.StatusBadRequest, gin.H{"code": "validation_error", "error": validation.Message, "field": validation.Field}
	case errors.Is(err, registrystore.ErrForbidden):
		status, body = http.StatusForbidden, gin.H{"code": "forbidden", "error": "access denied"}
	case errors.As(err, &conflict):
		code := conflict.Code
		if code == "" {
			code = "conflict"
		}
		status, body = http.StatusConflict, gin.H{"code": code, "error": err.Error()}
	case errors.As(err, &providerErr):
		switch {
		case providerErr.Unavailable:
			status, body = http.StatusServiceUnavailable, gin.H{"code": "provider_unavailable"}
		case providerErr.Timeout:
			status, body = http.StatusGatewayTimeout, gin.H{"code": "provider_timeout"}
		default:
			status, body = http.StatusBadGateway, gin.H{"code": "provider_error"}
		}
		body["error"] = providerErr.Error()
		body["provider"] = providerErr.Provider
	default:
		return http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "internal server error"}
	}

	var submit *service.SubmitError
	if errors.As(err, &submit) {
		body["conversationId"] = submit.ConversationID.String()
		body["userMessageId"] = submit.UserMessageID.String()
	}
	return status, body
}
