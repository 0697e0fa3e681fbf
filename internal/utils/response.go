package utils

import (
	"errors"
	"net/http"

	"clinical-forms-server/internal/models"

	"github.com/gin-gonic/gin"
)

// ResponseData represents the structure of a standard API response.
type ResponseData struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Error codes returned alongside domain errors
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodePHIAccessDenied  = "PHI_ACCESS_DENIED"
	CodeConflict         = "STATE_CONFLICT"
	CodeNotFound         = "NOT_FOUND"
	CodeAuditUnavailable = "AUDIT_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

// Success sends a standard success response.
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, ResponseData{
		Status:  http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// Created sends a standard resource created response.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, ResponseData{
		Status:  http.StatusCreated,
		Message: message,
		Data:    data,
	})
}

// Error sends a standard error response.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	ErrorWithCode(c, statusCode, "", errorMessage)
}

// ErrorWithCode sends a standard error response carrying a machine readable code.
func ErrorWithCode(c *gin.Context, statusCode int, code, errorMessage string) {
	c.JSON(statusCode, ResponseData{
		Status:  statusCode,
		Message: "An error occurred",
		Error:   errorMessage,
		Code:    code,
	})
}

// BadRequest sends a 400 Bad Request error response.
func BadRequest(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusBadRequest, CodeValidation, errorMessage)
}

// Unauthorized sends a 401 Unauthorized error response.
func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

// Forbidden sends a 403 Forbidden error response.
func Forbidden(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusForbidden, CodePermissionDenied, errorMessage)
}

// NotFound sends a 404 Not Found error response.
func NotFound(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusNotFound, CodeNotFound, errorMessage)
}

// InternalServerError sends a 500 Internal Server Error response.
func InternalServerError(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusInternalServerError, CodeInternal, errorMessage)
}

// StatusFor maps a domain error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest, CodeValidation
	case models.KindAuthorization:
		if errors.Is(err, models.ErrPhiAccessDenied) {
			return http.StatusForbidden, CodePHIAccessDenied
		}
		return http.StatusForbidden, CodePermissionDenied
	case models.KindConflict:
		return http.StatusConflict, CodeConflict
	case models.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case models.KindLedgerFatal:
		return http.StatusServiceUnavailable, CodeAuditUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// RespondError sends the response matching a domain error. Internal errors are
// not echoed to the client.
func RespondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	_ = c.Error(err)
	ErrorWithCode(c, status, code, message)
}
