package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	authdomain "github.com/smallbiznis/hwlicense/internal/auth/domain"
	"github.com/smallbiznis/hwlicense/internal/download"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	"github.com/smallbiznis/hwlicense/internal/proof"
	"github.com/smallbiznis/hwlicense/internal/ratelimit"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, proof.ErrProofMissing),
		errors.Is(err, proof.ErrProofInvalid),
		errors.Is(err, proof.ErrSecretUnset):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isLicenseOutcome(err):
		return http.StatusForbidden, errorPayload{
			Type:    err.Error(),
			Message: licensedomain.Message(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ratelimit.ErrBackendUnavailable),
		errors.Is(err, download.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the (type, code) pair logged with each failed
// request.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		code := ""
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation_error", code
	}
	if isValidationError(err) {
		return "validation_error", validationErrorCode(err)
	}
	_, payload := mapError(err)
	return payload.Type, rootCode(err)
}

// rootCode is the innermost sentinel text, without wrapping context.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	code, _, _ := strings.Cut(err.Error(), ":")
	return code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, licensedomain.ErrInvalidKey),
		errors.Is(err, licensedomain.ErrInvalidHWID),
		errors.Is(err, licensedomain.ErrInvalidDays),
		errors.Is(err, licensedomain.ErrInvalidID),
		errors.Is(err, licensedomain.ErrInvalidPageToken),
		errors.Is(err, licensedomain.ErrInvalidStatus),
		errors.Is(err, auditdomain.ErrInvalidLicense),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

// isLicenseOutcome matches lifecycle outcomes surfaced as errors, which only
// happens on the download endpoint. NotFound stays a 404.
func isLicenseOutcome(err error) bool {
	return errors.Is(err, licensedomain.ErrInactive) ||
		errors.Is(err, licensedomain.ErrHwidConflict) ||
		errors.Is(err, licensedomain.ErrExpired)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, licensedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, licensedomain.ErrInvalidKey):
		return licensedomain.ErrInvalidKey.Error()
	case errors.Is(err, licensedomain.ErrInvalidHWID):
		return licensedomain.ErrInvalidHWID.Error()
	case errors.Is(err, licensedomain.ErrInvalidDays):
		return licensedomain.ErrInvalidDays.Error()
	case errors.Is(err, licensedomain.ErrInvalidID):
		return licensedomain.ErrInvalidID.Error()
	case errors.Is(err, licensedomain.ErrInvalidPageToken), errors.Is(err, auditdomain.ErrInvalidPageToken):
		return "invalid_page_token"
	case errors.Is(err, licensedomain.ErrInvalidStatus):
		return licensedomain.ErrInvalidStatus.Error()
	case errors.Is(err, auditdomain.ErrInvalidLicense):
		return auditdomain.ErrInvalidLicense.Error()
	case errors.Is(err, auditdomain.ErrInvalidAction):
		return auditdomain.ErrInvalidAction.Error()
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_license_key":
		return "license_key"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_days":
		return "days must be between 1 and 3650"
	default:
		return "invalid value"
	}
}
