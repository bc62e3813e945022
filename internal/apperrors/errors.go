package apperrors

import "errors"

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError          ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError        ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrorCodeConflict               ErrorCode = "CONFLICT"
	ErrorCodeDeviceNotConfigured    ErrorCode = "DEVICE_NOT_CONFIGURED"
	ErrorCodeDeviceUnreachable      ErrorCode = "DEVICE_UNREACHABLE"
	ErrorCodeDeviceRejected         ErrorCode = "DEVICE_REJECTED"
	ErrorCodeDeviceTimeout          ErrorCode = "DEVICE_TIMEOUT"
	ErrorCodeDeviceMalformed        ErrorCode = "DEVICE_MALFORMED_RESPONSE"
	ErrorCodeCommandNotSupported    ErrorCode = "COMMAND_NOT_SUPPORTED"
	ErrorCodeInvalidEventType       ErrorCode = "INVALID_EVENT_TYPE"
	ErrorCodeAuthTokenExpired       ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid       ErrorCode = "AUTH_TOKEN_INVALID"
	ErrorCodeContentTypeUnsupported ErrorCode = "CONTENT_TYPE_UNSUPPORTED"
)

// Remediation provides guidance on how to fix an error.
type Remediation struct {
	Action     string `json:"action"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// =============================================================================
// Stripe API Error Types
// =============================================================================

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
	// ErrorTypeDeviceError indicates the player failed or refused the request.
	ErrorTypeDeviceError ErrorType = "device_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP and hub responses.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
	cause       error
}

func (err *AppError) Error() string {
	return err.Message
}

// Unwrap exposes the device error an AppError was built from, if any.
func (err *AppError) Unwrap() error {
	return err.cause
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case isDeviceCode(err.Code):
		errType = ErrorTypeDeviceError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	}
}

func isDeviceCode(code ErrorCode) bool {
	switch code {
	case ErrorCodeDeviceUnreachable, ErrorCodeDeviceRejected, ErrorCodeDeviceTimeout, ErrorCodeDeviceMalformed:
		return true
	}
	return false
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

// WithCause attaches the underlying error so callers can still errors.As on it.
func (err *AppError) WithCause(cause error) *AppError {
	err.cause = cause
	return err
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details, nil)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, 409, details, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil, nil)
}

// NewDeviceNotConfigured is returned when a command targets an entity with no stored endpoint.
func NewDeviceNotConfigured(entityID string) *AppError {
	return NewAppError(ErrorCodeDeviceNotConfigured, "device not configured: "+entityID, 404,
		map[string]any{"entity_id": entityID},
		&Remediation{Action: "configure_device", Endpoint: "/v1/devices"})
}

func NewCommandNotSupported(command string) *AppError {
	return NewAppError(ErrorCodeCommandNotSupported, "command not supported: "+command, 501,
		map[string]any{"cmd_id": command}, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
