package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
)

type ErrorCode string

const (
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeInvalidFormat    ErrorCode = "INVALID_FORMAT"
	CodeBadRequest       ErrorCode = "BAD_REQUEST"
	CodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"
	CodeIngest           ErrorCode = "INGEST_FAILED"
	CodeRateLimit        ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavail   ErrorCode = "SERVICE_UNAVAILABLE"
	CodeTimeout          ErrorCode = "TIMEOUT"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getStatusCode(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getStatusCode(code),
		Cause:      err,
	}
}

func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

func InternalWrap(err error, message string) *AppError {
	return Wrap(err, CodeInternal, message)
}

func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

func ValidationWrap(err error, message string) *AppError {
	return Wrap(err, CodeValidation, message)
}

func InvalidFormat(message string) *AppError {
	return New(CodeInvalidFormat, message)
}

func BadRequestWrap(err error, message string) *AppError {
	return Wrap(err, CodeBadRequest, message)
}

func InsufficientData(message string) *AppError {
	return New(CodeInsufficientData, message)
}

func InsufficientDataWrap(err error, message string) *AppError {
	return Wrap(err, CodeInsufficientData, message)
}

// Ingest reports a bulk import failure. The cause text is the client-facing
// message.
func Ingest(err error) *AppError {
	return Wrap(err, CodeIngest, err.Error())
}

func RateLimit(message string) *AppError {
	return New(CodeRateLimit, message)
}

func ServiceUnavailableWrap(err error, message string) *AppError {
	return Wrap(err, CodeServiceUnavail, message)
}

func Timeout(err error, message string) *AppError {
	return Wrap(err, CodeTimeout, message)
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

func getStatusCode(code ErrorCode) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidFormat:
		return http.StatusBadRequest
	case CodeInsufficientData:
		return http.StatusUnprocessableEntity
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeServiceUnavail:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      ErrorCode `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, requestID string) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = InternalWrap(err, "An unexpected error occurred")
	}

	response := ErrorResponse{
		Error:     appErr.Message,
		Code:      appErr.Code,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		logger.Error("failed to encode error response",
			"encode_error", encodeErr,
			"original_error", err,
			"request_id", requestID,
		)
		return
	}

	logLevel := slog.LevelError
	if appErr.StatusCode < 500 {
		logLevel = slog.LevelWarn
	}

	logger.Log(context.TODO(), logLevel, "request failed",
		"error_code", appErr.Code,
		"error_message", appErr.Message,
		"status_code", appErr.StatusCode,
		"request_id", requestID,
		"cause", appErr.Cause,
	)
}

// WriteJSON writes data as the whole response body.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func WriteJSONWithHeaders(w http.ResponseWriter, data any, headers map[string]string) {
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	WriteJSON(w, http.StatusOK, data)
}
