// Copyright 2024 Shop Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrorCode classifies a failure for API clients
type ErrorCode string

// Error codes and the HTTP status each one maps to
const (
	ErrorCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrorCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeConflict           ErrorCode = "CONFLICT"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
	ErrorCodeDependencyFailure  ErrorCode = "DEPENDENCY_FAILURE"
)

var statusByCode = map[ErrorCode]int{
	ErrorCodeBadRequest:         http.StatusBadRequest,
	ErrorCodeUnauthorized:       http.StatusUnauthorized,
	ErrorCodeNotFound:           http.StatusNotFound,
	ErrorCodeConflict:           http.StatusConflict,
	ErrorCodeInternalError:      http.StatusInternalServerError,
	ErrorCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrorCodeTimeout:            http.StatusGatewayTimeout,
	ErrorCodeDependencyFailure:  http.StatusBadGateway,
}

// Status returns the HTTP status for code, 500 for unknown codes
func (c ErrorCode) Status() int {
	if status, ok := statusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ServiceError is a failure with a message that is safe to show the
// customer. Internal keeps the cause for logs and errors.Is.
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Internal   error
}

// NewError creates a ServiceError whose status follows from code
func NewError(code ErrorCode, message string, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: code.Status(),
		Internal:   internal,
	}
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ErrorResponse is the JSON body of every failed API call
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Response renders the error for the caller
func (e *ServiceError) Response(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// ErrorMapper turns errors with no customer-facing message into one
type ErrorMapper struct {
	logger *zap.Logger
}

// NewErrorMapper creates a mapper that logs every error it maps
func NewErrorMapper(logger *zap.Logger) *ErrorMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorMapper{logger: logger}
}

// Map returns err as a ServiceError. Errors that already are one pass
// through unchanged; the rest are classified by cause.
func (m *ErrorMapper) Map(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		svcErr = NewError(ErrorCodeTimeout, "The request took too long. Please try again.", err)
	case errors.Is(err, ErrCircuitBreakerOpen):
		svcErr = NewError(ErrorCodeServiceUnavailable, "This service is temporarily unavailable. Please try again in a few minutes.", err)
	default:
		svcErr = NewError(ErrorCodeInternalError, "Something went wrong while "+operation+". Please try again.", err)
	}

	m.logger.Error("Request failed",
		zap.String("operation", operation),
		zap.String("error_code", string(svcErr.Code)),
		zap.Error(err))

	return svcErr
}
