package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
)

// ServiceError is a failed call to the analysis service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis service error (%d): %s", e.StatusCode, e.Message)
	}
	return "analysis service error: " + e.Message
}

// AsServiceError normalizes any failure of a service call. A ServiceError
// passes through untouched.
func AsServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{StatusCode: http.StatusGatewayTimeout, Message: "the analysis service did not answer in time"}
	}
	if errors.Is(err, context.Canceled) {
		return &ServiceError{StatusCode: 499, Message: "request canceled"}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ServiceError{StatusCode: apiErr.StatusCode, Message: fmt.Sprintf("API request failed: %d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))}
	}
	return &ServiceError{StatusCode: http.StatusBadGateway, Message: err.Error()}
}
