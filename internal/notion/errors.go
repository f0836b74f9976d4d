package notion

import (
	"fmt"
	"time"
)

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion: status=%d message=%s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *APIError) ErrorCode() string { return e.Code }

func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }
