package forward

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("poke api key is required")
	ErrCircuitOpen   = errors.New("circuit breaker is open")
)

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		return fmt.Sprintf("poke api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("poke api: status %d: %s", e.StatusCode, message)
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}
