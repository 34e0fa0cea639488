package llm

import (
	"errors"
	"fmt"
)

// ErrUnknownModel is returned by Catalog.Resolve for references it cannot resolve.
var ErrUnknownModel = errors.New("unknown model")

// ErrUnknownProvider is returned when a model names a provider that is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrNoChoices is returned when a chat completion response carries no choices.
var ErrNoChoices = errors.New("response has no choices")

// maxErrorBody caps the response body kept in an APIError.
const maxErrorBody = 4 << 10

// APIError is a non-2xx response from a model backend.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}
