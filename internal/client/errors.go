package client

import (
	"errors"
	"fmt"
)

// APIError is a response the backend actually produced, as opposed to a
// transport failure where no response arrived. The distinction matters:
// the session poll must ignore transport failures but act on 401s.
type APIError struct {
	StatusCode    int
	Message       string
	ForceLogout   bool
	RemainingTime int
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// AsAPIError unwraps err into an APIError. ok is false for transport
// failures and breaker rejections.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
