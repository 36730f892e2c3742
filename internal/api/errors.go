// ABOUTME: API error type decoding the server's {"error": "..."} body so
// ABOUTME: callers can inspect the status code and message.

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %s (%d)", e.Message, e.StatusCode)
}

// decodeError builds an *Error from a failed response. A body that is not
// the expected {"error": ...} shape still yields a usable error.
func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return apiErr
}
