package providers

import (
	"encoding/json"
	"fmt"
)

// Error is returned when the generation API answers with a non-2xx status.
type Error struct {
	Provider   string
	StatusCode int
	Message    string // upstream error message, when the body carried one
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: API returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: API returned non-2xx status: %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// parseErrorMessage reads {"error":{"message":...}}, {"error":"..."} or {"message":...}.
func parseErrorMessage(body []byte) string {
	var v struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}

	if len(v.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(v.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if err := json.Unmarshal(v.Error, &s); err == nil && s != "" {
			return s
		}
	}
	return v.Message
}
