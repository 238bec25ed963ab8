package model

import "encoding/json"

// ErrorMessage extracts a provider error message from a JSON error body.
// Both {"error":{"message":...}} and {"message":...} envelopes are
// understood; anything else yields "".
func ErrorMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Error) > 0 {
		var inner struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &inner) == nil && inner.Message != "" {
			return inner.Message
		}
		var s string
		if json.Unmarshal(env.Error, &s) == nil {
			return s
		}
	}
	return env.Message
}
