package core

import "encoding/json"

// Envelope is the {code, message, data} shape used by the upstream API and
// by every auth endpoint of the bridge.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	CodeSuccess = 0
	CodeFailure = -1

	MessageSuccess = "success"
)

// Failure builds the fixed local error body {code:-1, message}.
func Failure(message string) Envelope {
	return Envelope{Code: CodeFailure, Message: message}
}

// SessionStatus is the data payload of the session-status endpoint
type SessionStatus struct {
	Authenticated bool   `json:"authenticated"`
	Address       string `json:"address,omitempty"`
	Role          Role   `json:"role,omitempty"`
}

// Unauthenticated is the canonical "logged out" body
func Unauthenticated() Envelope {
	return Envelope{
		Code:    CodeSuccess,
		Message: MessageSuccess,
		Data:    SessionStatus{Authenticated: false},
	}
}

// IsJSONPayload reports whether body parses as a truthy JSON value. null,
// false, 0 and "" do not count; objects and arrays always do.
func IsJSONPayload(body []byte) bool {
	if !json.Valid(body) {
		return false
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
