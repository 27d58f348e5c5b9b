package core

import (
	"bytes"
	"encoding/json"
)

// LoginPayload is a successful upstream /auth/login response that passed
// shape validation. User holds the upstream user object minus any token field.
type LoginPayload struct {
	Code    int
	Message string
	Token   string
	Address string
	Role    Role
	User    map[string]any
}

// ProfilePayload is a successful upstream /user/profile response that passed
// shape validation.
type ProfilePayload struct {
	Code    int
	Message string
	Address string
	Role    Role
}

type upstreamEnvelope struct {
	Code    *int            `json:"code"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e upstreamEnvelope) code() int {
	if e.Code == nil {
		return CodeSuccess
	}
	return *e.Code
}

func (e upstreamEnvelope) message() string {
	if e.Message == nil {
		return MessageSuccess
	}
	return *e.Message
}

// ValidateLogin checks an upstream login body: a non-empty token, a user
// object, a non-empty address and a role that is exactly INVESTOR or MANAGER.
func ValidateLogin(body []byte) (*LoginPayload, error) {
	var env upstreamEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ShapeError{Kind: ErrInvalidLogin, Field: "body"}
	}

	var data struct {
		Token *string         `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	if isNull(env.Data) || json.Unmarshal(env.Data, &data) != nil {
		return nil, &ShapeError{Kind: ErrInvalidLogin, Field: "data"}
	}
	if data.Token == nil || *data.Token == "" {
		return nil, &ShapeError{Kind: ErrInvalidLogin, Field: "data.token"}
	}

	var user map[string]any
	if isNull(data.User) || json.Unmarshal(data.User, &user) != nil || user == nil {
		return nil, &ShapeError{Kind: ErrInvalidLogin, Field: "data.user"}
	}
	address, _ := user["address"].(string)
	if address == "" {
		return nil, &ShapeError{Kind: ErrInvalidLogin, Field: "data.user.address"}
	}
	roleStr, _ := user["role"].(string)
	role, err := ParseRole(roleStr)
	if err != nil {
		return nil, &ShapeError{Kind: ErrInvalidLogin, Field: "data.user.role"}
	}
	delete(user, "token")

	return &LoginPayload{
		Code:    env.code(),
		Message: env.message(),
		Token:   *data.Token,
		Address: address,
		Role:    role,
		User:    user,
	}, nil
}

// ValidateProfile checks an upstream profile body: address must be present,
// role may be absent but if present must be a known role.
func ValidateProfile(body []byte) (*ProfilePayload, error) {
	var env upstreamEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ShapeError{Kind: ErrInvalidProfile, Field: "body"}
	}

	var data map[string]json.RawMessage
	if isNull(env.Data) || json.Unmarshal(env.Data, &data) != nil || data == nil {
		return nil, &ShapeError{Kind: ErrInvalidProfile, Field: "data"}
	}

	var address string
	if raw, ok := data["address"]; !ok || json.Unmarshal(raw, &address) != nil || address == "" {
		return nil, &ShapeError{Kind: ErrInvalidProfile, Field: "data.address"}
	}

	var role Role
	if raw, ok := data["role"]; ok {
		var s string
		if json.Unmarshal(raw, &s) != nil || isNull(raw) {
			return nil, &ShapeError{Kind: ErrInvalidProfile, Field: "data.role"}
		}
		r, err := ParseRole(s)
		if err != nil {
			return nil, &ShapeError{Kind: ErrInvalidProfile, Field: "data.role"}
		}
		role = r
	}

	return &ProfilePayload{
		Code:    env.code(),
		Message: env.message(),
		Address: address,
		Role:    role,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
