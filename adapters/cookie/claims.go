package cookie

import "github.com/golang-jwt/jwt/v5"

// SessionClaims seal the upstream bearer token inside the cookie
type SessionClaims struct {
	jwt.RegisteredClaims
	Token string `json:"tok"`
}
