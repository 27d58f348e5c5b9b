package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role is the platform role attached to a signed-in address
type Role string

const (
	RoleInvestor Role = "INVESTOR"
	RoleManager  Role = "MANAGER"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleInvestor || r == RoleManager
}

// ParseRole accepts only the exact upper-case role names
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Session represents "this browser is authenticated as Address with Role".
// An empty Role means the role has not been resolved yet.
type Session struct {
	Address string `json:"address"`
	Role    Role   `json:"role,omitempty"`
}

// NormalizeAddress lower-cases an address for comparison and storage
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// SameAddress compares two addresses case-insensitively.
// Two empty addresses never match.
func SameAddress(a, b string) bool {
	na, nb := NormalizeAddress(a), NormalizeAddress(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

// ValidateAddress checks that address is a 20-byte hex account and returns
// its EIP-55 checksummed form.
func ValidateAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}
