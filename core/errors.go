package core

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrInvalidLogin        = errors.New("invalid upstream login response")
	ErrInvalidProfile      = errors.New("invalid upstream session response")
	ErrInvalidAddress      = errors.New("invalid ethereum address")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidMessage      = errors.New("invalid siwe message")
	ErrNonceUsed           = errors.New("nonce already used")
	ErrInvalidCookie       = errors.New("invalid session cookie")
)

// UpstreamError wraps a transport failure talking to the upstream API.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ShapeError reports which check an upstream payload failed.
type ShapeError struct {
	Kind  error
	Field string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Field)
}

func (e *ShapeError) Unwrap() error {
	return e.Kind
}
