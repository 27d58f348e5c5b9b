package ports

import (
	"context"
	"time"
)

// NonceLedger records SIWE nonces that have been presented at login
type NonceLedger interface {
	// Consume marks nonce as used for ttl. It returns core.ErrNonceUsed when
	// the nonce was already consumed and has not expired.
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}
