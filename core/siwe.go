package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	siweHeaderSuffix = " wants you to sign in with your Ethereum account:"
	SIWEVersion      = "1"
)

// SIWEMessage holds the EIP-4361 fields the sign-in flow uses.
type SIWEMessage struct {
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time
}

// String renders the message in EIP-4361 text form. The address is
// rendered in its checksummed form.
func (m SIWEMessage) String() string {
	address := m.Address
	if checksummed, err := ValidateAddress(address); err == nil {
		address = checksummed
	}
	version := m.Version
	if version == "" {
		version = SIWEVersion
	}

	var b strings.Builder
	b.WriteString(m.Domain)
	b.WriteString(siweHeaderSuffix)
	b.WriteString("\n")
	b.WriteString(address)
	b.WriteString("\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", version)
	fmt.Fprintf(&b, "Chain ID: %d\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.UTC().Format(time.RFC3339))
	if !m.ExpirationTime.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", m.ExpirationTime.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Validate checks the fields a message needs before it can be signed.
func (m SIWEMessage) Validate() error {
	switch {
	case m.Domain == "":
		return fmt.Errorf("%w: missing domain", ErrInvalidMessage)
	case m.URI == "":
		return fmt.Errorf("%w: missing uri", ErrInvalidMessage)
	case m.ChainID <= 0:
		return fmt.Errorf("%w: missing chain id", ErrInvalidMessage)
	case len(m.Nonce) < 8:
		return fmt.Errorf("%w: nonce too short", ErrInvalidMessage)
	}
	if _, err := ValidateAddress(m.Address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ParseSIWEMessage parses the text form produced by String.
func ParseSIWEMessage(text string) (*SIWEMessage, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) < 3 || !strings.HasSuffix(lines[0], siweHeaderSuffix) {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidMessage)
	}

	msg := &SIWEMessage{
		Domain:  strings.TrimSuffix(lines[0], siweHeaderSuffix),
		Address: lines[1],
	}
	if msg.Domain == "" {
		return nil, fmt.Errorf("%w: missing domain", ErrInvalidMessage)
	}
	if _, err := ValidateAddress(msg.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	rest := lines[2:]
	if len(rest) > 0 && rest[0] == "" {
		rest = rest[1:]
	}
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "URI: ") {
		msg.Statement = rest[0]
		rest = rest[1:]
		if len(rest) > 0 && rest[0] == "" {
			rest = rest[1:]
		}
	}

	for _, line := range rest {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "URI":
			msg.URI = value
		case "Version":
			msg.Version = value
		case "Chain ID":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad chain id", ErrInvalidMessage)
			}
			msg.ChainID = id
		case "Nonce":
			msg.Nonce = value
		case "Issued At":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad issued-at", ErrInvalidMessage)
			}
			msg.IssuedAt = t
		case "Expiration Time":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad expiration time", ErrInvalidMessage)
			}
			msg.ExpirationTime = t
		}
	}

	if msg.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidMessage)
	}
	if msg.Version != SIWEVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidMessage, msg.Version)
	}
	return msg, nil
}
