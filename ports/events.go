package ports

import "context"

// SessionEvent describes a change of a browser session
type SessionEvent struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Role    string `json:"role,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const (
	EventLogin       = "session.login"
	EventLogout      = "session.logout"
	EventInvalidated = "session.invalidated"
)

// EventPublisher publishes session events to other instances
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}
