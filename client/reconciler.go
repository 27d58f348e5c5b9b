package client

import (
	"sync"

	"github.com/layer-3/fundgate/core"
	"go.uber.org/zap"
)

// LogoutScheduler queues a server-side logout without waiting for it
type LogoutScheduler interface {
	Enqueue() bool
}

// Config controls the reconciler
type Config struct {
	// EnforceAddressMatch drops the session when the connected wallet is a
	// different account than the one that signed in.
	EnforceAddressMatch bool
}

// DefaultConfig enforces address matching
func DefaultConfig() Config {
	return Config{EnforceAddressMatch: true}
}

// Reconciler keeps the local session consistent with the connected wallet.
// It only ever clears a session; Promote is reserved for a completed sign-in.
type Reconciler struct {
	mu              sync.Mutex
	session         *core.Session
	lastMismatchKey string

	enforce bool
	logouts LogoutScheduler
	refresh func()
	logger  *zap.Logger
}

// NewReconciler starts from initial, usually the session reported by the bridge.
// refresh is called once after every local session change.
func NewReconciler(initial *core.Session, logouts LogoutScheduler, refresh func(), cfg Config, logger *zap.Logger) *Reconciler {
	if refresh == nil {
		refresh = func() {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		session: copySession(initial),
		enforce: cfg.EnforceAddressMatch,
		logouts: logouts,
		refresh: refresh,
		logger:  logger,
	}
}

// Session returns a copy of the current session, nil when signed out
func (r *Reconciler) Session() *core.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copySession(r.session)
}

// Reset replaces the session with a fresh value from the bridge
func (r *Reconciler) Reset(session *core.Session) {
	r.mu.Lock()
	r.session = copySession(session)
	r.mu.Unlock()
}

// SignedIn reports whether the session should be shown as signed in for state
func (r *Reconciler) SignedIn(state WalletState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.session.Address == "" {
		return false
	}
	if !r.enforce {
		return true
	}
	return state.Connected && core.SameAddress(state.Address, r.session.Address)
}

// Disconnected handles a wallet disconnect
func (r *Reconciler) Disconnected() {
	r.mu.Lock()
	hadSession := r.session != nil
	r.session = nil
	r.lastMismatchKey = ""
	r.mu.Unlock()

	if hadSession {
		r.scheduleLogout("disconnected")
	}
	r.refresh()
}

// Connected handles a wallet connect event for address
func (r *Reconciler) Connected(address string) {
	r.check(WalletState{Connected: true, Address: address})
}

// Observe re-runs the mismatch check for the latest wallet state
func (r *Reconciler) Observe(state WalletState) {
	r.check(state)
}

// Promote installs the session produced by a completed sign-in
func (r *Reconciler) Promote(session core.Session) {
	r.mu.Lock()
	r.session = &session
	r.lastMismatchKey = ""
	r.mu.Unlock()

	r.refresh()
}

// Clear drops the local session without contacting the bridge
func (r *Reconciler) Clear() {
	r.mu.Lock()
	r.session = nil
	r.mu.Unlock()
}

func (r *Reconciler) check(state WalletState) {
	r.mu.Lock()
	if !state.Connected || state.Address == "" {
		r.lastMismatchKey = ""
		r.mu.Unlock()
		return
	}
	if r.session == nil {
		r.mu.Unlock()
		return
	}

	sessionAddress := core.NormalizeAddress(r.session.Address)
	connectedAddress := core.NormalizeAddress(state.Address)
	if sessionAddress == connectedAddress {
		r.lastMismatchKey = ""
		r.mu.Unlock()
		return
	}
	if !r.enforce {
		r.mu.Unlock()
		return
	}

	key := sessionAddress + "->" + connectedAddress
	if r.lastMismatchKey == key {
		r.mu.Unlock()
		return
	}
	r.lastMismatchKey = key
	r.session = nil
	r.mu.Unlock()

	r.logger.Info("Wallet address does not match session",
		zap.String("session", sessionAddress),
		zap.String("connected", connectedAddress))
	r.scheduleLogout("address_mismatch")
	r.refresh()
}

func (r *Reconciler) scheduleLogout(reason string) {
	if r.logouts == nil {
		return
	}
	if !r.logouts.Enqueue() {
		r.logger.Warn("Logout queue full, dropping logout", zap.String("reason", reason))
	}
}

func copySession(s *core.Session) *core.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
