package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/layer-3/fundgate/core"
	"go.uber.org/zap"
)

const SIWEStatement = "Sign in to Polyagent"

var (
	// DefaultChains are Polygon and Polygon Amoy
	DefaultChains = []int64{137, 80002}

	ErrSignInInProgress = errors.New("sign-in already in progress")
)

// SignInConfig describes the site the user is signing in to
type SignInConfig struct {
	Domain    string
	URI       string
	Chains    []int64
	Statement string
	// ExpiresIn adds an expiration time to the message when positive.
	ExpiresIn time.Duration
}

// SignIn runs the nonce, sign, login sequence for a connected wallet
type SignIn struct {
	api        AuthAPI
	wallet     Wallet
	reconciler *Reconciler
	cfg        SignInConfig
	logger     *zap.Logger
	now        func() time.Time

	running atomic.Bool
}

// NewSignIn creates a sign-in flow
func NewSignIn(api AuthAPI, wallet Wallet, reconciler *Reconciler, cfg SignInConfig, logger *zap.Logger) *SignIn {
	if len(cfg.Chains) == 0 {
		cfg.Chains = DefaultChains
	}
	if cfg.Statement == "" {
		cfg.Statement = SIWEStatement
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignIn{
		api:        api,
		wallet:     wallet,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Supported reports whether chainID is one the flow signs in on
func (s *SignIn) Supported(chainID int64) bool {
	return slices.Contains(s.cfg.Chains, chainID)
}

// Run signs in the wallet described by state. It does nothing and returns
// nil when no wallet is connected or the chain is unsupported, and returns
// ErrSignInInProgress when another run has not finished yet.
func (s *SignIn) Run(ctx context.Context, state WalletState) (*core.Session, error) {
	if !state.Connected || state.Address == "" || !s.Supported(state.ChainID) {
		return nil, nil
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSignInInProgress
	}
	defer s.running.Store(false)

	session, err := s.run(ctx, state)
	if err != nil {
		s.logger.Error("SIWE sign-in failed", zap.String("address", state.Address), zap.Error(err))
		s.reconciler.Clear()
		return nil, err
	}

	s.reconciler.Promote(*session)
	return session, nil
}

func (s *SignIn) run(ctx context.Context, state WalletState) (*core.Session, error) {
	nonce, err := s.api.Nonce(ctx, NonceParams{
		Address: state.Address,
		ChainID: state.ChainID,
		Domain:  s.cfg.Domain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	msg := core.SIWEMessage{
		Domain:    s.cfg.Domain,
		Address:   state.Address,
		Statement: s.cfg.Statement,
		URI:       s.cfg.URI,
		Version:   core.SIWEVersion,
		ChainID:   state.ChainID,
		Nonce:     nonce,
		IssuedAt:  s.now(),
	}
	if s.cfg.ExpiresIn > 0 {
		msg.ExpirationTime = msg.IssuedAt.Add(s.cfg.ExpiresIn)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	text := msg.String()

	signature, err := s.wallet.SignMessage(ctx, state.Address, text)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	user, err := s.api.Login(ctx, LoginParams{Message: text, Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return &core.Session{Address: user.Address, Role: user.Role}, nil
}
