package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/internal/metrics"
	"github.com/layer-3/fundgate/ports"
	"go.uber.org/zap"
)

const (
	jsonContentType         = "application/json"
	defaultRelayContentType = "application/json; charset=utf-8"

	MessageInvalidLogin   = "Invalid upstream login response"
	MessageInvalidSession = "Invalid upstream session response"
	MessageUnreachable    = "Upstream unreachable"
	MessageTimeout        = "Upstream timeout"
	MessageNonceUsed      = "Nonce already used"
	MessageLogoutFailed   = "logout failed"

	DefaultNonceTTL = 10 * time.Minute
)

// Inbound is the explicit request context handed to every bridge operation.
// Cookie holds the raw session cookie value, empty when the browser sent none.
type Inbound struct {
	Method      string
	RawQuery    string
	ContentType string
	Accept      string
	Cookie      string
	Body        []byte
}

// CookieAction tells the transport what to do with the session cookie
type CookieAction int

const (
	CookieKeep CookieAction = iota
	CookieSet
	CookieClear
)

// Outbound is the response the transport writes back to the browser
type Outbound struct {
	Status      int
	ContentType string
	Body        []byte
	Cookie      CookieAction
	CookieValue string
}

// Config tunes the bridge
type Config struct {
	// ReplayGuard consumes SIWE nonces locally before forwarding a login.
	ReplayGuard bool
	NonceTTL    time.Duration
}

// Bridge translates browser requests carrying a session cookie into upstream
// requests carrying a bearer token.
type Bridge struct {
	upstream ports.Upstream
	codec    ports.CookieCodec
	ledger   ports.NonceLedger
	eventPub ports.EventPublisher
	logger   *zap.Logger

	replayGuard bool
	nonceTTL    time.Duration
}

// NewBridge creates a new session bridge
func NewBridge(
	upstream ports.Upstream,
	codec ports.CookieCodec,
	ledger ports.NonceLedger,
	eventPub ports.EventPublisher,
	logger *zap.Logger,
	cfg Config,
) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	nonceTTL := cfg.NonceTTL
	if nonceTTL <= 0 {
		nonceTTL = DefaultNonceTTL
	}
	return &Bridge{
		upstream:    upstream,
		codec:       codec,
		ledger:      ledger,
		eventPub:    eventPub,
		logger:      logger,
		replayGuard: cfg.ReplayGuard && ledger != nil,
		nonceTTL:    nonceTTL,
	}
}

// Proxy forwards in to upstreamPath, passing the upstream status, content
// type and body back untouched. Transport failures are returned as errors.
func (b *Bridge) Proxy(ctx context.Context, in Inbound, route, upstreamPath string) (*Outbound, error) {
	header := http.Header{}
	if in.ContentType != "" {
		header.Set("Content-Type", in.ContentType)
	}
	if in.Accept != "" {
		header.Set("Accept", in.Accept)
	}
	if token := b.token(in); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	var body []byte
	if in.Method != http.MethodGet && in.Method != http.MethodHead {
		body = in.Body
	}

	resp, err := b.upstream.Do(ctx, &ports.UpstreamRequest{
		Route:    route,
		Method:   in.Method,
		Path:     upstreamPath,
		RawQuery: in.RawQuery,
		Header:   header,
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	return &Outbound{
		Status:      resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	}, nil
}

// Nonce forwards a nonce request to /auth/nonce
func (b *Bridge) Nonce(ctx context.Context, in Inbound) (*Outbound, error) {
	return b.Proxy(ctx, in, "auth.nonce", "/auth/nonce")
}

// Login forwards a signed SIWE message to /auth/login and, when the upstream
// answers with a well-formed payload, moves the token into the cookie.
func (b *Bridge) Login(ctx context.Context, in Inbound) (*Outbound, error) {
	if out := b.guardReplay(ctx, in.Body); out != nil {
		return out, nil
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = jsonContentType
	}

	resp, err := b.upstream.Do(ctx, &ports.UpstreamRequest{
		Route:  "auth.login",
		Method: http.MethodPost,
		Path:   "/auth/login",
		Header: http.Header{"Content-Type": {contentType}},
		Body:   in.Body,
	})
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		return relay(resp), nil
	}

	payload, err := core.ValidateLogin(resp.Body)
	if err != nil {
		b.logger.Warn("Rejected upstream login response", zap.Error(err))
		metrics.RecordContractViolation("login")
		return jsonOutbound(http.StatusBadGateway, core.Failure(MessageInvalidLogin)), nil
	}

	value, err := b.codec.Encode(payload.Token, payload.Address)
	if err != nil {
		b.logger.Error("Failed to encode session cookie", zap.Error(err))
		return jsonOutbound(http.StatusBadGateway, core.Failure(MessageInvalidLogin)), nil
	}

	b.publish(ctx, ports.SessionEvent{
		Type:    ports.EventLogin,
		Address: core.NormalizeAddress(payload.Address),
		Role:    string(payload.Role),
	})

	out := jsonOutbound(resp.StatusCode, core.Envelope{
		Code:    payload.Code,
		Message: payload.Message,
		Data:    map[string]any{"user": payload.User},
	})
	out.Cookie = CookieSet
	out.CookieValue = value
	return out, nil
}

// Logout forwards to /auth/logout and always clears the session cookie, even
// when the upstream cannot be reached.
func (b *Bridge) Logout(ctx context.Context, in Inbound) (*Outbound, error) {
	header := http.Header{}
	if token := b.token(in); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	defer metrics.RecordCookieCleared("logout")

	resp, err := b.upstream.Do(ctx, &ports.UpstreamRequest{
		Route:  "auth.logout",
		Method: http.MethodPost,
		Path:   "/auth/logout",
		Header: header,
	})
	if err != nil {
		b.logger.Warn("Logout upstream call failed", zap.Error(err))
		out := FailureFor(err)
		out.Cookie = CookieClear
		return out, nil
	}

	b.publish(ctx, ports.SessionEvent{Type: ports.EventLogout})

	var out *Outbound
	if json.Valid(resp.Body) {
		out = &Outbound{Status: resp.StatusCode, ContentType: jsonContentType, Body: resp.Body}
	} else {
		env := core.Envelope{Code: core.CodeSuccess, Message: core.MessageSuccess, Data: map[string]any{}}
		if !resp.OK() {
			env = core.Envelope{Code: core.CodeFailure, Message: MessageLogoutFailed, Data: map[string]any{}}
		}
		status := resp.StatusCode
		if !bodyAllowed(status) {
			status = http.StatusOK
		}
		out = jsonOutbound(status, env)
	}
	out.Cookie = CookieClear
	return out, nil
}

// SessionStatus resolves the cookie against /user/profile. A missing cookie
// short-circuits without any upstream call.
func (b *Bridge) SessionStatus(ctx context.Context, in Inbound) (*Outbound, error) {
	if in.Cookie == "" {
		return jsonOutbound(http.StatusOK, core.Unauthenticated()), nil
	}

	token := b.token(in)
	if token == "" {
		metrics.RecordCookieCleared("invalid_cookie")
		out := jsonOutbound(http.StatusOK, core.Unauthenticated())
		out.Cookie = CookieClear
		return out, nil
	}

	resp, err := b.upstream.Do(ctx, &ports.UpstreamRequest{
		Route:  "user.profile",
		Method: http.MethodGet,
		Path:   "/user/profile",
		Header: http.Header{
			"Authorization": {"Bearer " + token},
			"Accept":        {jsonContentType},
		},
	})
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		out := jsonOutbound(http.StatusOK, core.Unauthenticated())
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			metrics.RecordCookieCleared("rejected")
			b.publish(ctx, ports.SessionEvent{Type: ports.EventInvalidated, Reason: http.StatusText(resp.StatusCode)})
			out.Cookie = CookieClear
		}
		return out, nil
	}

	profile, err := core.ValidateProfile(resp.Body)
	if err != nil {
		b.logger.Warn("Rejected upstream session response", zap.Error(err))
		metrics.RecordContractViolation("session")
		return jsonOutbound(http.StatusBadGateway, core.Failure(MessageInvalidSession)), nil
	}

	return jsonOutbound(http.StatusOK, core.Envelope{
		Code:    profile.Code,
		Message: profile.Message,
		Data: core.SessionStatus{
			Authenticated: true,
			Address:       profile.Address,
			Role:          profile.Role,
		},
	}), nil
}

// FailureFor maps a transport failure to the local 502/504 body
func FailureFor(err error) *Outbound {
	if errors.Is(err, core.ErrUpstreamTimeout) {
		return jsonOutbound(http.StatusGatewayTimeout, core.Failure(MessageTimeout))
	}
	return jsonOutbound(http.StatusBadGateway, core.Failure(MessageUnreachable))
}

func (b *Bridge) token(in Inbound) string {
	if in.Cookie == "" {
		return ""
	}
	token, err := b.codec.Decode(in.Cookie)
	if err != nil {
		b.logger.Debug("Ignoring unreadable session cookie", zap.Error(err))
		return ""
	}
	return token
}

// guardReplay consumes the nonce of a SIWE login body. Bodies that are not a
// SIWE login are left for the upstream to judge.
func (b *Bridge) guardReplay(ctx context.Context, body []byte) *Outbound {
	if !b.replayGuard {
		return nil
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Message == "" {
		return nil
	}
	msg, err := core.ParseSIWEMessage(req.Message)
	if err != nil {
		return nil
	}

	err = b.ledger.Consume(ctx, msg.Nonce, b.nonceTTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNonceUsed):
		b.logger.Info("Rejected replayed login nonce", zap.String("address", core.NormalizeAddress(msg.Address)))
		return jsonOutbound(http.StatusConflict, core.Failure(MessageNonceUsed))
	default:
		// the upstream still verifies the nonce, so a ledger outage does not block logins
		b.logger.Warn("Nonce ledger unavailable", zap.Error(err))
		return nil
	}
}

func (b *Bridge) publish(ctx context.Context, event ports.SessionEvent) {
	if b.eventPub == nil {
		return
	}
	if err := b.eventPub.PublishSessionEvent(ctx, event); err != nil {
		b.logger.Warn("Failed to publish session event", zap.String("type", event.Type), zap.Error(err))
	}
}

func relay(resp *ports.UpstreamResponse) *Outbound {
	if core.IsJSONPayload(resp.Body) {
		return &Outbound{Status: resp.StatusCode, ContentType: jsonContentType, Body: resp.Body}
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = defaultRelayContentType
	}
	return &Outbound{Status: resp.StatusCode, ContentType: contentType, Body: resp.Body}
}

// bodyAllowed mirrors net/http: 1xx, 204 and 304 responses carry no body.
func bodyAllowed(status int) bool {
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}

func jsonOutbound(status int, v any) *Outbound {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"code":-1,"message":"internal error"}`)
		status = http.StatusInternalServerError
	}
	return &Outbound{Status: status, ContentType: jsonContentType, Body: body}
}
