package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/layer-3/fundgate/adapters/cookie"
	"github.com/layer-3/fundgate/adapters/store"
	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUpstream struct {
	mock.Mock
}

func (m *mockUpstream) Do(ctx context.Context, req *ports.UpstreamRequest) (*ports.UpstreamResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*ports.UpstreamResponse)
	return resp, args.Error(1)
}

type recordingPublisher struct {
	events []ports.SessionEvent
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, event ports.SessionEvent) error {
	p.events = append(p.events, event)
	return nil
}

func newTestBridge(up *mockUpstream) (*Bridge, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewBridge(up, cookie.NewPlainCodec(), store.NewMemoryStore(), pub, nil, Config{ReplayGuard: true}), pub
}

func upstreamJSON(status int, body string) *ports.UpstreamResponse {
	return &ports.UpstreamResponse{StatusCode: status, ContentType: "application/json", Body: []byte(body)}
}

func decode(t *testing.T, out *Outbound) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &v))
	return v
}

func TestProxy_ForwardsHeaderSubsetAndBearer(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)

	up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
		return req.Method == http.MethodPost &&
			req.Path == "/market/funds/1/transactions" &&
			req.RawQuery == "page=2" &&
			req.Header.Get("Authorization") == "Bearer tok-1" &&
			req.Header.Get("Content-Type") == "application/json" &&
			req.Header.Get("Accept") == "application/json" &&
			len(req.Header) == 3 &&
			string(req.Body) == `{"raw":true}`
	})).Return(&ports.UpstreamResponse{StatusCode: 418, ContentType: "text/plain", Body: []byte("teapot")}, nil).Once()

	out, err := b.Proxy(context.Background(), Inbound{
		Method:      http.MethodPost,
		RawQuery:    "page=2",
		ContentType: "application/json",
		Accept:      "application/json",
		Cookie:      "tok-1",
		Body:        []byte(`{"raw":true}`),
	}, "proxy.market", "/market/funds/1/transactions")
	require.NoError(t, err)

	assert.Equal(t, 418, out.Status)
	assert.Equal(t, "text/plain", out.ContentType)
	assert.Equal(t, "teapot", string(out.Body))
	assert.Equal(t, CookieKeep, out.Cookie)
	up.AssertExpectations(t)
}

func TestProxy_GetDropsBodyAndAnonymous(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)

	up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
		return req.Body == nil && req.Header.Get("Authorization") == "" && len(req.Header) == 0
	})).Return(upstreamJSON(200, `{}`), nil).Once()

	_, err := b.Proxy(context.Background(), Inbound{Method: http.MethodGet, Body: []byte("ignored")}, "proxy.market", "/market/funds")
	require.NoError(t, err)
	up.AssertExpectations(t)
}

func TestProxy_TransportFailurePropagates(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	upErr := &core.UpstreamError{Op: "GET /x", Err: core.ErrUpstreamUnreachable}
	up.On("Do", mock.Anything, mock.Anything).Return(nil, upErr)

	_, err := b.Proxy(context.Background(), Inbound{Method: http.MethodGet}, "proxy.x", "/x")
	require.ErrorIs(t, err, core.ErrUpstreamUnreachable)

	out := FailureFor(err)
	assert.Equal(t, http.StatusBadGateway, out.Status)
	assert.JSONEq(t, `{"code":-1,"message":"Upstream unreachable"}`, string(out.Body))

	out = FailureFor(&core.UpstreamError{Op: "GET /x", Err: core.ErrUpstreamTimeout})
	assert.Equal(t, http.StatusGatewayTimeout, out.Status)
}

func TestNonce_PassThrough(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	body := `{"code":0,"message":"success","data":{"nonce":"abcdef123456"}}`
	up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
		return req.Path == "/auth/nonce" && req.Method == http.MethodPost
	})).Return(upstreamJSON(200, body), nil).Once()

	out, err := b.Nonce(context.Background(), Inbound{Method: http.MethodPost, ContentType: "application/json", Body: []byte(`{"address":"0xabc"}`)})
	require.NoError(t, err)
	assert.Equal(t, body, string(out.Body))
}

func TestLogin_ValidResponseSetsCookieAndHidesToken(t *testing.T) {
	for _, role := range []string{"INVESTOR", "MANAGER"} {
		t.Run(role, func(t *testing.T) {
			up := &mockUpstream{}
			b, pub := newTestBridge(up)
			up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
				return req.Path == "/auth/login" &&
					req.Header.Get("Content-Type") == "application/json" &&
					req.Header.Get("Authorization") == "" &&
					string(req.Body) == `{"message":"m","signature":"s"}`
			})).Return(upstreamJSON(200, `{"code":0,"message":"ok","data":{"token":"secret-token","user":{"address":"0xAbC","role":"`+role+`","createdAt":"2024-01-01"}}}`), nil)

			out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{"message":"m","signature":"s"}`)})
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, out.Status)
			assert.Equal(t, CookieSet, out.Cookie)
			assert.Equal(t, "secret-token", out.CookieValue)
			assert.NotContains(t, string(out.Body), "secret-token")
			assert.NotContains(t, string(out.Body), `"token"`)

			v := decode(t, out)
			assert.Equal(t, "ok", v["message"])
			user := v["data"].(map[string]any)["user"].(map[string]any)
			assert.Equal(t, "0xAbC", user["address"])
			assert.Equal(t, role, user["role"])
			assert.Equal(t, "2024-01-01", user["createdAt"])

			require.Len(t, pub.events, 1)
			assert.Equal(t, ports.EventLogin, pub.events[0].Type)
			assert.Equal(t, "0xabc", pub.events[0].Address)
		})
	}
}

func TestLogin_DefaultsCodeAndMessage(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	up.On("Do", mock.Anything, mock.Anything).
		Return(upstreamJSON(201, `{"data":{"token":"t","user":{"address":"0xabc","role":"MANAGER"}}}`), nil)

	out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 201, out.Status)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"user":{"address":"0xabc","role":"MANAGER"}}}`, string(out.Body))
}

func TestLogin_InvalidUpstreamPayloads(t *testing.T) {
	payloads := map[string]string{
		"not json":          `<html>ok</html>`,
		"null":              `null`,
		"no data":           `{"code":0}`,
		"missing token":     `{"data":{"user":{"address":"0xabc","role":"INVESTOR"}}}`,
		"empty token":       `{"data":{"token":"","user":{"address":"0xabc","role":"INVESTOR"}}}`,
		"missing user":      `{"data":{"token":"t"}}`,
		"null user":         `{"data":{"token":"t","user":null}}`,
		"missing address":   `{"data":{"token":"t","user":{"role":"INVESTOR"}}}`,
		"empty address":     `{"data":{"token":"t","user":{"address":"","role":"INVESTOR"}}}`,
		"missing role":      `{"data":{"token":"t","user":{"address":"0xabc"}}}`,
		"lower-case role":   `{"data":{"token":"t","user":{"address":"0xabc","role":"investor"}}}`,
		"unknown role":      `{"data":{"token":"t","user":{"address":"0xabc","role":"ADMIN"}}}`,
		"token wrong type":  `{"data":{"token":42,"user":{"address":"0xabc","role":"INVESTOR"}}}`,
		"user wrong type":   `{"data":{"token":"t","user":"0xabc"}}`,
		"address number":     `{"data":{"token":"t","user":{"address":7,"role":"INVESTOR"}}}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			up := &mockUpstream{}
			b, pub := newTestBridge(up)
			up.On("Do", mock.Anything, mock.Anything).Return(upstreamJSON(200, payload), nil)

			out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{}`)})
			require.NoError(t, err)

			assert.Equal(t, http.StatusBadGateway, out.Status)
			assert.JSONEq(t, `{"code":-1,"message":"Invalid upstream login response"}`, string(out.Body))
			assert.Equal(t, CookieKeep, out.Cookie)
			assert.Empty(t, out.CookieValue)
			assert.Empty(t, pub.events)
		})
	}
}

func TestLogin_NonSuccessRelayed(t *testing.T) {
	t.Run("json payload", func(t *testing.T) {
		up := &mockUpstream{}
		b, _ := newTestBridge(up)
		up.On("Do", mock.Anything, mock.Anything).Return(upstreamJSON(401, `{"code":40101,"message":"bad signature"}`), nil)

		out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, 401, out.Status)
		assert.Equal(t, "application/json", out.ContentType)
		assert.JSONEq(t, `{"code":40101,"message":"bad signature"}`, string(out.Body))
		assert.Equal(t, CookieKeep, out.Cookie)
	})

	t.Run("raw text", func(t *testing.T) {
		up := &mockUpstream{}
		b, _ := newTestBridge(up)
		up.On("Do", mock.Anything, mock.Anything).Return(&ports.UpstreamResponse{StatusCode: 503, ContentType: "text/html", Body: []byte("<h1>down</h1>")}, nil)

		out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, 503, out.Status)
		assert.Equal(t, "text/html", out.ContentType)
		assert.Equal(t, "<h1>down</h1>", string(out.Body))
	})

	t.Run("raw text without content type", func(t *testing.T) {
		up := &mockUpstream{}
		b, _ := newTestBridge(up)
		up.On("Do", mock.Anything, mock.Anything).Return(&ports.UpstreamResponse{StatusCode: 500, Body: []byte("oops")}, nil)

		out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, "application/json; charset=utf-8", out.ContentType)
	})

	for _, body := range []string{`0`, `false`, `""`} {
		t.Run("falsy json "+body, func(t *testing.T) {
			up := &mockUpstream{}
			b, _ := newTestBridge(up)
			up.On("Do", mock.Anything, mock.Anything).Return(&ports.UpstreamResponse{StatusCode: 400, ContentType: "text/plain", Body: []byte(body)}, nil)

			out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: []byte(`{}`)})
			require.NoError(t, err)
			assert.Equal(t, 400, out.Status)
			assert.Equal(t, "text/plain", out.ContentType)
			assert.Equal(t, body, string(out.Body))
		})
	}
}

func siweLoginBody(t *testing.T, nonce string) []byte {
	t.Helper()
	msg := core.SIWEMessage{
		Domain:   "app.example.com",
		Address:  "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		URI:      "https://app.example.com",
		ChainID:  137,
		Nonce:    nonce,
		IssuedAt: time.Now(),
	}
	body, err := json.Marshal(map[string]string{"message": msg.String(), "signature": "0xsig"})
	require.NoError(t, err)
	return body
}

func TestLogin_ReplayedNonceRejectedLocally(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	up.On("Do", mock.Anything, mock.Anything).
		Return(upstreamJSON(200, `{"data":{"token":"t","user":{"address":"0xabc","role":"INVESTOR"}}}`), nil).Once()

	body := siweLoginBody(t, "nonce0123456789")

	out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: body})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)

	out, err = b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: body})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, out.Status)
	assert.JSONEq(t, `{"code":-1,"message":"Nonce already used"}`, string(out.Body))

	up.AssertNumberOfCalls(t, "Do", 1)
}

type failingLedger struct{}

func (failingLedger) Consume(context.Context, string, time.Duration) error {
	return errors.New("redis down")
}

func TestLogin_LedgerOutageDoesNotBlock(t *testing.T) {
	up := &mockUpstream{}
	b := NewBridge(up, cookie.NewPlainCodec(), failingLedger{}, nil, nil, Config{ReplayGuard: true})
	up.On("Do", mock.Anything, mock.Anything).
		Return(upstreamJSON(200, `{"data":{"token":"t","user":{"address":"0xabc","role":"INVESTOR"}}}`), nil)

	out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, Body: siweLoginBody(t, "nonce0123456789")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
}

func TestLogin_MalformedBodyForwardedAsIs(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
		return string(req.Body) == "{not json" && req.Header.Get("Content-Type") == "text/plain"
	})).Return(upstreamJSON(400, `{"code":400,"message":"bad request"}`), nil).Twice()

	for i := 0; i < 2; i++ {
		out, err := b.Login(context.Background(), Inbound{Method: http.MethodPost, ContentType: "text/plain", Body: []byte("{not json")})
		require.NoError(t, err)
		assert.Equal(t, 400, out.Status)
	}
	up.AssertExpectations(t)
}

func TestLogout_AlwaysClearsCookie(t *testing.T) {
	tests := []struct {
		name       string
		resp       *ports.UpstreamResponse
		err        error
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "json success",
			resp:       upstreamJSON(200, `{"code":0,"message":"bye","data":{}}`),
			cookie:     "tok",
			wantStatus: 200,
			wantBody:   `{"code":0,"message":"bye","data":{}}`,
		},
		{
			name:       "empty no content",
			resp:       &ports.UpstreamResponse{StatusCode: 204},
			cookie:     "tok",
			wantStatus: 200,
			wantBody:   `{"code":0,"message":"success","data":{}}`,
		},
		{
			name:       "unparseable success",
			resp:       &ports.UpstreamResponse{StatusCode: 202, Body: []byte("ok")},
			cookie:     "tok",
			wantStatus: 202,
			wantBody:   `{"code":0,"message":"success","data":{}}`,
		},
		{
			name:       "unparseable failure",
			resp:       &ports.UpstreamResponse{StatusCode: 500, Body: []byte("boom")},
			cookie:     "tok",
			wantStatus: 500,
			wantBody:   `{"code":-1,"message":"logout failed","data":{}}`,
		},
		{
			name:       "json failure",
			resp:       upstreamJSON(401, `{"code":401,"message":"unauthorized"}`),
			wantStatus: 401,
			wantBody:   `{"code":401,"message":"unauthorized"}`,
		},
		{
			name:       "no cookie",
			resp:       upstreamJSON(200, `{"code":0,"message":"success","data":{}}`),
			wantStatus: 200,
			wantBody:   `{"code":0,"message":"success","data":{}}`,
		},
		{
			name:       "unreachable",
			err:        &core.UpstreamError{Op: "POST /auth/logout", Err: core.ErrUpstreamUnreachable},
			cookie:     "tok",
			wantStatus: 502,
			wantBody:   `{"code":-1,"message":"Upstream unreachable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpstream{}
			b, _ := newTestBridge(up)
			wantAuth := ""
			if tt.cookie != "" {
				wantAuth = "Bearer " + tt.cookie
			}
			up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
				return req.Path == "/auth/logout" && req.Body == nil && req.Header.Get("Authorization") == wantAuth
			})).Return(tt.resp, tt.err).Once()

			out, err := b.Logout(context.Background(), Inbound{Method: http.MethodPost, Cookie: tt.cookie})
			require.NoError(t, err)

			assert.Equal(t, CookieClear, out.Cookie)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.JSONEq(t, tt.wantBody, string(out.Body))
			up.AssertExpectations(t)
		})
	}
}

func TestSessionStatus_NoCookieSkipsUpstream(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)

	out, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"authenticated":false}}`, string(out.Body))
	assert.Equal(t, CookieKeep, out.Cookie)
	up.AssertNotCalled(t, "Do", mock.Anything, mock.Anything)
}

func TestSessionStatus_UpstreamRejection(t *testing.T) {
	tests := []struct {
		status    int
		wantClear bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			up := &mockUpstream{}
			b, pub := newTestBridge(up)
			up.On("Do", mock.Anything, mock.MatchedBy(func(req *ports.UpstreamRequest) bool {
				return req.Method == http.MethodGet &&
					req.Path == "/user/profile" &&
					req.Header.Get("Authorization") == "Bearer tok" &&
					req.Header.Get("Accept") == "application/json"
			})).Return(upstreamJSON(tt.status, `{"code":1,"message":"nope"}`), nil)

			out, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet, Cookie: "tok"})
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, out.Status)
			assert.JSONEq(t, `{"code":0,"message":"success","data":{"authenticated":false}}`, string(out.Body))
			if tt.wantClear {
				assert.Equal(t, CookieClear, out.Cookie)
				require.Len(t, pub.events, 1)
				assert.Equal(t, ports.EventInvalidated, pub.events[0].Type)
			} else {
				assert.Equal(t, CookieKeep, out.Cookie)
				assert.Empty(t, pub.events)
			}
		})
	}
}

func TestSessionStatus_Authenticated(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	up.On("Do", mock.Anything, mock.Anything).
		Return(upstreamJSON(200, `{"code":0,"message":"success","data":{"address":"0xabc","role":"MANAGER","createdAt":"x"}}`), nil)

	out, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet, Cookie: "tok"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"authenticated":true,"address":"0xabc","role":"MANAGER"}}`, string(out.Body))
	assert.Equal(t, CookieKeep, out.Cookie)
}

func TestSessionStatus_RoleOptional(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	up.On("Do", mock.Anything, mock.Anything).Return(upstreamJSON(200, `{"data":{"address":"0xabc"}}`), nil)

	out, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet, Cookie: "tok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"authenticated":true,"address":"0xabc"}}`, string(out.Body))
}

func TestSessionStatus_InvalidProfile(t *testing.T) {
	payloads := []string{
		`not json`,
		`{"data":{}}`,
		`{"data":{"address":""}}`,
		`{"data":{"address":"0xabc","role":"ADMIN"}}`,
		`{"data":{"address":"0xabc","role":null}}`,
		`{"data":null}`,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			up := &mockUpstream{}
			b, _ := newTestBridge(up)
			up.On("Do", mock.Anything, mock.Anything).Return(upstreamJSON(200, payload), nil)

			out, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet, Cookie: "tok"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadGateway, out.Status)
			assert.JSONEq(t, `{"code":-1,"message":"Invalid upstream session response"}`, string(out.Body))
			assert.Equal(t, CookieKeep, out.Cookie)
		})
	}
}

func TestSessionStatus_TamperedSignedCookie(t *testing.T) {
	up := &mockUpstream{}
	codec, err := cookie.NewJWTCodec([]byte(strings.Repeat("s", 32)), time.Hour)
	require.NoError(t, err)
	b := NewBridge(up, codec, nil, nil, nil, Config{})

	out, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet, Cookie: "forged"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, CookieClear, out.Cookie)
	up.AssertNotCalled(t, "Do", mock.Anything, mock.Anything)
}

func TestSessionStatus_TransportFailure(t *testing.T) {
	up := &mockUpstream{}
	b, _ := newTestBridge(up)
	up.On("Do", mock.Anything, mock.Anything).Return(nil, &core.UpstreamError{Op: "GET /user/profile", Err: core.ErrUpstreamTimeout})

	_, err := b.SessionStatus(context.Background(), Inbound{Method: http.MethodGet, Cookie: "tok"})
	require.ErrorIs(t, err, core.ErrUpstreamTimeout)
}
