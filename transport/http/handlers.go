package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/service"
	"go.uber.org/zap"
)

// CookieOptions describes how the session cookie is written
type CookieOptions struct {
	Name   string
	Secure bool
}

// BridgeHandlers adapts the session bridge to gin
type BridgeHandlers struct {
	bridge *service.Bridge
	cookie CookieOptions
	logger *zap.Logger
}

// NewBridgeHandlers creates new bridge handlers
func NewBridgeHandlers(bridge *service.Bridge, cookie CookieOptions, logger *zap.Logger) *BridgeHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BridgeHandlers{
		bridge: bridge,
		cookie: cookie,
		logger: logger,
	}
}

// Nonce handles POST /api/auth/nonce
func (h *BridgeHandlers) Nonce(c *gin.Context) {
	in, ok := h.inbound(c)
	if !ok {
		return
	}
	out, err := h.bridge.Nonce(c.Request.Context(), in)
	h.respond(c, out, err)
}

// Login handles POST /api/auth/login
func (h *BridgeHandlers) Login(c *gin.Context) {
	in, ok := h.inbound(c)
	if !ok {
		return
	}
	out, err := h.bridge.Login(c.Request.Context(), in)
	h.respond(c, out, err)
}

// Logout handles POST /api/auth/logout
func (h *BridgeHandlers) Logout(c *gin.Context) {
	in, ok := h.inbound(c)
	if !ok {
		return
	}
	out, err := h.bridge.Logout(c.Request.Context(), in)
	h.respond(c, out, err)
}

// Session handles GET /api/auth/session
func (h *BridgeHandlers) Session(c *gin.Context) {
	in, ok := h.inbound(c)
	if !ok {
		return
	}
	out, err := h.bridge.SessionStatus(c.Request.Context(), in)
	h.respond(c, out, err)
}

// Proxy returns a handler forwarding /api/<prefix>/*path to /<prefix>/<path>.
// The bare /api/<prefix> maps to /<prefix>.
func (h *BridgeHandlers) Proxy(prefix string) gin.HandlerFunc {
	route := "proxy." + prefix
	base := "/" + prefix
	return func(c *gin.Context) {
		in, ok := h.inbound(c)
		if !ok {
			return
		}
		out, err := h.bridge.Proxy(c.Request.Context(), in, route, base+proxyPath(c))
		h.respond(c, out, err)
	}
}

// proxyPath returns the still-escaped remainder of the request path below the
// matched proxy mount, so encoded separators reach the upstream untouched.
func proxyPath(c *gin.Context) string {
	param := c.Param("path")
	if param == "" || param == "/" {
		return ""
	}
	mount := strings.TrimSuffix(c.FullPath(), "/*path")
	if rest, ok := strings.CutPrefix(c.Request.URL.EscapedPath(), mount); ok && strings.HasPrefix(rest, "/") {
		return rest
	}
	return param
}

// Health reports liveness
func (h *BridgeHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *BridgeHandlers) inbound(c *gin.Context) (service.Inbound, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, core.Failure("Invalid request"))
		return service.Inbound{}, false
	}

	// a missing cookie and an empty one are the same thing
	value, _ := c.Cookie(h.cookie.Name)

	return service.Inbound{
		Method:      c.Request.Method,
		RawQuery:    c.Request.URL.RawQuery,
		ContentType: c.GetHeader("Content-Type"),
		Accept:      c.GetHeader("Accept"),
		Cookie:      value,
		Body:        body,
	}, true
}

func (h *BridgeHandlers) respond(c *gin.Context, out *service.Outbound, err error) {
	if err != nil {
		var upErr *core.UpstreamError
		if errors.As(err, &upErr) {
			h.logger.Warn("Upstream request failed",
				zap.String("op", upErr.Op),
				zap.String("request_id", c.GetString(requestIDKey)),
				zap.Error(upErr.Err))
		} else {
			h.logger.Error("Bridge request failed", zap.Error(err))
		}
		out = service.FailureFor(err)
	}

	switch out.Cookie {
	case service.CookieSet:
		h.setCookie(c, out.CookieValue, 0)
	case service.CookieClear:
		h.setCookie(c, "", -1)
	}

	if out.ContentType != "" {
		c.Data(out.Status, out.ContentType, out.Body)
		return
	}
	c.Status(out.Status)
	if len(out.Body) > 0 {
		_, _ = c.Writer.Write(out.Body)
	}
}

// setCookie writes the session cookie; maxAge -1 expires it immediately
func (h *BridgeHandlers) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, value, maxAge, "/", "", h.cookie.Secure, true)
}
