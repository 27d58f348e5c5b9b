package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/fundgate/internal/metrics"
	"go.uber.org/zap"
)

var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	ProxyPrefixes []string
	// RateLimiter guards /api/auth; nil disables limiting.
	RateLimiter *IPRateLimiter
	// TrustedProxies may set X-Forwarded-For; nil trusts none.
	TrustedProxies []string
	MetricsPath    string
	Logger         *zap.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(handlers *BridgeHandlers, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("Invalid trusted proxies", zap.Strings("proxies", cfg.TrustedProxies), zap.Error(err))
	}
	router.Use(gin.Recovery(), RequestID(), AccessLog(logger))

	router.GET("/healthz", handlers.Health)
	if cfg.MetricsPath != "" {
		router.GET(cfg.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(NoStore())

	// Auth routes
	auth := api.Group("/auth")
	if cfg.RateLimiter != nil {
		auth.Use(RateLimit(cfg.RateLimiter))
	}
	{
		auth.POST("/nonce", handlers.Nonce)
		auth.POST("/login", handlers.Login)
		auth.POST("/logout", handlers.Logout)
		auth.GET("/session", handlers.Session)
	}

	// Upstream pass-through routes
	for _, prefix := range cfg.ProxyPrefixes {
		proxy := handlers.Proxy(prefix)
		for _, method := range proxyMethods {
			api.Handle(method, "/"+prefix, proxy)
			api.Handle(method, "/"+prefix+"/*path", proxy)
		}
	}

	return router
}
