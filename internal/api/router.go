package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/sirpyerre/duochat/docs"
	"github.com/sirpyerre/duochat/internal/api/handler"
	"github.com/sirpyerre/duochat/internal/api/metrics"
	"github.com/sirpyerre/duochat/internal/api/middleware"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

// RouterConfig carries everything the HTTP surface depends on.
type RouterConfig struct {
	Log zerolog.Logger

	Auth     ports.AuthService
	Messages ports.MessageService
	Verifier ports.SessionVerifier
	Live     handler.LiveAttacher

	// Readiness dependencies by name.
	Health map[string]handler.Pinger

	CORSOrigins        []string
	CookieSecure       bool
	TokenTTL           time.Duration
	AuthRateLimit      float64
	AllowAnonymousLive bool

	// Metrics registry; the process default when nil. The chat_* collectors
	// are added to a custom registerer by NewRouter.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(cfg.Log)

	registerer, gatherer := cfg.Registerer, cfg.Gatherer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := metrics.Register(registerer); err != nil {
		cfg.Log.Warn().Err(err).Msg("chat metrics not registered")
	}

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(cfg.Log))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: !allowsAnyOrigin(cfg.CORSOrigins),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "chat",
		Registerer: registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/socket"
		},
	}))

	// --- Dependencies ---
	authHandler := handler.NewAuthHandler(cfg.Auth, handler.CookieOptions{Secure: cfg.CookieSecure, MaxAge: cfg.TokenTTL})
	messageHandler := handler.NewMessageHandler(cfg.Messages)
	liveHandler := handler.NewLiveHandler(cfg.Verifier, cfg.Live, cfg.AllowAnonymousLive, cfg.Log)
	healthHandler := handler.NewHealthHandler(cfg.Health)
	requireAuth := middleware.Auth(cfg.Verifier)

	// --- Auth routes ---
	authGroup := e.Group("/api/auth")
	limiter := authRateLimiter(cfg.AuthRateLimit)
	authGroup.POST("/register", authHandler.Register, limiter)
	authGroup.POST("/login", authHandler.Login, limiter)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/me", authHandler.Me, requireAuth)

	// --- Message routes ---
	messages := e.Group("/api/message", requireAuth)
	messages.GET("/users", messageHandler.ListPartners)
	messages.GET("/:id", messageHandler.Conversation)
	messages.PUT("/send/:id", messageHandler.Send)
	messages.PATCH("/mark/:id", messageHandler.MarkSeen)

	// --- Live connection ---
	e.GET("/socket", liveHandler.Connect)

	// --- Health checks, metrics and docs (no auth required) ---
	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthHandler.Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// authRateLimiter throttles register and login per client IP. A
// non-positive limit disables it.
func authRateLimiter(perSecond float64) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		},
	})
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
