package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/99minutos/storefront-gateway/internal/api/handler"
	"github.com/99minutos/storefront-gateway/internal/api/middleware"
	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/cookiestore"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/upstream"
)

// Dependencies is everything the router wires into handlers.
type Dependencies struct {
	Log      zerolog.Logger
	Sessions handler.SessionManager
	Renewer  handler.Renewer
	Monitor  handler.SessionMonitor
	Upstream *upstream.Client
	Jar      *cookiestore.Jar

	// Optional; reported as disabled by the readiness probe when nil.
	Mongo *mongo.Database
	Redis *redis.Client
	// MetricsRegisterer receives the HTTP metrics. Defaults to the global registry.
	MetricsRegisterer prometheus.Registerer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(RequestLogger(deps.Log))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "storefront",
		Registerer: deps.MetricsRegisterer,
	}))

	// --- Per-domain session routes ---
	for _, d := range []domain.Domain{domain.Vendor, domain.Admin} {
		policy := d.Policy()

		authHandler := handler.NewAuthHandler(d, deps.Sessions, deps.Jar)
		auth := e.Group(policy.APIPrefix)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/session", authHandler.Session)

		proxyHandler := handler.NewProxyHandler(d, deps.Upstream, deps.Renewer, deps.Monitor, deps.Log)
		proxied := e.Group(policy.RoutePrefix+"/api", middleware.RequireSession(deps.Jar, d))
		proxied.Any("/*", proxyHandler.Forward)
	}

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Mongo, deps.Redis, deps.Upstream.BaseURL())

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?

	// --- Operations ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// RequestLogger logs one zerolog line per request.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
