package api

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/api/handler"
	"github.com/localmart/marketplace-client/internal/api/middleware"
	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

// SessionStore is the session surface the API needs: the service operations
// plus the scope context dashboards are mounted under.
type SessionStore interface {
	ports.SessionService
	handler.ScopeContexter
}

// Dependencies are the stores and probes the companion API exposes.
type Dependencies struct {
	Sessions   SessionStore
	Cart       ports.CartService
	Checkout   ports.CheckoutService
	Dashboards ports.DashboardService
	Payouts    ports.PayoutService
	JWTSecret  string
	Checks     map[string]handler.DependencyCheck
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(log))

	sessionHandler := handler.NewSessionHandler(deps.Sessions)
	cartHandler := handler.NewCartHandler(deps.Cart)
	checkoutHandler := handler.NewCheckoutHandler(deps.Checkout)
	dashboardHandler := handler.NewDashboardHandler(deps.Dashboards, deps.Sessions)
	payoutHandler := handler.NewPayoutHandler(deps.Payouts)
	authMiddleware := middleware.Auth(deps.JWTSecret, deps.Sessions)

	// --- Auth routes ---
	e.POST("/auth/signin", sessionHandler.SignIn)
	e.POST("/auth/signup", sessionHandler.SignUp)
	e.POST("/auth/signout", sessionHandler.SignOut)

	// --- Session routes ---
	e.GET("/session", sessionHandler.Get)
	e.POST("/session/profile/refresh", sessionHandler.RefreshProfile, authMiddleware)

	// --- Cart routes (device-local, no auth) ---
	cart := e.Group("/cart")
	cart.GET("", cartHandler.Get)
	cart.DELETE("", cartHandler.Clear)
	cart.POST("/items", cartHandler.AddItem)
	cart.PATCH("/items/:lineId", cartHandler.UpdateQuantity)
	cart.PUT("/items/:lineId/customizations", cartHandler.UpdateCustomizations)
	cart.DELETE("/items/:lineId", cartHandler.RemoveItem)
	cart.POST("/promotion", cartHandler.ApplyPromotion)
	cart.DELETE("/promotion", cartHandler.RemovePromotion)

	// --- Authenticated routes ---
	e.POST("/checkout", checkoutHandler.PlaceOrder, authMiddleware)

	dashboard := e.Group("/dashboard", authMiddleware)
	dashboard.GET("/stats", dashboardHandler.Stats)
	dashboard.GET("/orders", dashboardHandler.Orders)

	e.POST("/payouts", payoutHandler.Request, authMiddleware, middleware.RBAC(domain.RoleBusinessOwner))

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Checks)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// requestLogger writes one structured line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
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
