package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"brenda-cereals/internal/config"
	"brenda-cereals/internal/delivery"
	"brenda-cereals/internal/handler"
	"brenda-cereals/internal/middleware"
	"brenda-cereals/internal/service"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

type Services struct {
	Auth    service.AuthService
	Catalog service.CatalogService
	Order   service.OrderService
	Payment service.PaymentService
	Admin   service.AdminService
}

type Server struct {
	echo              *echo.Echo
	cfg               *config.Config
	authService       service.AuthService
	userHandler       *handler.UserHandler
	productHandler    *handler.ProductHandler
	storefrontHandler *handler.StorefrontHandler
	orderHandler      *handler.OrderHandler
	paymentHandler    *handler.PaymentHandler
	adminHandler      *handler.AdminHandler
}

func NewServer(cfg *config.Config, services Services, zones *delivery.Zones, log *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)

	e.Use(requestLogger(log))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{cfg.BaseURL},
		AllowCredentials: true,
	}))

	s := &Server{
		echo:              e,
		cfg:               cfg,
		authService:       services.Auth,
		userHandler:       handler.NewUserHandler(services.Auth, cfg.Auth.CookieSecure),
		productHandler:    handler.NewProductHandler(services.Catalog),
		storefrontHandler: handler.NewStorefrontHandler(zones),
		orderHandler:      handler.NewOrderHandler(services.Order),
		paymentHandler:    handler.NewPaymentHandler(services.Payment),
		adminHandler:      handler.NewAdminHandler(services.Admin),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	requireUser := middleware.AuthMiddleware(s.authService)
	requireAdmin := []echo.MiddlewareFunc{requireUser, middleware.RequireAdmin()}
	limitPayments := paymentRateLimiter(s.cfg.RateLimit)

	// -------- auth / account --------
	auth := api.Group("/auth")
	auth.POST("/signup", s.userHandler.Signup)
	auth.POST("/login", s.userHandler.Login)
	auth.POST("/logout", s.userHandler.Logout)

	api.GET("/user/profile", s.userHandler.Profile, requireUser)
	api.PUT("/user/profile", s.userHandler.UpdateProfile, requireUser)
	api.GET("/account/orders", s.orderHandler.ListMine, requireUser)

	// -------- catalog / storefront --------
	api.GET("/products", s.productHandler.List)
	api.GET("/products/:id", s.productHandler.Get)
	api.POST("/products", s.productHandler.Create, requireAdmin...)
	api.PUT("/products/:id", s.productHandler.Update, requireAdmin...)

	api.GET("/delivery/zones", s.storefrontHandler.Zones)
	api.GET("/delivery/quote", s.storefrontHandler.Quote)
	api.POST("/cart", s.storefrontHandler.Cart)

	// -------- orders --------
	orders := api.Group("/orders", requireUser)
	orders.POST("/create", s.orderHandler.Create)
	orders.GET("/:orderId", s.orderHandler.Get)

	// -------- payments --------
	payments := api.Group("/payments")
	payments.POST("/mpesa/initiate", s.paymentHandler.InitiateMpesa, requireUser, limitPayments)
	payments.POST("/paybill/initiate", s.paymentHandler.InitiatePaybill, requireUser, limitPayments)
	payments.POST("/paybill/confirm", s.paymentHandler.ConfirmPaybill, requireUser, limitPayments)
	payments.POST("/bitcoin/initiate", s.paymentHandler.InitiateBitcoin, requireUser, limitPayments)
	payments.GET("/status/:orderId", s.paymentHandler.Status, requireUser)

	// -------- payment webhooks / callbacks --------
	payments.POST("/mpesa/callback", s.paymentHandler.MpesaCallback)

	// -------- admin --------
	admin := api.Group("/admin", requireAdmin...)
	admin.GET("/orders", s.adminHandler.ListOrders)
	admin.PATCH("/orders", s.adminHandler.UpdateOrders)
	admin.GET("/dashboard", s.adminHandler.Dashboard)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			log.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}

func paymentRateLimiter(cfg config.RateLimit) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.PaymentsPerSecond),
		Burst:     cfg.Burst,
		ExpiresIn: 3 * time.Minute,
	})
	return echomw.RateLimiter(store)
}
