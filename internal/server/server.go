package server

import (
	"context"
	"net/http"

	"checkout-ledger/internal/handler"
	custommw "checkout-ledger/internal/middleware"
	"checkout-ledger/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Users      service.UserService
	Ledger     *service.SubscriptionLedger
	Panel      *service.ServicePanel
	Reconciler *service.Reconciler
	Billing    *service.BillingWebhooks

	BotWebhookSecret string
	AdminToken       string
}

type Server struct {
	echo              *echo.Echo
	opts              Options
	webhookHandler    *handler.WebhookHandler
	submissionHandler *handler.SubmissionHandler
	adminHandler      *handler.AdminHandler
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil {
				event = log.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:              e,
		opts:              opts,
		webhookHandler:    handler.NewWebhookHandler(opts.Reconciler, opts.Billing),
		submissionHandler: handler.NewSubmissionHandler(opts.Ledger, opts.Panel),
		adminHandler:      handler.NewAdminHandler(opts.Reconciler, opts.Ledger, opts.Panel, opts.Users),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- webhooks --------
	webhooks := api.Group("/webhooks")
	webhooks.POST("/bot", s.webhookHandler.CheckoutWebhook, custommw.SharedSecret(custommw.HeaderWebhookSecret, s.opts.BotWebhookSecret))
	webhooks.POST("/stripe", s.webhookHandler.StripeWebhook)

	// -------- user --------
	userAuth := custommw.UserAuth(s.opts.Users)
	api.GET("/services", s.submissionHandler.ListServices, userAuth)
	api.GET("/submissions", s.submissionHandler.ListSubmissions, userAuth)
	api.POST("/submissions", s.submissionHandler.CreateSubmission, userAuth)
	api.PUT("/submissions/:id", s.submissionHandler.UpdateSubmission, userAuth)
	api.DELETE("/submissions/:id", s.submissionHandler.DeleteSubmission, userAuth)
	api.PUT("/submissions/:id/toggle-bot", s.submissionHandler.ToggleBot, userAuth)

	// -------- admin --------
	admin := api.Group("/admin", custommw.AdminAuth(s.opts.AdminToken))
	admin.GET("/orders", s.adminHandler.ListOrders)
	admin.POST("/orders/:id/approve", s.adminHandler.ApproveOrder)
	admin.PUT("/orders/:id/link", s.adminHandler.LinkOrder)
	admin.GET("/services/:name/submissions", s.adminHandler.ListServiceSubmissions)
	admin.PUT("/services", s.adminHandler.UpsertService)
	admin.DELETE("/users/:id", s.adminHandler.DeleteUser)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
