// Package server exposes the exchange over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/server/handler"
	"github.com/alanyoungcy/opinionbook/internal/server/middleware"
	"github.com/alanyoungcy/opinionbook/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards market creation, settlement and sweeps. Empty
	// disables those endpoints.
	AdminAPIKey string
	RateLimit   float64
	RateBurst   int
	// Limiter, when set, additionally rate limits across instances.
	Limiter domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Orders  *handler.OrderHandler
	Admin   *handler.AdminHandler
	// Weather, Events and Audit are optional.
	Weather *handler.WeatherHandler
	Events  *handler.EventsHandler
	Audit   *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the routed and middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.AdminAPIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/status", handlers.Markets.GetStatus)
	mux.HandleFunc("GET /api/markets/{id}/orderbook", handlers.Markets.GetOrderBook)
	mux.Handle("POST /api/markets", admin(http.HandlerFunc(handlers.Markets.CreateMarket)))

	// Orders.
	mux.HandleFunc("POST /api/markets/{id}/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/users/{id}/orders", handlers.Orders.ListUserOrders)
	mux.HandleFunc("GET /api/users/{id}/balance", handlers.Orders.GetBalance)

	// Operator.
	mux.Handle("POST /api/sweep", admin(http.HandlerFunc(handlers.Admin.Sweep)))
	mux.Handle("POST /api/markets/{id}/settle", admin(http.HandlerFunc(handlers.Admin.Settle)))

	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", admin(http.HandlerFunc(handlers.Audit.List)))
	}
	if handlers.Events != nil {
		mux.Handle("GET /api/events", admin(http.HandlerFunc(handlers.Events.Replay)))
	}
	if handlers.Weather != nil {
		mux.HandleFunc("GET /api/weather", handlers.Weather.GetCurrent)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if perMinute := int(cfg.RateLimit * 60); cfg.Limiter != nil && perMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, perMinute, time.Minute, logger)(h)
	}
	h = middleware.Throttle(cfg.RateLimit, cfg.RateBurst)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
