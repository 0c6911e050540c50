// Package server exposes the accounting engine over a small HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oakline/wealthcore/internal/server/handler"
	"github.com/oakline/wealthcore/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Portfolios *handler.PortfolioHandler
}

// Server is the HTTP API server for the accounting engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (auth, request logging) applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Portfolio lifecycle.
	mux.HandleFunc("POST /api/portfolios", handlers.Portfolios.CreatePortfolio)
	mux.HandleFunc("GET /api/portfolios", handlers.Portfolios.ListPortfolios)
	mux.HandleFunc("GET /api/portfolios/{id}", handlers.Portfolios.GetPortfolio)
	mux.HandleFunc("POST /api/portfolios/{id}/archive", handlers.Portfolios.ArchivePortfolio)

	// Accounting operations.
	mux.HandleFunc("POST /api/portfolios/{id}/buy", handlers.Portfolios.Buy)
	mux.HandleFunc("POST /api/portfolios/{id}/sell", handlers.Portfolios.Sell)
	mux.HandleFunc("POST /api/portfolios/{id}/dividend", handlers.Portfolios.Dividend)
	mux.HandleFunc("POST /api/portfolios/{id}/fee", handlers.Portfolios.Fee)

	// Valuation and journal.
	mux.HandleFunc("GET /api/portfolios/{id}/valuation", handlers.Portfolios.GetValuation)
	mux.HandleFunc("GET /api/portfolios/{id}/transactions", handlers.Portfolios.ListTransactions)
	mux.HandleFunc("POST /api/portfolios/{id}/prices", handlers.Portfolios.UpdatePrices)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
