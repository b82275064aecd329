// Package server exposes the settlement ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/alanyoungcy/privymarket/internal/crypto"
	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/server/handler"
	"github.com/alanyoungcy/privymarket/internal/server/middleware"
	"github.com/alanyoungcy/privymarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// MaxSkew bounds how far a signed request's timestamp may be from now.
	MaxSkew time.Duration
	// RateLimit is the number of requests per RateWindow per client IP.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
	// FaucetEnabled registers POST /api/faucet.
	FaucetEnabled bool
	FaucetMax     uint64
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Settlement handler.Settlement
	Hub        *ws.Hub
	Limiter    domain.RateLimiter
	Checks     map[string]handler.Check
	Now        func() time.Time
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, logging, rate limit, then signature identity.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewHandler(cfg, deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	health := handler.NewHealthHandler(deps.Checks, deps.Now, logger)
	registry := handler.NewRegistryHandler(deps.Settlement, logger)
	markets := handler.NewMarketHandler(deps.Settlement, logger)
	accounts := handler.NewAccountHandler(deps.Settlement, cfg.FaucetMax, logger)

	mux.HandleFunc("GET /api/health", health.HealthCheck)

	mux.HandleFunc("POST /api/registry", registry.Initialize)
	mux.HandleFunc("GET /api/registry", registry.Get)

	mux.HandleFunc("GET /api/markets", markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/bets", markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/claims", markets.ClaimWinnings)
	mux.HandleFunc("POST /api/markets/{id}/finalize", markets.FinalizeMarket)
	mux.HandleFunc("GET /api/markets/{id}/positions/{user}", markets.GetPosition)
	mux.HandleFunc("GET /api/markets/{id}/history", markets.GetHistory)

	mux.HandleFunc("GET /api/accounts/{owner}", accounts.GetAccount)
	if cfg.FaucetEnabled {
		mux.HandleFunc("POST /api/faucet", accounts.Fund)
	}

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Identity(cfg.MaxSkew, deps.Now)(h)
	if cfg.RateLimit > 0 && deps.Limiter != nil {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			crypto.HeaderAddress,
			crypto.HeaderTimestamp,
			crypto.HeaderSignature,
			middleware.RequestIDHeader,
		},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         86400,
	}).Handler(h)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
