package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/db"
	"github.com/brojonat/homepass/service/metrics"
	"github.com/brojonat/homepass/service/shares"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// ReceiptLister lists stored action receipts. *db.Store satisfies it.
type ReceiptLister interface {
	ListReceipts(ctx context.Context, params db.ListReceiptsParams) ([]*db.Receipt, error)
}

// Server represents the HTTP server for the share service.
type Server struct {
	addr     string
	tracker  *shares.Tracker
	executor *shares.Executor
	resolver *catalog.Resolver
	signer   solanapkg.Signer
	receipts ReceiptLister
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, tracker *shares.Tracker, executor *shares.Executor, resolver *catalog.Resolver, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		tracker:  tracker,
		executor: executor,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}
}

// WithSigner sets the identity actions are signed with. Without one, every
// action is rejected as not connected.
func (s *Server) WithSigner(signer solanapkg.Signer) *Server {
	s.signer = signer
	return s
}

// WithReceipts enables the receipts endpoint.
func (s *Server) WithReceipts(r ReceiptLister) *Server {
	s.receipts = r
	return s
}

// Owner returns the connected identity's public key, or nil.
func (s *Server) Owner() *solana.PublicKey {
	if s.signer == nil {
		return nil
	}
	pk := s.signer.PublicKey()
	return &pk
}

// Handler builds the routed handler, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/v1/properties", "list_properties", handleListProperties(s.tracker, s.logger))
	s.route(mux, "GET /api/v1/properties/{id}", "get_property", handleGetProperty(s.tracker, s.logger))
	s.route(mux, "GET /api/v1/holdings", "holdings", handleHoldings(s.tracker, s.logger))
	s.route(mux, "POST /api/v1/refresh", "refresh", handleRefresh(s.tracker, s.Owner, s.logger))

	s.route(mux, "POST /api/v1/properties/{id}/buy", "buy_shares", handleBuyShares(s.executor, s.signer, s.logger))
	s.route(mux, "POST /api/v1/properties/{id}/deposit", "deposit_yield", handleDepositYield(s.executor, s.signer, s.logger))
	s.route(mux, "POST /api/v1/properties/{id}/claim", "claim", handleClaim(s.executor, s.signer, s.logger))

	s.route(mux, "GET /api/v1/resolve/{listing}", "resolve_listing", handleResolveListing(s.resolver, s.logger))

	if s.receipts != nil {
		s.route(mux, "GET /api/v1/receipts", "list_receipts", handleListReceipts(s.receipts, s.logger))
		s.logger.Info("receipt endpoints enabled")
	} else {
		s.logger.Warn("receipt store not configured, receipt endpoints disabled")
	}

	s.route(mux, "GET /health", "health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// route registers h under pattern, recording request metrics as name.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Actions wait for confirmation.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "signer", s.Owner())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
