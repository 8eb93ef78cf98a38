// Package httpapi exposes the ledger over a JSON API: stdlib ServeMux
// with method+pattern routes, bearer-token auth, and a short-TTL cache
// in front of the dashboard reads.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/auth"
	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
)

type Server struct {
	http.Server

	ledger *ledger.Service
	auth   *auth.Authenticator

	rateLimiter *rateLimiter
	metrics     *securityMetrics

	summaryCache   *cache.Cache[core.PeriodSummary]
	liquidityCache *cache.Cache[[]core.LiquidityEntry]
	cacheManager   *cache.Manager

	shutdownOnce sync.Once
}

// Options carries the HTTP-layer knobs; everything else reaches the
// server through the ledger service and the authenticator.
type Options struct {
	Addr      string
	CacheSize int
	CacheTTL  time.Duration
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, svc *ledger.Service, authn *auth.Authenticator) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ledger:         svc,
		auth:           authn,
		rateLimiter:    newRateLimiter(),
		metrics:        &securityMetrics{},
		summaryCache:   cache.New[core.PeriodSummary](opts.CacheSize, opts.CacheTTL),
		liquidityCache: cache.New[[]core.LiquidityEntry](opts.CacheSize, opts.CacheTTL),
		cacheManager:   cache.NewManager(),
	}

	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.Register(s.liquidityCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.withCommon(s.handleReady))

	mux.HandleFunc("POST /api/v1/auth/login", s.withCommon(s.handleLogin))
	mux.HandleFunc("GET /api/v1/auth/me", s.authed(s.handleMe))

	mux.HandleFunc("GET /api/v1/incomes", s.authed(s.handleListIncomes))
	mux.HandleFunc("POST /api/v1/incomes", s.authed(s.handleAddIncome))
	mux.HandleFunc("PUT /api/v1/incomes/{id}", s.authed(s.handleUpdateIncome))
	mux.HandleFunc("DELETE /api/v1/incomes/{id}", s.authed(s.handleDeleteIncome))

	mux.HandleFunc("GET /api/v1/allocations", s.authed(s.handleListAllocations))
	mux.HandleFunc("POST /api/v1/allocations", s.authed(s.handleAddAllocation))
	mux.HandleFunc("PUT /api/v1/allocations/{id}", s.authed(s.handleUpdateAllocation))
	mux.HandleFunc("DELETE /api/v1/allocations/{id}", s.authed(s.handleDeleteAllocation))

	mux.HandleFunc("GET /api/v1/expenses", s.authed(s.handleListExpenses))
	mux.HandleFunc("POST /api/v1/expenses", s.authed(s.handleAddExpense))
	mux.HandleFunc("PUT /api/v1/expenses/{id}", s.authed(s.handleUpdateExpense))
	mux.HandleFunc("DELETE /api/v1/expenses/{id}", s.authed(s.handleDeleteExpense))

	mux.HandleFunc("POST /api/v1/periods/copy", s.authed(s.handleCopyPeriod))

	mux.HandleFunc("GET /api/v1/summary", s.authed(s.handleSummary))
	mux.HandleFunc("GET /api/v1/liquidity", s.authed(s.handleLiquidity))
	mux.HandleFunc("GET /api/v1/categories", s.authed(s.handleCategories))
	mux.HandleFunc("GET /api/v1/export/xlsx", s.authed(s.handleExportXLSX))

	mux.HandleFunc("POST /api/v1/households", s.authed(s.handleCreateHousehold))
	mux.HandleFunc("GET /api/v1/households/members", s.authed(s.handleListMembers))
	mux.HandleFunc("POST /api/v1/users", s.authed(s.handleCreateUser))
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.authed(s.handleDeleteUser))

	return s
}

// Shutdown stops the HTTP server and the background cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady answers only when storage does.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
