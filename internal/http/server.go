// Package http exposes the credit ledger over a JSON API: commands via
// POST /api/credits, balance and roster reads via GET /api/credits.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinsvarc/creditmanagement/internal/cache"
	"github.com/martinsvarc/creditmanagement/internal/command"
	"github.com/martinsvarc/creditmanagement/internal/core"
	"github.com/martinsvarc/creditmanagement/internal/ledger"
	applog "github.com/martinsvarc/creditmanagement/internal/log"
)

// Pinger reports whether the backing store is reachable. Satisfied by
// *storage.LedgerRepository.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	dispatcher  *command.Dispatcher
	queries     *ledger.Queries
	store       Pinger
	rateLimiter *rateLimiter
	logger      *applog.Logger

	// Read caches, keyed per team and invalidated on every successful
	// command for that team.
	rosterCache  *cache.LRUCache[[]core.RosterEntry]
	balanceCache *cache.LRUCache[int64]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and caches, returning a ready-to-run server.
func NewServer(addr string, dispatcher *command.Dispatcher, queries *ledger.Queries, store Pinger, cacheTTL time.Duration, logger *applog.Logger) *Server {
	mux := http.NewServeMux()

	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		dispatcher:   dispatcher,
		queries:      queries,
		store:        store,
		rateLimiter:  newRateLimiter(commandRateLimit),
		logger:       logger.WithComponent(applog.ComponentHTTP),
		rosterCache:  cache.NewLRUCache[[]core.RosterEntry](100, cacheTTL),
		balanceCache: cache.NewLRUCache[int64](500, cacheTTL),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.rosterCache)
	s.cacheManager.Register(s.balanceCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/api/credits", s.withRequestScope(s.handleCredits))
	mux.HandleFunc("/api/credits/transactions", s.withRequestScope(s.handleTransactions))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	return s
}

// Shutdown stops the HTTP server and the cache and rate limiter cleanup
// goroutines. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.cacheManager != nil {
			s.cacheManager.Stop()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRequestScope attaches a request id, logs start and completion, applies
// security headers, and rate-limits commands.
func (s *Server) withRequestScope(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := extractClientIP(r)
		requestID := uuid.NewString()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)
		log := s.logger.With(applog.FieldRequestID, requestID)

		log.DebugContext(ctx, "request started",
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		// Mutations are rate limited; reads are served from cache anyway.
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			log.WarnContext(ctx, "rate limit exceeded", "client_ip", clientIP, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		log.InfoContext(ctx, "request completed",
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

// RequestID returns the request id stored by withRequestScope, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// invalidateTeam drops every cached read for a team after a command commits.
func (s *Server) invalidateTeam(teamID string) {
	s.rosterCache.Delete(rosterKey(teamID))
	s.balanceCache.DeletePrefix(balancePrefix(teamID))
}

func rosterKey(teamID string) string { return "roster:" + teamID }

func balancePrefix(teamID string) string { return "balance:" + teamID + ":" }

func balanceKey(teamID, memberID string) string { return balancePrefix(teamID) + memberID }
