package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/radiusdt/bid-optimizer/internal/config"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// computePrefix marks the engine endpoints, which are far more expensive than
// configuration reads and writes and get their own budget.
const computePrefix = "/v1/recommendations"

// RateLimitMiddleware applies token buckets per endpoint class and client IP.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*clientLimiters
	now     func() time.Time
}

type clientLimiters struct {
	compute  *rate.Limiter
	mgmt     *rate.Limiter
	lastSeen time.Time
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		clients: make(map[string]*clientLimiters),
		now:     time.Now,
	}
}

func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		cl := rl.limitersFor(ip)
		limiter, class := cl.mgmt, "management"
		if isComputeEndpoint(r.URL.Path) {
			limiter, class = cl.compute, "compute"
		}

		if !limiter.Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("path", r.URL.Path),
				zap.String("class", class),
				zap.String("ip", ip),
			)
			rl.metrics.RecordRateLimitHit(class)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) limitersFor(ip string) *clientLimiters {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[ip]
	if !ok {
		cl = &clientLimiters{
			compute: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst),
			mgmt:    rate.NewLimiter(rate.Limit(rl.cfg.MgmtRPS), rl.cfg.MgmtBurst),
		}
		rl.clients[ip] = cl
	}
	cl.lastSeen = rl.now()
	return cl
}

// CleanupIdle drops limiters of clients not seen within idle.
func (rl *RateLimitMiddleware) CleanupIdle(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for ip, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("cleaned up idle rate limiters", zap.Int("removed", removed))
	}
	return removed
}

func isComputeEndpoint(path string) bool {
	return strings.HasPrefix(path, computePrefix) || path == "/v1/negative-targets"
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
