package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter returns a limiter allowing perSecond requests per address with
// the given burst. perSecond <= 0 disables limiting.
func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &ipLimiter{
		limiters: make(map[string]*visitor),
		limit:    limit,
		burst:    max(1, burst),
		ttl:      10 * time.Minute,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, ok := l.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now

	if len(l.limiters) > 1024 {
		l.sweep(now)
	}
	return v.limiter.Allow()
}

// sweep forgets clients idle for longer than ttl.
func (l *ipLimiter) sweep(now time.Time) {
	for addr, other := range l.limiters {
		if now.Sub(other.lastSeen) > l.ttl {
			delete(l.limiters, addr)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects requests over the per-address budget with 429.
func (s *Server) rateLimit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	})
}
