package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/metrics"
)

// RateLimitConfig sets the global and per-IP token buckets.
type RateLimitConfig struct {
	GlobalRate  float64 // requests per second across all clients
	GlobalBurst int
	PerIPRate   float64
	PerIPBurst  int
	// IdleTTL is how long an unused per-IP bucket is kept. Defaults to 3m.
	IdleTTL time.Duration
}

// RateLimiter enforces a global limit and then a per-client-IP limit.
type RateLimiter struct {
	cfg    RateLimitConfig
	global *rate.Limiter

	mu    sync.Mutex
	perIP map[string]*ipLimiter

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter starts a limiter with a background sweep of idle buckets.
// Call Stop to end the sweep.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	rl := &RateLimiter{
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		perIP:  make(map[string]*ipLimiter),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go rl.sweepLoop(time.Minute)
	return rl
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.perIP[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.PerIPRate), rl.cfg.PerIPBurst)}
		rl.perIP[ip] = l
	}
	l.lastSeen = rl.now()
	return l.limiter
}

func (rl *RateLimiter) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

// sweep drops per-IP buckets idle for longer than IdleTTL and returns how
// many were removed.
func (rl *RateLimiter) sweep() int {
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, l := range rl.perIP {
		if l.lastSeen.Before(cutoff) {
			delete(rl.perIP, ip)
			n++
		}
	}
	return n
}

// Tracked returns the number of per-IP buckets currently held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.perIP)
}

// Stop ends the background sweep. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Limit rejects requests over either limit with 429 and a Retry-After hint.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.global.Allow() {
			metrics.HTTPRateLimited.WithLabelValues("global").Inc()
			w.Header().Set("Retry-After", retryAfter(rl.cfg.GlobalRate))
			apierr.WriteErrorWithContext(w, r, apierr.RateLimitGlobal())
			return
		}

		if !rl.limiterFor(clientIP(r)).Allow() {
			metrics.HTTPRateLimited.WithLabelValues("ip").Inc()
			w.Header().Set("Retry-After", retryAfter(rl.cfg.PerIPRate))
			apierr.WriteErrorWithContext(w, r, apierr.RateLimitIP())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(perSecond float64) string {
	if perSecond <= 0 {
		return "60"
	}
	secs := int(1/perSecond + 0.999)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP prefers proxy headers and falls back to RemoteAddr without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
