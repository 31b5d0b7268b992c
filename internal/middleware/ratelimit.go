package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/fast-fab/Seller-service/internal/auth"
	"github.com/fast-fab/Seller-service/internal/httputil"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (c *clientLimiter) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *clientLimiter) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen)
}

// rateLimiterStore keeps one token bucket per client key and evicts idle ones.
type rateLimiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
	idleTTL  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	s := &rateLimiterStore{
		rps:     rps,
		burst:   burst,
		idleTTL: 3 * time.Minute,
		stopCh:  make(chan struct{}),
	}
	go s.cleanup(time.Minute)
	return s
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	now := time.Now()
	if v, ok := s.limiters.Load(key); ok {
		entry := v.(*clientLimiter)
		entry.touch(now)
		return entry.limiter
	}

	entry := &clientLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst), lastSeen: now}
	actual, loaded := s.limiters.LoadOrStore(key, entry)
	if loaded {
		existing := actual.(*clientLimiter)
		existing.touch(now)
		return existing.limiter
	}
	return entry.limiter
}

func (s *rateLimiterStore) evictIdle(now time.Time) {
	s.limiters.Range(func(key, value any) bool {
		if value.(*clientLimiter).idleSince(now) > s.idleTTL {
			s.limiters.Delete(key)
		}
		return true
	})
}

func (s *rateLimiterStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.evictIdle(now)
		case <-s.stopCh:
			return
		}
	}
}

func (s *rateLimiterStore) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// clientIP uses RemoteAddr only. X-Forwarded-For is client controlled and
// would let callers pick their own bucket.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// limitKey buckets authenticated sellers by id and everyone else by IP.
func limitKey(r *http.Request) string {
	if sellerID := auth.SellerIDFromContext(r.Context()); sellerID != "" {
		return "seller:" + sellerID
	}
	return "ip:" + clientIP(r)
}

// RateLimitMiddleware enforces a token bucket per client. rps is the
// sustained rate and burst the maximum burst size.
func RateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	store := newRateLimiterStore(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.getLimiter(limitKey(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
