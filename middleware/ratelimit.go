package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relationd_rate_limited_total",
	Help: "Requests rejected by the per-IP rate limiter",
})

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu    sync.Mutex
	r     rate.Limit
	b     int
	byKey map[string]*ipLimiter
}

func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	il, ok := s.byKey[key]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.byKey[key] = il
	}
	il.lastSeen = now
	return il.limiter
}

func (s *limiterSet) sweep(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, il := range s.byKey {
		if il.lastSeen.Before(cutoff) {
			delete(s.byKey, k)
		}
	}
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size. Rejected requests get 429 with
// a Retry-After hint in whole seconds.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	set := &limiterSet{r: r, b: b, byKey: make(map[string]*ipLimiter)}

	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for now := range ticker.C {
			set.sweep(now.Add(-limiterIdleAfter))
		}
	}()

	return func(c *gin.Context) {
		now := time.Now()
		lim := set.get(c.ClientIP(), now)
		if !lim.AllowN(now, 1) {
			rateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter(r)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// retryAfter is the wait for one token, at least one second.
func retryAfter(r rate.Limit) int {
	if r <= 0 || math.IsInf(float64(r), 1) {
		return 1
	}
	secs := int(math.Ceil(1 / float64(r)))
	if secs < 1 {
		return 1
	}
	return secs
}
