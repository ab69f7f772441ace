package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client ip.
type IPRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(limit rate.Limit, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow consumes one token from ip's bucket.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		l.evict(now)
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// evict drops buckets idle for longer than l.idle. Caller holds l.mu.
func (l *IPRateLimiter) evict(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, ip)
		}
	}
}

func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too many requests"})
			return
		}
		c.Next()
	}
}
