package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/guttosm/spimexpulse/internal/domain/dto"
)

// Per-IP token bucket defaults: 60 requests per minute with a burst of 60.
var (
	limit   = rate.Every(time.Second)
	burst   = 60
	idleTTL = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client IP and forgets idle clients.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	lastGC   time.Time
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > idleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimiter limits the number of requests per client IP.
//
// Behavior:
//   - Each IP gets a token bucket refilled at `limit` with capacity `burst`.
//   - If the bucket is empty, returns HTTP 429 Too Many Requests.
//
// Usage:
//
//	router := gin.New()
//	router.Use(middleware.RateLimiter())
func RateLimiter() gin.HandlerFunc {
	l := &ipLimiter{visitors: make(map[string]*visitor), limit: limit, burst: burst, lastGC: time.Now()}
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponse("rate limit exceeded", nil))
			return
		}
		c.Next()
	}
}
