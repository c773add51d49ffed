package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdleTTL 是限流条目闲置多久后被回收。
const DefaultLimiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按用户限流，未登录的请求按客户端 IP 限流。
// 闲置超过 idleTTL 的 key 会在后续调用中被清理。
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

// NewRateLimiter 创建一个每分钟允许 perMinute 次请求的限流器。perMinute <= 0 表示不限流。
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	idleTTL := DefaultLimiterIdleTTL
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
		// 至少等到令牌桶补满
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idleTTL {
			idleTTL = refill
		}
	}
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow 消耗 key 的一个令牌。
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	l.mu.Unlock()
	return allowed
}

// sweep 每隔 idleTTL 删除一次闲置条目，调用方需持有锁。
// 闲置 idleTTL 的条目令牌桶已满，与新建的条目等价。
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) >= l.idleTTL {
			delete(l.limiters, key)
		}
	}
}

// size 返回当前跟踪的 key 数量。
func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// UserKey 返回按用户限流使用的 key。
func UserKey(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// Middleware 超出限制时返回 429。
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if user, ok := CurrentUser(c); ok {
			key = UserKey(user.ID)
		}
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":      http.StatusTooManyRequests,
				"message":   "too many requests",
				"data":      nil,
				"retryable": true,
			})
			return
		}
		c.Next()
	}
}
