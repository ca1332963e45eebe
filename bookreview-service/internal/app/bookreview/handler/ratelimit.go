package handler

import (
	"net/http"
	"sync"
	"time"

	"bookreview/pkg/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter - token bucket на каждый ключ (IP клиента).
// Ключи, к которым не обращались limiterIdleTTL, периодически удаляются.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	limit    rate.Limit
	burst    int

	done     chan struct{}
	stopOnce sync.Once
}

// NewKeyedRateLimiter создает лимитер: rps запросов в секунду, burst сразу
func NewKeyedRateLimiter(rps float64, burst int) *KeyedRateLimiter {
	krl := &KeyedRateLimiter{
		limiters: make(map[string]*keyedLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		done:     make(chan struct{}),
	}

	go krl.cleanup(limiterIdleTTL)

	return krl
}

func (krl *KeyedRateLimiter) Allow(key string) bool {
	krl.mu.Lock()
	entry, ok := krl.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	krl.mu.Unlock()

	return entry.limiter.Allow()
}

func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
}

func (krl *KeyedRateLimiter) cleanup(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-krl.done:
			return
		case now := <-ticker.C:
			krl.evict(now.Add(-idle))
		}
	}
}

func (krl *KeyedRateLimiter) evict(before time.Time) {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	for key, entry := range krl.limiters {
		if entry.lastSeen.Before(before) {
			delete(krl.limiters, key)
		}
	}
}

// Middleware отвечает 429, если IP исчерпал лимит
func (krl *KeyedRateLimiter) Middleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !krl.Allow(c.ClientIP()) {
			metrics.HttpRateLimited.WithLabelValues(service, c.FullPath()).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"message": "Too many requests, please try again later"})
			c.Abort()
			return
		}
		c.Next()
	}
}
