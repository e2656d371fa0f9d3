package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per client IP. The map is flushed
// wholesale on an interval instead of tracking per-entry idle time.
type limiterPool struct {
	mu      sync.Mutex
	entries map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newLimiterPool(perSecond float64, burst int, flushEvery time.Duration) *limiterPool {
	p := &limiterPool{
		entries: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
	go func() {
		ticker := time.NewTicker(flushEvery)
		defer ticker.Stop()
		for range ticker.C {
			p.mu.Lock()
			p.entries = make(map[string]*rate.Limiter)
			p.mu.Unlock()
		}
	}()
	return p
}

func (p *limiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.entries[ip]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.entries[ip] = l
	}
	return l
}

// RateLimitMiddleware caps each client IP at 20 req/s with a burst of 50.
func RateLimitMiddleware() gin.HandlerFunc {
	pool := newLimiterPool(20, 50, 5*time.Minute)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !pool.get(ip).Allow() {
			log.Printf("[RATE_LIMIT] IP %s exceeded rate limit", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// CORSMiddleware allows cross-origin access from the dashboard.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware assigns every request an id, honoring one supplied by
// the caller, and echoes it in the response headers.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// TimeoutMiddleware bounds handler time. The handler runs in its own
// goroutine so a stuck one cannot hold the connection past the deadline.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case p := <-panicked:
			log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, p)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		case <-ctx.Done():
			log.Printf("[TIMEOUT] %s %s", c.Request.Method, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
				"error":   "request timeout",
				"message": "request took too long to process",
			})
		}
	}
}

// RequestLogger writes one line per request with id, status and latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		id := c.GetString("RequestID")
		if len(id) >= 8 {
			id = id[:8]
		}
		log.Printf("[API] %s | %s %s | %d | %v | %s",
			id, method, path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}
