package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// Each key gets its own bucket with a configurable capacity and refill
// rate. When the bucket is empty the request receives HTTP 429 with a
// Retry-After header indicating when to try again. What the key IS
// varies by group: the public group limits per client IP, since callers
// there carry no credential; the admin group limits per admin token
// instead, since multiple operators can share an egress IP and a
// spoofed X-Forwarded-For must not let one attacker exhaust another
// admin's budget (spec §6 names the admin surface as bearer-token
// authenticated).
//
// A background goroutine cleans up buckets that have been idle for more
// than cleanupIdleDuration to prevent unbounded memory growth from
// transient keys.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

type keyBucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

// KeyFunc extracts the rate-limit bucket key from a request.
type KeyFunc func(c *gin.Context) string

// ByIP keys the bucket by client IP, for unauthenticated public routes.
func ByIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByAdminToken keys the bucket by the caller's bearer token rather than
// its IP, so the budget tracks the credential AdminAuthMiddleware already
// validated. Requests without a bearer token (rejected by
// AdminAuthMiddleware before this ever matters) fall back to IP so the
// map never grows an empty-string bucket shared by every such caller.
func ByAdminToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
		return "token:" + token
	}
	return "ip:" + c.ClientIP()
}

// ByFederationBackfill keys the bucket by federation id, independent of
// caller, so one federation's backfill jobs can't be triggered faster
// than it is worth replaying regardless of how many admin tokens exist
// (spec §4.F backfill is an expensive, exclusive-per-federation replay).
func ByFederationBackfill(c *gin.Context) string {
	return "fed:" + c.Param("id")
}

// RateLimiter holds per-key token-bucket state.
type RateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64 // max bucket capacity
	key     KeyFunc
	label   string // used in the 429 body, e.g. "30 requests/minute per IP"
	mu      sync.Mutex
	buckets map[string]*keyBucket
}

// NewRateLimiter creates a rate limiter allowing `ratePerMin` requests per
// minute per key (as extracted by keyFn), with a burst capacity of
// `burst` requests.
func NewRateLimiter(ratePerMin, burst int, keyFn KeyFunc, label string) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		key:     keyFn,
		label:   label,
		buckets: make(map[string]*keyBucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &keyBucket{tokens: rl.burst}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	// Refill tokens based on elapsed time since last request.
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	// Calculate how long until a token is available.
	retryAfter := time.Duration((1.0-bucket.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		allowed, retryAfter := rl.allow(key)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter.String(),
				"limit":      rl.label,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale buckets every cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
