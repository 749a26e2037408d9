// ABOUTME: Per-caller token bucket rate limiting for the API
// ABOUTME: Keys on the authenticated user, or the remote IP when there is none

package gateway

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/coven-chat/internal/auth"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// clientLimiter tracks a per-client rate limiter and when it was last seen.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stop      chan struct{}
	closeOnce sync.Once
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	rl := &rateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok := rl.clients[key]; ok {
		cl.lastSeen = time.Now()
		return cl.limiter
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients[key] = &clientLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

// sweep drops limiters that have been idle for a while.
func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, cl := range rl.clients {
				if time.Since(cl.lastSeen) > limiterIdleTTL {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (rl *rateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
}

// middleware rejects requests over the limit with 429 and Retry-After.
// It must run after authentication so the user id is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.get(limiterKey(r))

		reservation := limiter.Reserve()
		if !reservation.OK() {
			writeTooManyRequests(w, 0)
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			writeTooManyRequests(w, int(delay.Seconds())+1)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		next.ServeHTTP(w, r)
	})
}

// limiterKey identifies the caller. X-Forwarded-For is ignored so the
// limit cannot be dodged by spoofing it.
func limiterKey(r *http.Request) string {
	if a := auth.FromContext(r.Context()); a != nil {
		return "user:" + a.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
}
