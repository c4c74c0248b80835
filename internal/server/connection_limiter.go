package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitReason describes why a connection attempt was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits guards the WebSocket endpoint with three checks: a
// per-instance cap, a per-IP cap, and a per-IP token bucket on new dials.
type ConnectionLimits struct {
	global *globalLimiter
	perIP  *ipLimiter
	dials  *dialRateLimiter
}

func NewConnectionLimits(globalMax int64, perIPMax int, dialsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		global: &globalLimiter{max: globalMax},
		perIP:  &ipLimiter{counts: make(map[string]int), maxPer: perIPMax},
		dials:  newDialRateLimiter(dialsPerSecond, burst),
	}
}

// Acquire claims a slot for the given IP. On rejection the returned reason
// names the first limit that tripped; nothing is held.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.dials.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release returns the slot claimed by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

// Active returns the number of currently held slots.
func (l *ConnectionLimits) Active() int64 {
	return l.global.current.Load()
}

// globalLimiter caps total concurrent connections with lock-free counting.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalLimiter) release() {
	l.current.Add(-1)
}

// ipLimiter caps concurrent connections per source address.
type ipLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[ip] >= l.maxPer {
		return false
	}
	l.counts[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.counts[ip]; count > 0 {
		l.counts[ip] = count - 1
		if l.counts[ip] == 0 {
			delete(l.counts, ip)
		}
	}
}

// dialRateLimiter throttles new connection attempts per IP with a token
// bucket. Buckets idle for ten minutes are dropped during the periodic
// cleanup so reconnecting clients do not grow the map unboundedly.
type dialRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*dialBucket
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type dialBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newDialRateLimiter(dialsPerSecond float64, burst int) *dialRateLimiter {
	return &dialRateLimiter{
		buckets:   make(map[string]*dialBucket),
		rate:      rate.Limit(dialsPerSecond),
		burst:     burst,
		cleanupAt: time.Now().Add(5 * time.Minute),
	}
}

func (l *dialRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-10 * time.Minute)
		for addr, bucket := range l.buckets {
			if bucket.lastSeen.Before(cutoff) {
				delete(l.buckets, addr)
			}
		}
		l.cleanupAt = now.Add(5 * time.Minute)
	}

	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &dialBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}
