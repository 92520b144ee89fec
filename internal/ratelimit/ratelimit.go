package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(r float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// ClientLimiters hands out one Limiter per client key: a remote address for
// HTTP, a session id for websocket connections.
type ClientLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	maxClients      int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(r float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            r,
		burst:           burst,
		maxClients:      10000,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(clientID string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[clientID]
	cl.mu.RUnlock()

	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if limiter, ok := cl.limiters[clientID]; ok {
		return limiter
	}

	limiter = NewLimiter(cl.rate, cl.burst)
	cl.limiters[clientID] = limiter
	return limiter
}

// Allow takes one token from the client's bucket.
func (cl *ClientLimiters) Allow(clientID string) bool {
	return cl.Get(clientID).Allow()
}

func (cl *ClientLimiters) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, clientID)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.prune()
		}
	}
}

// prune forgets every client once the map grows past maxClients.
func (cl *ClientLimiters) prune() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.limiters) > cl.maxClients {
		cl.limiters = make(map[string]*Limiter)
	}
}
