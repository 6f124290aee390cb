// Package ratelimit implements a bounded in-memory fixed-window limiter
// for the auth surface (register/login), per spec.md §6/§9 (C7).
// Grounded on rias-glitch-telegram-webapp's
// internal/http/middleware/ratelimit.go (clientInfo{last,count} map
// behind a mutex), generalized per §9's "owned collaborator, never a
// package-level var" into a type with its own pruning lifecycle instead
// of ratelimit.go's package-level `clients` map.
package ratelimit

import (
	"sync"
	"time"
)

type clientInfo struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Limiter enforces "at most maxRequests per window" per key (typically
// a client IP), pruning entries untouched for longer than pruneAge and
// capping the map at maxEntries by dropping the oldest-inserted key
// (insertion order), per spec.md §4.7/§5: "no map may grow unbounded."
type Limiter struct {
	maxRequests int
	window      time.Duration
	pruneAge    time.Duration
	maxEntries  int

	mu          sync.Mutex
	clients     map[string]*clientInfo
	insertOrder []string

	pruneInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

func New(maxRequests int, window, pruneAge time.Duration, maxEntries int) *Limiter {
	return &Limiter{
		maxRequests:   maxRequests,
		window:        window,
		pruneAge:      pruneAge,
		maxEntries:    maxEntries,
		clients:       make(map[string]*clientInfo),
		pruneInterval: pruneAge,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Allow reports whether key may proceed, counting the call against its
// current window regardless of the verdict.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	ci, ok := l.clients[key]
	if !ok {
		l.clients[key] = &clientInfo{windowStart: now, count: 1, lastSeen: now}
		l.insertOrder = append(l.insertOrder, key)
		l.evictOldestLocked()
		return true
	}

	if now.Sub(ci.windowStart) > l.window {
		ci.windowStart = now
		ci.count = 1
		ci.lastSeen = now
		return true
	}

	ci.count++
	ci.lastSeen = now
	return ci.count <= l.maxRequests
}

// evictOldestLocked drops the oldest-inserted keys until the map is back
// within maxEntries. Callers must hold l.mu.
func (l *Limiter) evictOldestLocked() {
	for l.maxEntries > 0 && len(l.clients) > l.maxEntries && len(l.insertOrder) > 0 {
		oldest := l.insertOrder[0]
		l.insertOrder = l.insertOrder[1:]
		delete(l.clients, oldest)
	}
}

// Start launches the background pruning loop. Call Stop to end it.
func (l *Limiter) Start() {
	go l.loop()
}

func (l *Limiter) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Limiter) loop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, ci := range l.clients {
		if now.Sub(ci.lastSeen) > l.pruneAge {
			delete(l.clients, key)
		}
	}

	live := l.insertOrder[:0]
	for _, key := range l.insertOrder {
		if _, ok := l.clients[key]; ok {
			live = append(live, key)
		}
	}
	l.insertOrder = live
}

// Size reports the current number of tracked keys, for tests and metrics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
