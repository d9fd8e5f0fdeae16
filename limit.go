/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// addressLimiter hands out a token bucket per client address. A nil
// *addressLimiter allows everything.
type addressLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

// newAddressLimiter allows perMinute requests per address, with bursts of the
// same size. Zero or less disables limiting.
func newAddressLimiter(perMinute int) *addressLimiter {
	if perMinute <= 0 {
		return nil
	}

	return &addressLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		visitors: make(map[string]*visitor),
	}
}

func (l *addressLimiter) allow(addr string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[addr] = v
	}
	v.seen = now

	return v.limiter.AllowN(now, 1)
}

// prune forgets addresses not seen since cutoff and returns how many it dropped.
func (l *addressLimiter) prune(cutoff time.Time) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for addr, v := range l.visitors {
		if v.seen.Before(cutoff) {
			delete(l.visitors, addr)
			dropped++
		}
	}

	return dropped
}

// clientAddress is realIP without the port.
func clientAddress(r *http.Request) string {
	addr := realIP(r)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}

	return addr
}
