// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
)

// RateLimitRule is one token-bucket configuration: requests/second with
// a burst allowance.
type RateLimitRule struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimiter enforces one RateLimitRule per (endpoint class, client
// address) pair. A single client hammering /runs/{id}/metrics doesn't
// exhaust another client's quota, and a slow client on one class
// doesn't starve its own requests against a different class.
type RateLimiter struct {
	mu       sync.Mutex
	rules    map[string]RateLimitRule
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter from a set of named rules (e.g.
// "default", "metrics", "write"). The ClassifyFunc passed to Middleware
// decides which rule a given request falls under.
func NewRateLimiter(rules map[string]RateLimitRule) *RateLimiter {
	return &RateLimiter{
		rules:    rules,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) limiterFor(class, clientAddr string) *rate.Limiter {
	key := class + "|" + clientAddr

	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	rule, ok := l.rules[class]
	if !ok {
		rule = l.rules["default"]
	}
	lim := rate.NewLimiter(rate.Limit(rule.RequestsPerSecond), rule.Burst)
	l.limiters[key] = lim
	return lim
}

// ClassifyFunc maps a request to a rate-limit class name.
type ClassifyFunc func(r *http.Request) string

// Middleware returns an http middleware that rejects requests exceeding
// their class's per-client rate with HTTP 429.
func (l *RateLimiter) Middleware(classify ClassifyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := classify(r)
			addr := clientAddr(r)
			lim := l.limiterFor(class, addr)

			if !lim.Allow() {
				burst := lim.Burst()
				apierr.WriteHTTP(w, &apierr.RateLimitedError{
					Limit:      burst,
					Remaining:  0,
					RetryAfter: 1,
				}, "")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(lim.Burst()))
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
