package middleware

import (
	"net/http"
	"sync"
)

// InFlight caps concurrently served requests per principal. Requests
// without a principal header are not counted. A max of zero or less
// disables the cap.
//
// The cap is per process; quotas that must hold across instances belong
// in Quota.
func InFlight(max int, principalHeader string) func(http.Handler) http.Handler {
	if principalHeader == "" {
		principalHeader = "X-Principal-ID"
	}
	limiter := &inFlightLimiter{max: max, active: make(map[string]int)}

	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := r.Header.Get(principalHeader)
			if principal == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.acquire(principal) {
				WriteError(w, http.StatusTooManyRequests, CodeTooManyInFlight,
					"Too many concurrent requests.", 1)
				return
			}
			defer limiter.release(principal)

			next.ServeHTTP(w, r)
		})
	}
}

type inFlightLimiter struct {
	mu     sync.Mutex
	max    int
	active map[string]int
}

func (l *inFlightLimiter) acquire(principal string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[principal] >= l.max {
		return false
	}
	l.active[principal]++
	return true
}

func (l *inFlightLimiter) release(principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active[principal]--
	if l.active[principal] <= 0 {
		delete(l.active, principal)
	}
}
