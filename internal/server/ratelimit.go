package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates over sliding minute and hour
// windows plus calendar-day quotas on requests and uploaded bytes.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	recent    []time.Time // accepted requests within the last hour, oldest first
	day       time.Time   // local midnight of the quota day
	today     int
	dataToday int64
}

// Usage is a snapshot of one client's consumption.
type Usage struct {
	LastMinute int
	LastHour   int
	Today      int
	DataToday  int64
}

// NewRateLimiter creates a limiter; a zero limit disables that check.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// CheckRateLimit records a request of dataSize bytes from clientID, or
// returns a *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(clientID, now)

	if err := rl.checkWindow(u, now, time.Minute, rl.requestsPerMinute, "minute"); err != nil {
		return err
	}
	if err := rl.checkWindow(u, now, time.Hour, rl.requestsPerHour, "hour"); err != nil {
		return err
	}

	resets := u.day.AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && u.today >= rl.maxRequestsPerDay {
		return &QuotaExceededError{Kind: "requests", Limit: int64(rl.maxRequestsPerDay), Used: int64(u.today), Resets: resets}
	}
	if rl.maxDataPerDay > 0 && u.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{Kind: "data", Limit: rl.maxDataPerDay, Used: u.dataToday, Resets: resets}
	}

	u.recent = append(u.recent, now)
	u.today++
	u.dataToday += dataSize
	return nil
}

// checkWindow fails when limit requests were already accepted within window.
func (rl *RateLimiter) checkWindow(u *clientUsage, now time.Time, window time.Duration, limit int, name string) error {
	if limit <= 0 {
		return nil
	}
	inWindow := countSince(u.recent, now.Add(-window))
	if inWindow < limit {
		return nil
	}
	// The request that frees a slot is the oldest one inside the window.
	oldest := u.recent[len(u.recent)-inWindow]
	return &RateLimitError{Window: name, Limit: limit, RetryAfter: oldest.Add(window).Sub(now)}
}

// usage returns the client's record with expired entries dropped.
func (rl *RateLimiter) usage(clientID string, now time.Time) *clientUsage {
	u, ok := rl.clients[clientID]
	if !ok {
		u = &clientUsage{}
		rl.clients[clientID] = u
	}

	day := startOfDay(now)
	if !u.day.Equal(day) {
		u.day = day
		u.today = 0
		u.dataToday = 0
	}

	cutoff := now.Add(-time.Hour)
	drop := 0
	for drop < len(u.recent) && !u.recent[drop].After(cutoff) {
		drop++
	}
	u.recent = u.recent[drop:]
	return u
}

// GetUsage returns current usage statistics for a client.
func (rl *RateLimiter) GetUsage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.clients[clientID]; !ok {
		return Usage{}
	}
	now := rl.now()
	u := rl.usage(clientID, now)
	return Usage{
		LastMinute: countSince(u.recent, now.Add(-time.Minute)),
		LastHour:   len(u.recent),
		Today:      u.today,
		DataToday:  u.dataToday,
	}
}

// countSince counts timestamps strictly after t; ts is sorted ascending.
func countSince(ts []time.Time, t time.Time) int {
	n := 0
	for i := len(ts) - 1; i >= 0 && ts[i].After(t); i-- {
		n++
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Window     string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Window, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Kind   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Kind, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
