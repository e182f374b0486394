package worker

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleHostTTL is how long an unused host limiter is kept
const idleHostTTL = 10 * time.Minute

// Limiter paces requests per host. Hosts are matched case-insensitively
// and without port. A robots.txt crawl delay slows a host below the
// default rate, never speeds it up.
type Limiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostLimiter
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

type hostLimiter struct {
	limiter  *rate.Limiter
	delay    time.Duration // Crawl delay applied, 0 when none
	lastUsed time.Time
}

// NewLimiter creates a limiter allowing requestsPerSecond per host
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		hosts:        make(map[string]*hostLimiter),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Wait blocks until a request to rawURL's host may proceed
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := extractHost(rawURL)
	if err != nil {
		return err
	}
	return l.host(host).Wait(ctx)
}

// Allow reports whether a request to rawURL's host may proceed now
func (l *Limiter) Allow(rawURL string) bool {
	host, err := extractHost(rawURL)
	if err != nil {
		return false
	}
	return l.host(host).Allow()
}

// SetCrawlDelay limits rawURL's host to one request per delay when that is
// slower than the current rate
func (l *Limiter) SetCrawlDelay(rawURL string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	host, err := extractHost(rawURL)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.lookupLocked(host)
	if delay <= h.delay {
		return
	}
	h.delay = delay
	if limit := rate.Every(delay); limit < h.limiter.Limit() {
		h.limiter.SetLimit(limit)
		h.limiter.SetBurst(1)
	}
}

// Hosts returns the number of tracked hosts
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) host(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookupLocked(host).limiter
}

func (l *Limiter) lookupLocked(host string) *hostLimiter {
	now := l.now()
	h, ok := l.hosts[host]
	if !ok {
		l.pruneLocked(now)
		h = &hostLimiter{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.hosts[host] = h
	}
	h.lastUsed = now
	return h
}

// pruneLocked drops host limiters idle for longer than idleHostTTL
func (l *Limiter) pruneLocked(now time.Time) {
	for host, h := range l.hosts {
		if now.Sub(h.lastUsed) > idleHostTTL {
			delete(l.hosts, host)
		}
	}
}

func extractHost(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Hostname()), nil
}
