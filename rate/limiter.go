// Package rate keeps one token bucket per client key and forgets clients
// that stay idle longer than the configured expiry.
package rate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	expiry time.Duration
	burst  int
	limit  rate.Limit

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stop     chan struct{}
	stopOnce sync.Once
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLimiter allows burst requests at once per key, refilled one token per
// interval. Keys idle for longer than expiry are dropped.
func NewLimiter(burst int, interval, expiry time.Duration) *Limiter {
	l := &Limiter{
		expiry:  expiry,
		burst:   burst,
		limit:   rate.Every(interval),
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
	}
	go l.refresh()
	return l
}

func (l *Limiter) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter.Allow()
}

// Stop ends the background sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) refresh() {
	ticker := time.NewTicker(sweepInterval(l.expiry))
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, cl := range l.clients {
		if time.Since(cl.lastAccess) > l.expiry {
			delete(l.clients, key)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func sweepInterval(expiry time.Duration) time.Duration {
	if expiry < time.Minute {
		return expiry
	}
	return time.Minute
}
