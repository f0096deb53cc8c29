// Package ratelimit gates calls to the extraction provider with a
// bounded-concurrency semaphore and a trailing-window throughput cap.
//
// One Limiter is constructed per process and injected into the processor; it
// does not coordinate across processes, so the effective throughput cap is
// requests-per-minute times the number of worker processes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultWindow = time.Minute

type Limiter struct {
	rpm    int
	window time.Duration
	sem    *semaphore.Weighted

	mu      sync.Mutex
	grants  []time.Time // admission timestamps inside the current window
	waiting int
}

type Option func(*Limiter)

// WithWindow overrides the 60s throughput window. Tests shrink it.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

func New(requestsPerMinute, maxConcurrency int, opts ...Option) *Limiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	l := &Limiter{
		rpm:    requestsPerMinute,
		window: defaultWindow,
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire blocks until both a concurrency slot and a throughput token are
// available, then returns how many other callers were waiting at admission
// time. Callers must Release the slot; throughput tokens age out on their own.
func (l *Limiter) Acquire(ctx context.Context) (int, error) {
	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
		return 0, err
	}

	for {
		l.mu.Lock()
		now := time.Now()
		l.evict(now)
		if len(l.grants) < l.rpm {
			l.grants = append(l.grants, now)
			queued := l.waiting - 1
			if queued < 0 {
				queued = 0
			}
			l.waiting--
			l.mu.Unlock()
			return queued, nil
		}
		wait := l.window - now.Sub(l.grants[0])
		l.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		} else if wait > 500*time.Millisecond {
			wait = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			l.sem.Release(1)
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
			return 0, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Release returns the concurrency slot taken by Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// QueueSize reports the number of callers currently blocked in Acquire.
func (l *Limiter) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waiting < 0 {
		return 0
	}
	return l.waiting
}

// evict drops grant timestamps older than the window. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cut := 0
	for cut < len(l.grants) && now.Sub(l.grants[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.grants = append(l.grants[:0], l.grants[cut:]...)
	}
}
