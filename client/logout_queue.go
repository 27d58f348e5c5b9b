package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// QueueConfig defines the retry-or-drop policy of the logout queue
type QueueConfig struct {
	// MaxAttempts per logout; 1 drops the logout after its first failure.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Capacity        int
}

// DefaultQueueConfig tries each logout once
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxAttempts:     1,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Capacity:        16,
	}
}

// LogoutQueue runs server-side logouts on a single background worker.
// Failures are logged and dropped once the attempts are exhausted.
type LogoutQueue struct {
	logout func(context.Context) error
	cfg    QueueConfig
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
}

// NewLogoutQueue starts the worker; call Close to stop it
func NewLogoutQueue(logout func(context.Context) error, cfg QueueConfig, logger *zap.Logger) *LogoutQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueConfig().Capacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &LogoutQueue{
		logout: logout,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan struct{}, cfg.Capacity),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules one logout. It never blocks and returns false when the
// queue is full or closed.
func (q *LogoutQueue) Enqueue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- struct{}{}:
		return true
	default:
		return false
	}
}

// Close stops accepting logouts and waits for queued ones to finish
func (q *LogoutQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.done
}

// Abort cancels in-flight logouts and stops the worker
func (q *LogoutQueue) Abort() {
	q.cancel()
	q.Close()
}

// Completed returns the number of logouts that reached the bridge
func (q *LogoutQueue) Completed() int64 { return q.completed.Load() }

// Failed returns the number of dropped logouts
func (q *LogoutQueue) Failed() int64 { return q.failed.Load() }

func (q *LogoutQueue) run() {
	defer close(q.done)
	defer q.cancel()

	for range q.jobs {
		attempts := 0
		op := func() error {
			attempts++
			err := q.logout(q.ctx)
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.Status < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}

		if err := backoff.Retry(op, q.backOff()); err != nil {
			q.failed.Add(1)
			q.logger.Warn("Logout request failed", zap.Int("attempts", attempts), zap.Error(err))
			continue
		}
		q.completed.Add(1)
	}
}

func (q *LogoutQueue) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialInterval
	if q.cfg.MaxInterval > 0 {
		b.MaxInterval = q.cfg.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.cfg.MaxAttempts-1)), q.ctx)
}
