// Package recording owns the asynchronous path from a submitted Activity to
// durable storage. Producers append under a mutex and return immediately;
// one consumer goroutine persists FIFO batches with bounded retry.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"voxelprism.ai/internal/activity"
)

var (
	ErrClosed = errors.New("recording: queue closed")
	ErrHalted = errors.New("recording: queue halted")
)

// Persister writes a batch durably. It must honor ctx cancellation and be
// safe to call again with the same batch after a failure.
type Persister interface {
	Persist(ctx context.Context, batch []activity.Activity) error
}

// DeadLetter receives batches the queue gave up on.
type DeadLetter interface {
	Park(batch []activity.Activity, reason string) error
}

type Exhaustion string

const (
	Drop Exhaustion = "drop"
	Halt Exhaustion = "halt"
)

type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnExhausted    Exhaustion
	// WarnDepth logs once each time the backlog crosses it; 0 disables.
	WarnDepth int

	DeadLetter DeadLetter
	Logger     *log.Logger
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 10 * c.InitialBackoff
	}
	if c.OnExhausted == "" {
		c.OnExhausted = Drop
	}
	return c
}

type Stats struct {
	Submitted uint64 `json:"submitted"`
	Persisted uint64 `json:"persisted"`
	Dropped   uint64 `json:"dropped"`
	Parked    uint64 `json:"parked"`
	Rejected  uint64 `json:"rejected"`
	Retries   uint64 `json:"retries"`
	Batches   uint64 `json:"batches"`
	Depth     int    `json:"depth"`
	HighWater int    `json:"high_water"`
	Halted    bool   `json:"halted"`
}

type Queue struct {
	p      Persister
	cfg    Config
	logger *log.Logger
	m      *metrics

	// ctx is cancelled when Close gives up waiting for the drain.
	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	pending []activity.Activity
	closed  bool
	halted  error
	warned  bool
	stats   Stats
}

func Start(p Persister, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		p:       p,
		cfg:     cfg,
		logger:  cfg.Logger,
		m:       newMetrics(cfg.Registerer),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit enqueues a for persistence. It never blocks on I/O.
func (q *Queue) Submit(a activity.Activity) error {
	if err := a.Validate(); err != nil {
		q.reject()
		return err
	}

	q.mu.Lock()
	if q.halted != nil {
		q.stats.Rejected++
		q.mu.Unlock()
		q.m.rejected.Inc()
		return ErrHalted
	}
	if q.closed {
		q.stats.Rejected++
		q.mu.Unlock()
		q.m.rejected.Inc()
		return ErrClosed
	}
	q.pending = append(q.pending, a)
	depth := len(q.pending)
	q.stats.Submitted++
	if depth > q.stats.HighWater {
		q.stats.HighWater = depth
	}
	warn := false
	if q.cfg.WarnDepth > 0 && depth >= q.cfg.WarnDepth && !q.warned {
		q.warned = true
		warn = true
	}
	q.mu.Unlock()

	q.m.submitted.Inc()
	q.m.depth.Set(float64(depth))
	if warn {
		q.logf("backlog depth=%d crossed warn_depth=%d", depth, q.cfg.WarnDepth)
	}
	if depth >= q.cfg.BatchSize {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (q *Queue) reject() {
	q.mu.Lock()
	q.stats.Rejected++
	q.mu.Unlock()
	q.m.rejected.Inc()
}

// Close stops accepting submissions and waits for everything already queued
// to be persisted. If ctx ends first, the in-flight write is cancelled and
// the remainder goes to the dead letter.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	first := !q.closed
	q.closed = true
	q.mu.Unlock()
	if first {
		close(q.closing)
	}

	var drainErr error
	select {
	case <-q.done:
	case <-ctx.Done():
		q.cancel()
		<-q.done
		drainErr = fmt.Errorf("recording: drain: %w", ctx.Err())
	}
	q.cancel()
	return errors.Join(drainErr, q.Err())
}

// Err reports the failure that halted the queue, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Depth = len(q.pending)
	s.Halted = q.halted != nil
	return s
}

func (q *Queue) loop() {
	defer close(q.done)
	t := time.NewTicker(q.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-q.closing:
			q.flush()
			return
		case <-q.wake:
		case <-t.C:
		}
		q.flush()
	}
}

func (q *Queue) flush() {
	for {
		if q.ctx.Err() != nil {
			q.parkRest("drain deadline exceeded")
			return
		}
		if q.Err() != nil {
			q.parkRest("queue halted")
			return
		}
		batch := q.take(q.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		q.write(batch)
	}
}

func (q *Queue) take(n int) []activity.Activity {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	n = min(n, len(q.pending))
	batch := make([]activity.Activity, n)
	copy(batch, q.pending[:n])
	clear(q.pending[:n])
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	if q.warned && len(q.pending) < q.cfg.WarnDepth/2 {
		q.warned = false
	}
	q.m.depth.Set(float64(len(q.pending)))
	return batch
}

func (q *Queue) write(batch []activity.Activity) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(q.ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			q.mu.Lock()
			q.stats.Retries++
			q.mu.Unlock()
			q.m.retries.Inc()
		}
		return struct{}{}, q.p.Persist(q.ctx, batch)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.logf("persist failed batch=%d attempt=%d retry_in=%s err=%v", len(batch), attempt, next, err)
		}),
	)

	n := uint64(len(batch))
	if err == nil {
		q.mu.Lock()
		q.stats.Persisted += n
		q.stats.Batches++
		q.mu.Unlock()
		q.m.persisted.Add(float64(n))
		return
	}
	if q.ctx.Err() != nil {
		q.park(batch, "drain deadline exceeded")
		return
	}

	if q.cfg.OnExhausted == Halt {
		q.mu.Lock()
		q.halted = fmt.Errorf("%w: %v", ErrHalted, err)
		q.mu.Unlock()
		q.logf("HALT persistence failed attempts=%d batch=%d err=%v; refusing new activities", attempt, len(batch), err)
		q.park(batch, "halted: "+err.Error())
		return
	}
	q.mu.Lock()
	q.stats.Dropped += n
	q.mu.Unlock()
	q.m.dropped.Add(float64(n))
	q.logf("dropping batch=%d attempts=%d err=%v", len(batch), attempt, err)
	q.deadLetter(batch, "retries exhausted: "+err.Error())
}

func (q *Queue) parkRest(reason string) {
	for {
		batch := q.take(q.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		q.park(batch, reason)
	}
}

func (q *Queue) park(batch []activity.Activity, reason string) {
	n := uint64(len(batch))
	q.mu.Lock()
	q.stats.Parked += n
	q.mu.Unlock()
	q.m.dropped.Add(float64(n))
	q.deadLetter(batch, reason)
}

func (q *Queue) deadLetter(batch []activity.Activity, reason string) {
	if q.cfg.DeadLetter == nil {
		q.logf("no dead letter configured, lost=%d reason=%q", len(batch), reason)
		return
	}
	if err := q.cfg.DeadLetter.Park(batch, reason); err != nil {
		q.logf("dead letter write failed lost=%d err=%v", len(batch), err)
	}
}

func (q *Queue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}
