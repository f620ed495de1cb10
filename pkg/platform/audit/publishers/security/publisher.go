// Package security provides a non-blocking audit publisher for security
// events. Emit never fails the caller: events go into a bounded ring buffer
// that a background loop drains into the audit store, dropping the oldest
// events under pressure.
package security

import (
	"context"
	"log/slog"
	"time"

	audit "paygate/pkg/platform/audit"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 250 * time.Millisecond
)

// Publisher buffers security events and persists them asynchronously.
type Publisher struct {
	store         audit.Store
	buffer        *RingBuffer
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	wake          chan struct{}
}

// Option configures the Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		p.flushInterval = d
	}
}

// New creates a security publisher. Call Run to start draining.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        NewRingBuffer(defaultBufferSize),
		logger:        slog.Default(),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enqueues event without blocking.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	p.buffer.Enqueue(event)
	if p.buffer.Len() >= p.batchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left
// using a short detached deadline.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.wake:
			p.Flush(ctx)
		}
	}
}

// Flush persists everything currently buffered. Persistence failures are
// logged and the failed events are dropped.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				p.logger.WarnContext(ctx, "failed to persist security audit event",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}
