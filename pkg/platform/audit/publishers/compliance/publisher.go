// Package compliance provides a fail-closed audit publisher for ledger events.
//
// Events are written synchronously. When the store is the PostgreSQL outbox
// and the context carries a transaction, the event commits or rolls back with
// the ledger write. If the write fails the caller's operation must fail.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "paygate/pkg/platform/audit"
)

var (
	errMissingSubject = errors.New("compliance event requires Subject")
	errMissingAction  = errors.New("compliance event requires Action")
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func validate(event audit.ComplianceEvent) error {
	switch {
	case event.Subject == "":
		return errMissingSubject
	case event.Action == "":
		return errMissingAction
	}
	return nil
}

// Emit persists event before returning. A zero Timestamp is stamped with the
// current time.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	if err := validate(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	start := time.Now()
	err := p.store.Append(ctx, event.ToEvent())
	p.observe(ctx, event, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}
	return nil
}

func (p *Publisher) observe(ctx context.Context, event audit.ComplianceEvent, took time.Duration, err error) {
	if err == nil {
		if p.metrics != nil {
			p.metrics.ObservePersistDuration(took.Seconds())
			p.metrics.IncEventsEmitted()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.IncPersistFailures()
	}
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
	}
}
