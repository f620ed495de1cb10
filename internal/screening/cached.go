package screening

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paygate/internal/payroll/address"
	"paygate/pkg/platform/circuit"
	"paygate/pkg/platform/sentinel"
)

// CachedOracle serves fresh cached results, otherwise asks the primary
// oracle. When the primary keeps failing the circuit opens and results up to
// StaleLimit old are served instead of an error.
type CachedOracle struct {
	primary Oracle
	cache   Cache
	breaker *circuit.Breaker
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// CachedOption configures a CachedOracle.
type CachedOption func(*CachedOracle)

func WithLogger(logger *slog.Logger) CachedOption {
	return func(o *CachedOracle) {
		o.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) CachedOption {
	return func(o *CachedOracle) {
		o.breaker = b
	}
}

func WithClock(now func() time.Time) CachedOption {
	return func(o *CachedOracle) {
		o.now = now
	}
}

// NewCachedOracle wraps primary. ttl is how long a result counts as fresh.
func NewCachedOracle(primary Oracle, cache Cache, ttl time.Duration, opts ...CachedOption) *CachedOracle {
	o := &CachedOracle{
		primary: primary,
		cache:   cache,
		breaker: circuit.New("screening"),
		ttl:     ttl,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *CachedOracle) Screen(ctx context.Context, wallet address.Address) (*Result, error) {
	now := o.now()
	cached, err := o.cache.Get(ctx, wallet)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		o.logger.WarnContext(ctx, "screening cache read failed", "error", err)
	}
	if cached != nil && cached.Age(now) <= o.ttl {
		cached.Cached = true
		return cached, nil
	}

	result, err := o.primary.Screen(ctx, wallet)
	if err != nil {
		useFallback, change := o.breaker.RecordFailure()
		if change.Opened {
			o.logger.WarnContext(ctx, "screening circuit opened", "breaker", o.breaker.Name())
		}
		if useFallback && cached != nil && cached.Age(now) <= StaleLimit {
			o.logger.WarnContext(ctx, "serving stale screening result",
				"wallet", wallet.String(),
				"age", cached.Age(now).String(),
			)
			cached.Cached = true
			return cached, nil
		}
		return nil, err
	}

	if _, change := o.breaker.RecordSuccess(); change.Closed {
		o.logger.InfoContext(ctx, "screening circuit closed", "breaker", o.breaker.Name())
	}
	if err := o.cache.Set(ctx, result); err != nil {
		o.logger.WarnContext(ctx, "screening cache write failed", "error", err)
	}
	return result, nil
}
