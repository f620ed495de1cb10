// Package consumer runs a franz-go consumer group loop with manual commits.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultRetryInitial = 100 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// Config holds consumer group settings.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string

	// RetryInitial and RetryMax bound the backoff between attempts at a
	// record whose handler failed. Zero selects the defaults.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Handler processes one message. A failed message is retried with backoff
// until it succeeds or the consumer stops; offsets never pass it.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer polls its topics and commits offsets after each handled batch.
type Consumer struct {
	client       *kgo.Client
	handler      Handler
	logger       *slog.Logger
	retryInitial time.Duration
	retryMax     time.Duration
}

// New joins the consumer group.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("consumer group id is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := &Consumer{
		client:       client,
		handler:      handler,
		logger:       logger,
		retryInitial: cfg.RetryInitial,
		retryMax:     cfg.RetryMax,
	}
	if c.retryInitial <= 0 {
		c.retryInitial = defaultRetryInitial
	}
	if c.retryMax <= 0 {
		c.retryMax = defaultRetryMax
	}
	return c, nil
}

// Run consumes until ctx is cancelled. Handler and commit failures are logged
// and retried, never returned.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		stopped := false
		fetches.EachRecord(func(r *kgo.Record) {
			if stopped {
				return
			}
			err := c.handleWithRetry(ctx, &Message{
				Topic:     r.Topic,
				Partition: r.Partition,
				Offset:    r.Offset,
				Key:       r.Key,
				Value:     r.Value,
			})
			stopped = err != nil
		})
		if stopped {
			// Uncommitted records are redelivered to the next group member.
			return nil
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "kafka offset commit failed", "error", err)
		}
	}
}

// handleWithRetry returns only once msg is handled or ctx is done.
func (c *Consumer) handleWithRetry(ctx context.Context, msg *Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return c.handler.Handle(ctx, msg)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.ErrorContext(ctx, "kafka record handler failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	})
}
