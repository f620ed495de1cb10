// Package consumer turns audit records consumed from Kafka back into stored
// audit events.
package consumer

import (
	"context"
	"log/slog"

	"paygate/internal/platform/kafka/consumer"
)

// TopicHandler handles the records of one topic.
type TopicHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// Router picks a TopicHandler by msg.Topic. Records on unregistered topics go
// to the fallback, or are logged and committed when there is none.
type Router struct {
	byTopic  map[string]TopicHandler
	fallback TopicHandler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger, fallback TopicHandler) *Router {
	return &Router{
		byTopic:  make(map[string]TopicHandler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register binds handler to topic, replacing any earlier binding.
func (r *Router) Register(topic string, handler TopicHandler) {
	r.byTopic[topic] = handler
}

func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	if h, ok := r.byTopic[msg.Topic]; ok {
		return h.Handle(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg)
	}
	r.logger.WarnContext(ctx, "skipping record on unrouted topic",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
