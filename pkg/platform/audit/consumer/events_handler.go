package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"paygate/internal/platform/kafka/consumer"
	audit "paygate/pkg/platform/audit"
	auditpostgres "paygate/pkg/platform/audit/store/postgres"
)

// EventStore materializes published audit events for querying.
type EventStore interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// EventsHandler writes outbox payloads consumed from Kafka into audit_events.
// Writes are idempotent on the event ID, so redelivery is harmless.
type EventsHandler struct {
	store  EventStore
	logger *slog.Logger
}

// NewEventsHandler creates an audit event handler.
func NewEventsHandler(store EventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		store:  store,
		logger: logger,
	}
}

// Handle materializes one audit event. Malformed messages are logged and
// committed so they cannot block the partition.
func (h *EventsHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload auditpostgres.Payload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.Error("CRITICAL: failed to unmarshal audit payload",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	eventID, err := uuid.Parse(payload.ID)
	if err != nil {
		h.logger.Error("CRITICAL: failed to parse audit event ID",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	event := payload.ToEvent()
	if event.Action == "" {
		h.logger.Error("CRITICAL: audit event missing Action",
			"event_id", eventID,
		)
		return nil
	}
	if event.Timestamp.IsZero() {
		h.logger.Warn("audit event has no parseable timestamp",
			"event_id", eventID,
			"action", event.Action,
		)
	}

	if err := h.store.AppendWithID(ctx, eventID, event); err != nil {
		return fmt.Errorf("store audit event: %w", err)
	}

	h.logger.Debug("stored audit event",
		"event_id", eventID,
		"action", event.Action,
		"subject", event.Subject,
	)
	return nil
}
