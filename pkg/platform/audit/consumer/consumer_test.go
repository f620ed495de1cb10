package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/platform/kafka/consumer"
	audit "paygate/pkg/platform/audit"
	auditpostgres "paygate/pkg/platform/audit/store/postgres"
)

type recordingStore struct {
	ids    []uuid.UUID
	events []audit.Event
	err    error
}

func (s *recordingStore) AppendWithID(_ context.Context, id uuid.UUID, event audit.Event) error {
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, id)
	s.events = append(s.events, event)
	return nil
}

type countingHandler struct{ calls int }

func (h *countingHandler) Handle(context.Context, *consumer.Message) error {
	h.calls++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payloadMessage(t *testing.T, p auditpostgres.Payload) *consumer.Message {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &consumer.Message{Topic: "paygate.audit", Value: raw}
}

func TestEventsHandlerMaterializesPayload(t *testing.T) {
	store := &recordingStore{}
	h := NewEventsHandler(store, discardLogger())
	id := uuid.New()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := h.Handle(context.Background(), payloadMessage(t, auditpostgres.Payload{
		ID:        id.String(),
		Category:  string(audit.CategoryCompliance),
		Timestamp: ts.Format(time.RFC3339Nano),
		Subject:   "aa",
		Action:    string(audit.EventPaymentVerified),
		Decision:  "verified",
		ActorID:   "bb",
	}))
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, id, store.ids[0])
	assert.Equal(t, ts, store.events[0].Timestamp)
	assert.Equal(t, "verified", store.events[0].Decision)
	assert.Equal(t, audit.CategoryCompliance, store.events[0].Category)
}

func TestEventsHandlerSkipsPoisonMessages(t *testing.T) {
	store := &recordingStore{}
	h := NewEventsHandler(store, discardLogger())

	tests := []struct {
		name string
		msg  *consumer.Message
	}{
		{"not json", &consumer.Message{Value: []byte("{")}},
		{"bad id", payloadMessage(t, auditpostgres.Payload{ID: "nope", Action: "x"})},
		{"no action", payloadMessage(t, auditpostgres.Payload{ID: uuid.NewString()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, h.Handle(context.Background(), tt.msg))
		})
	}
	assert.Empty(t, store.events)
}

func TestEventsHandlerSurfacesStoreErrors(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	h := NewEventsHandler(store, discardLogger())

	err := h.Handle(context.Background(), payloadMessage(t, auditpostgres.Payload{
		ID:     uuid.NewString(),
		Action: string(audit.EventEmployeeAdded),
	}))
	assert.Error(t, err)
}

func TestRouterDispatchesByTopic(t *testing.T) {
	audits := &countingHandler{}
	fallback := &countingHandler{}
	r := NewRouter(discardLogger(), fallback)
	r.Register("paygate.audit", audits)

	require.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "paygate.audit"}))
	require.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "other"}))

	assert.Equal(t, 1, audits.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestRouterWithoutFallbackCommitsUnknownTopics(t *testing.T) {
	r := NewRouter(discardLogger(), nil)
	assert.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "other"}))
}
