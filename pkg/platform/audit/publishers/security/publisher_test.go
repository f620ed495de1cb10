package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "paygate/pkg/platform/audit"
	"paygate/pkg/platform/audit/store/memory"
)

func denied(subject string) audit.SecurityEvent {
	return audit.SecurityEvent{
		Subject: subject,
		Action:  string(audit.EventAuthorizationDenied),
		Reason:  "unauthorized",
		ActorID: "cc",
	}
}

func TestEmitDoesNotPersistUntilFlush(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)

	pub.Emit(context.Background(), denied("aa"))

	events, _ := store.ListRecent(context.Background(), 10)
	assert.Empty(t, events)

	pub.Flush(context.Background())
	events, _ = store.ListRecent(context.Background(), 10)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, string(audit.SeverityWarning), events[0].Decision)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestBufferDropsOldest(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithBufferSize(2))

	pub.Emit(context.Background(), denied("first"))
	pub.Emit(context.Background(), denied("second"))
	pub.Emit(context.Background(), denied("third"))
	pub.Flush(context.Background())

	assert.Equal(t, int64(1), pub.Dropped())
	first, _ := store.ListBySubject(context.Background(), "first")
	assert.Empty(t, first)
	third, _ := store.ListBySubject(context.Background(), "third")
	assert.Len(t, third, 1)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	pub.Emit(context.Background(), denied("aa"))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	events, _ := store.ListBySubject(context.Background(), "aa")
	assert.Len(t, events, 1)
}

func TestRingBufferDequeueBatch(t *testing.T) {
	b := NewRingBuffer(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Enqueue(denied(s))
	}
	assert.Equal(t, 3, b.Len())

	batch := b.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[0].Subject)
	assert.Equal(t, "c", batch[1].Subject)
	assert.Equal(t, 1, b.Len())
}
