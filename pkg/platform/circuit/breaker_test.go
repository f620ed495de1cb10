package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome bool

const (
	fail outcome = false
	ok   outcome = true
)

func record(b *Breaker, o outcome) (trustPrimary bool, change StateChange) {
	if o == ok {
		return b.RecordSuccess()
	}
	useFallback, change := b.RecordFailure()
	return !useFallback, change
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		sequence  []outcome
		wantState State
		wantTrust bool
		wantOpen  bool
		wantClose bool
	}{
		{
			name:      "stays closed below the failure threshold",
			failures:  3,
			sequence:  []outcome{fail, fail},
			wantState: StateClosed,
			wantTrust: true,
		},
		{
			name:      "opens on the threshold failure",
			failures:  3,
			sequence:  []outcome{fail, fail, fail},
			wantState: StateOpen,
			wantOpen:  true,
		},
		{
			name:      "a success resets the consecutive failure count",
			failures:  2,
			sequence:  []outcome{fail, ok, fail},
			wantState: StateClosed,
			wantTrust: true,
		},
		{
			name:      "open circuit needs consecutive successes to close",
			failures:  1,
			successes: 2,
			sequence:  []outcome{fail, ok},
			wantState: StateOpen,
		},
		{
			name:      "closes on the threshold success",
			failures:  1,
			successes: 2,
			sequence:  []outcome{fail, ok, ok},
			wantState: StateClosed,
			wantTrust: true,
			wantClose: true,
		},
		{
			name:      "a failure while open restarts the success count",
			failures:  1,
			successes: 2,
			sequence:  []outcome{fail, ok, fail, ok},
			wantState: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("screening", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))

			var (
				trust  bool
				change StateChange
			)
			for _, o := range tt.sequence {
				trust, change = record(b, o)
			}

			assert.Equal(t, tt.wantState, b.State())
			assert.Equal(t, tt.wantTrust, trust)
			assert.Equal(t, tt.wantOpen, change.Opened)
			assert.Equal(t, tt.wantClose, change.Closed)
		})
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New("screening", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, "screening", b.Name())

	for i := 0; i < defaultFailureThreshold-1; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("screening", WithFailureThreshold(10))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
