package confidential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/payroll/address"
	dErrors "paygate/pkg/domain-errors"
)

func account(b byte) address.Address {
	var a address.Address
	a[0] = b
	return a
}

func TestClientInspect(t *testing.T) {
	known := account(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/" + known.String():
			_, _ = w.Write([]byte(`{"data_len": 286, "proof_status": "rejected"}`))
		case "/accounts/" + account(2).String():
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	t.Run("existing account", func(t *testing.T) {
		state, err := client.Inspect(context.Background(), known)
		require.NoError(t, err)
		assert.True(t, state.HoldsData())
		assert.Equal(t, 286, state.DataLen)
		assert.Equal(t, ProofStatusRejected, state.ProofStatus)
	})

	t.Run("missing account is not an error", func(t *testing.T) {
		state, err := client.Inspect(context.Background(), account(2))
		require.NoError(t, err)
		assert.False(t, state.Exists)
		assert.False(t, state.HoldsData())
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		_, err := client.Inspect(context.Background(), account(3))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(account(1), 64, ProofStatusAccepted)
	reg.Register(account(2), 0, ProofStatusAccepted)

	state, err := reg.Inspect(context.Background(), account(1))
	require.NoError(t, err)
	assert.True(t, state.HoldsData())

	state, err = reg.Inspect(context.Background(), account(2))
	require.NoError(t, err)
	assert.False(t, state.HoldsData(), "empty account")

	state, err = reg.Inspect(context.Background(), account(3))
	require.NoError(t, err)
	assert.False(t, state.Exists)
}

func TestParseProofStatus(t *testing.T) {
	assert.Equal(t, ProofStatusInsufficientFunds, ParseProofStatus("insufficient_funds"))
	assert.Equal(t, ProofStatusUnknown, ParseProofStatus("pending"))
}
