package confidential

import (
	"context"
	"sync"

	"paygate/internal/payroll/address"
)

// Registry is an in-process Inspector for development and tests. Accounts
// are unknown until registered.
type Registry struct {
	mu       sync.RWMutex
	accounts map[address.Address]AccountState
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[address.Address]AccountState)}
}

// Register records an initialized account with the given proof verdict.
func (r *Registry) Register(account address.Address, dataLen int, status ProofStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account] = AccountState{
		Account:     account,
		Exists:      true,
		DataLen:     dataLen,
		ProofStatus: status,
	}
}

func (r *Registry) Inspect(_ context.Context, account address.Address) (*AccountState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.accounts[account]
	if !ok {
		return &AccountState{Account: account, ProofStatus: ProofStatusUnknown}, nil
	}
	return &state, nil
}
