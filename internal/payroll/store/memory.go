package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	dErrors "paygate/pkg/domain-errors"
)

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

// InMemory is a process-local record store. Transactions hold a single
// store-wide lock and stage their writes, so a callback that fails leaves no
// trace.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[address.Address]*Account
	// seq preserves insertion order for owner listings.
	seq     map[address.Address]uint64
	nextSeq uint64
	timeout time.Duration
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[address.Address]*Account),
		seq:      make(map[address.Address]uint64),
	}
}

// Get reads a committed record.
func (s *InMemory) Get(_ context.Context, addr address.Address) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(acct), nil
}

// ListByOwner returns committed records of kind under owner in creation order.
func (s *InMemory) ListByOwner(_ context.Context, owner address.Address, kind models.Kind) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for addr, acct := range s.accounts {
		if acct.Owner == owner && acct.Kind == kind {
			out = append(out, clone(s.accounts[addr]))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].Address] < s.seq[out[j].Address]
	})
	return out, nil
}

// RunInTx runs fn against a staged view and commits its writes if fn
// returns nil.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	view := &memoryTx{store: s, staged: make(map[address.Address]*Account)}
	if err := fn(ctx, view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	for _, addr := range view.order {
		if _, exists := s.accounts[addr]; !exists {
			s.nextSeq++
			s.seq[addr] = s.nextSeq
		}
		s.accounts[addr] = view.staged[addr]
	}
	return nil
}

// memoryTx runs with the store lock held.
type memoryTx struct {
	store  *InMemory
	staged map[address.Address]*Account
	order  []address.Address
}

func (t *memoryTx) Get(_ context.Context, addr address.Address) (*Account, error) {
	if acct, ok := t.staged[addr]; ok {
		return clone(acct), nil
	}
	acct, ok := t.store.accounts[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(acct), nil
}

func (t *memoryTx) Create(_ context.Context, account *Account) error {
	if _, ok := t.staged[account.Address]; ok {
		return ErrAlreadyUsed
	}
	if _, ok := t.store.accounts[account.Address]; ok {
		return ErrAlreadyUsed
	}
	t.stage(account)
	return nil
}

func (t *memoryTx) Update(_ context.Context, account *Account) error {
	_, staged := t.staged[account.Address]
	_, committed := t.store.accounts[account.Address]
	if !staged && !committed {
		return ErrNotFound
	}
	t.stage(account)
	return nil
}

func (t *memoryTx) stage(account *Account) {
	if _, ok := t.staged[account.Address]; !ok {
		t.order = append(t.order, account.Address)
	}
	t.staged[account.Address] = clone(account)
}
