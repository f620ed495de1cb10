// Package store persists payroll records as addressed accounts.
//
// Every record lives at a deterministic address (see internal/payroll/address)
// and is stored as its encoded layout together with its kind and the address
// of its parent (authority for payrolls, payroll for employees, employee for
// payments). Uniqueness comes only from create-if-absent on the address.
package store

import (
	"context"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/pkg/platform/sentinel"
)

// Re-exported so callers can match store errors without importing sentinel.
var (
	ErrNotFound    = sentinel.ErrNotFound
	ErrAlreadyUsed = sentinel.ErrAlreadyUsed
	ErrConflict    = sentinel.ErrConflict
)

// Account is one stored record.
type Account struct {
	Address address.Address
	Kind    models.Kind
	Owner   address.Address
	Data    []byte
}

// Tx is the record view inside a transaction. Writes become visible to other
// transactions only when the surrounding RunInTx commits.
type Tx interface {
	// Get returns ErrNotFound when nothing is stored at addr.
	Get(ctx context.Context, addr address.Address) (*Account, error)
	// Create returns ErrAlreadyUsed when addr is taken.
	Create(ctx context.Context, account *Account) error
	// Update returns ErrNotFound when addr is empty.
	Update(ctx context.Context, account *Account) error
}

func clone(a *Account) *Account {
	cp := *a
	cp.Data = append([]byte(nil), a.Data...)
	return &cp
}
