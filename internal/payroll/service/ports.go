package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"paygate/internal/confidential"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/store"
	"paygate/internal/screening"
	"paygate/pkg/platform/audit"
)

// Ledger reads committed records.
type Ledger interface {
	Get(ctx context.Context, addr address.Address) (*store.Account, error)
	ListByOwner(ctx context.Context, owner address.Address, kind models.Kind) ([]*store.Account, error)
}

// LedgerTx provides the atomic boundary for every mutation. The context
// passed to fn may carry backend transaction state and must be used for all
// work inside fn, including audit emission.
type LedgerTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
}

// ScreeningOracle resolves a wallet's compliance score when the caller does
// not supply one.
type ScreeningOracle interface {
	Screen(ctx context.Context, wallet address.Address) (*screening.Result, error)
}

// AccountInspector reports what the confidential-transfer subsystem attests
// about an account.
type AccountInspector interface {
	Inspect(ctx context.Context, account address.Address) (*confidential.AccountState, error)
}

// AuditPublisher persists compliance events. Emit failures abort the
// surrounding operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// SecurityPublisher records denied access. Emission never blocks or fails.
type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}
