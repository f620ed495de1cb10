// Package confidential reads account state from the confidential-transfer
// subsystem that moves and hides payment amounts.
//
// The ledger never sees balances or amounts. It only asks whether an account
// exists, whether it holds data, and what the subsystem concluded about the
// most recent transfer proof touching it.
package confidential

import (
	"context"

	"paygate/internal/payroll/address"
)

// ProofStatus is the subsystem's verdict on the latest transfer into an account.
type ProofStatus string

const (
	ProofStatusAccepted          ProofStatus = "accepted"
	ProofStatusRejected          ProofStatus = "rejected"
	ProofStatusInsufficientFunds ProofStatus = "insufficient_funds"
	ProofStatusUnknown           ProofStatus = "unknown"
)

// ParseProofStatus maps unrecognized values to ProofStatusUnknown.
func ParseProofStatus(s string) ProofStatus {
	switch ProofStatus(s) {
	case ProofStatusAccepted, ProofStatusRejected, ProofStatusInsufficientFunds:
		return ProofStatus(s)
	}
	return ProofStatusUnknown
}

// AccountState is what the subsystem attests about one account.
type AccountState struct {
	Account     address.Address `json:"account"`
	Exists      bool            `json:"exists"`
	DataLen     int             `json:"data_len"`
	ProofStatus ProofStatus     `json:"proof_status"`
}

// HoldsData reports whether the account exists and is initialized.
func (s *AccountState) HoldsData() bool {
	return s != nil && s.Exists && s.DataLen > 0
}

// Inspector reads attested account state.
type Inspector interface {
	Inspect(ctx context.Context, account address.Address) (*AccountState, error)
}
