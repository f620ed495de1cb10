// Package screening resolves wallet compliance scores from an external
// address-screening provider.
//
// The ledger only enforces thresholds on a 0-100 score; this package produces
// that score. Oracle implementations:
//   - Client: HTTP client for a Range-style screening API
//   - CachedOracle: wraps an Oracle with a result cache and serves stale
//     results while the provider's circuit is open
//   - Static: fixed score for development
package screening

import (
	"context"
	"time"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
)

// StaleLimit bounds how old a cached result may be and still be served while
// the provider is failing. It matches the ledger's screening validity window.
const StaleLimit = models.ScreeningValidity

// Provider names reported in Result.Provider.
const (
	ProviderRange  = "range"
	ProviderStatic = "static"
)

// Result is one screening verdict for a wallet.
type Result struct {
	Wallet     address.Address  `json:"wallet"`
	Score      uint8            `json:"score"`
	RiskLevel  models.RiskLevel `json:"risk_level"`
	Sanctioned bool             `json:"sanctioned"`
	Flagged    bool             `json:"flagged"`
	Provider   string           `json:"provider"`
	CheckedAt  time.Time        `json:"checked_at"`
	// Cached is set when the result was served from the cache.
	Cached bool `json:"cached"`
}

// EffectiveScore is the score the ledger should enforce. A sanctioned wallet
// always scores zero regardless of what the provider reported.
func (r *Result) EffectiveScore() uint8 {
	if r.Sanctioned {
		return 0
	}
	return r.Score
}

// Age reports how long ago the result was produced.
func (r *Result) Age(now time.Time) time.Duration {
	return now.Sub(r.CheckedAt)
}

// Oracle screens a wallet.
type Oracle interface {
	Screen(ctx context.Context, wallet address.Address) (*Result, error)
}
