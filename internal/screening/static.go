package screening

import (
	"context"
	"sync"
	"time"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
)

// Static returns a fixed score for every wallet unless an override is set.
// It is the development oracle used when no provider is configured.
type Static struct {
	score     uint8
	mu        sync.RWMutex
	overrides map[address.Address]uint8
}

func NewStatic(score uint8) *Static {
	if score > models.MaxScreeningScore {
		score = models.MaxScreeningScore
	}
	return &Static{score: score, overrides: make(map[address.Address]uint8)}
}

// Set pins the score reported for one wallet.
func (s *Static) Set(wallet address.Address, score uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[wallet] = score
}

func (s *Static) Screen(_ context.Context, wallet address.Address) (*Result, error) {
	s.mu.RLock()
	score, ok := s.overrides[wallet]
	s.mu.RUnlock()
	if !ok {
		score = s.score
	}
	return &Result{
		Wallet:    wallet,
		Score:     score,
		RiskLevel: models.RiskLevelForScore(int(score)),
		Provider:  ProviderStatic,
		CheckedAt: time.Now().UTC(),
	}, nil
}
