package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// RiskLevel buckets a 0-100 screening score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// RiskLevelForScore maps >= 70 to low, >= 40 to medium and the rest to high.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskLevelLow
	case score >= 40:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// ParseRiskLevel accepts the three level names case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLevelLow:
		return RiskLevelLow, true
	case RiskLevelMedium:
		return RiskLevelMedium, true
	case RiskLevelHigh:
		return RiskLevelHigh, true
	}
	return "", false
}

// Commitment is an opaque 32-byte salary commitment. The ledger never
// interprets it.
type Commitment [32]byte

func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Commitment) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(text)), "0x")
	if len(s) != 64 {
		return fmt.Errorf("salary commitment must be 64 hex characters, got %d", len(s))
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return fmt.Errorf("salary commitment is not valid hex: %w", err)
	}
	return nil
}

// PlaceholderCommitment writes amountMicros little-endian into the first 8
// bytes. It hides nothing and exists for development fixtures only.
func PlaceholderCommitment(amountMicros uint64) Commitment {
	var c Commitment
	binary.LittleEndian.PutUint64(c[:8], amountMicros)
	return c
}
