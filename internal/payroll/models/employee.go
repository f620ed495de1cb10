package models

import (
	"time"

	"paygate/internal/payroll/address"
)

const (
	// ScreeningThreshold is the minimum score to create or keep an active employee.
	ScreeningThreshold uint8 = 50
	// MaxScreeningScore is the top of the oracle's 0-100 scale.
	MaxScreeningScore uint8 = 100
	// ScreeningValidity is how long a screening result gates payments.
	ScreeningValidity = 24 * time.Hour

	MaxEmployeeIDLen   = 64
	MaxEmployeeNameLen = 128
)

// Employee links a wallet and confidential account to a payroll and carries
// the compliance state that gates payments.
//
// Invariants:
//   - len(EmployeeID) <= 64 and len(Name) <= 128 bytes
//   - ScreeningScore <= 100; creation requires ScreeningScore >= 50
//   - Payroll equals the owning payroll's address
//   - IsActive only moves true -> false (manual or compliance deactivation)
//   - Records are never deleted; removed employees stay inactive
type Employee struct {
	Address             address.Address `json:"address"`
	Payroll             address.Address `json:"payroll"`
	EmployeeID          string          `json:"employee_id"`
	Name                string          `json:"name"`
	Wallet              address.Address `json:"wallet"`
	SalaryCommitment    Commitment      `json:"salary_commitment"`
	ScreeningScore      uint8           `json:"screening_score"`
	LastScreened        int64           `json:"last_screened"`
	IsActive            bool            `json:"is_active"`
	ConfidentialAccount address.Address `json:"confidential_account"`
	// Bump records the address derivation scheme version.
	Bump uint8 `json:"bump"`
}

// EmployeeParams carries the caller-supplied fields of a new employee.
type EmployeeParams struct {
	EmployeeID          string
	Name                string
	Wallet              address.Address
	SalaryCommitment    Commitment
	ScreeningScore      uint8
	ConfidentialAccount address.Address
}

// ValidateEmployeeIdentity checks the id and name bounds.
func ValidateEmployeeIdentity(employeeID, name string) error {
	if len(employeeID) > MaxEmployeeIDLen {
		return ErrEmployeeIDTooLong
	}
	if len(name) > MaxEmployeeNameLen {
		return ErrEmployeeNameTooLong
	}
	return nil
}

// NewEmployee validates params and returns an active employee screened at now.
func NewEmployee(addr, payroll address.Address, params EmployeeParams, now time.Time) (*Employee, error) {
	if err := ValidateEmployeeIdentity(params.EmployeeID, params.Name); err != nil {
		return nil, err
	}
	if params.ScreeningScore > MaxScreeningScore {
		return nil, ErrInvalidScreeningScore
	}
	if params.ScreeningScore < ScreeningThreshold {
		return nil, ErrScreeningFailed
	}
	return &Employee{
		Address:             addr,
		Payroll:             payroll,
		EmployeeID:          params.EmployeeID,
		Name:                params.Name,
		Wallet:              params.Wallet,
		SalaryCommitment:    params.SalaryCommitment,
		ScreeningScore:      params.ScreeningScore,
		LastScreened:        now.Unix(),
		IsActive:            true,
		ConfidentialAccount: params.ConfidentialAccount,
		Bump:                address.SchemeVersion,
	}, nil
}

// BelongsTo reports whether the employee is registered under payroll.
func (e *Employee) BelongsTo(payroll address.Address) bool {
	return e.Payroll == payroll
}

// ApplyScreening records a new score. A score below the threshold
// deactivates the employee; deactivated reports whether that happened on
// this call.
func (e *Employee) ApplyScreening(score uint8, now time.Time) (deactivated bool, err error) {
	if score > MaxScreeningScore {
		return false, ErrInvalidScreeningScore
	}
	e.ScreeningScore = score
	e.LastScreened = now.Unix()
	if score < ScreeningThreshold && e.IsActive {
		e.IsActive = false
		return true, nil
	}
	return false, nil
}

// CanDeactivate checks the employee can be manually deactivated.
// Use with ApplyDeactivation inside a transaction callback.
func (e *Employee) CanDeactivate() error {
	if !e.IsActive {
		return ErrEmployeeNotActive
	}
	return nil
}

// ApplyDeactivation marks the employee inactive. Call CanDeactivate first.
func (e *Employee) ApplyDeactivation() {
	e.IsActive = false
}

// ScreeningValid reports whether the last screening is still inside the
// validity window at now.
func (e *Employee) ScreeningValid(now time.Time) bool {
	return now.Unix()-e.LastScreened < int64(ScreeningValidity/time.Second)
}

// ScreeningExpiresAt is the first instant at which payments are refused.
func (e *Employee) ScreeningExpiresAt() time.Time {
	return time.Unix(e.LastScreened, 0).Add(ScreeningValidity)
}

// RiskLevel classifies the stored screening score.
func (e *Employee) RiskLevel() RiskLevel {
	return RiskLevelForScore(int(e.ScreeningScore))
}
