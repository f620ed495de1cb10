package models

import (
	"math"

	"paygate/internal/payroll/address"
)

// MaxTaxRateBps is 100% expressed in basis points.
const MaxTaxRateBps uint16 = 10000

// Payroll is the employer-level aggregate. One exists per authority identity,
// stored at address.Deriver.Payroll(Authority).
//
// Invariants:
//   - TaxRateBps <= MaxTaxRateBps, fixed at creation
//   - EmployeeCount is incremented with overflow checking and decremented
//     with saturation at zero
//   - PaymentCount is incremented with overflow checking
//   - No operation updates Authority, TaxAuthority, TaxRateBps or
//     ConfidentialProgram after creation, and payrolls are never deleted
type Payroll struct {
	Address             address.Address `json:"address"`
	Authority           address.Address `json:"authority"`
	TaxAuthority        address.Address `json:"tax_authority"`
	TaxRateBps          uint16          `json:"tax_rate_bps"`
	ConfidentialProgram address.Address `json:"confidential_program"`
	EmployeeCount       uint32          `json:"employee_count"`
	PaymentCount        uint64          `json:"payment_count"`
}

// NewPayroll builds a payroll with zeroed counters.
func NewPayroll(addr, authority, taxAuthority address.Address, taxRateBps uint16, confidentialProgram address.Address) (*Payroll, error) {
	if taxRateBps > MaxTaxRateBps {
		return nil, ErrInvalidTaxRate
	}
	return &Payroll{
		Address:             addr,
		Authority:           authority,
		TaxAuthority:        taxAuthority,
		TaxRateBps:          taxRateBps,
		ConfidentialProgram: confidentialProgram,
	}, nil
}

// IsAuthority reports whether caller owns this payroll.
func (p *Payroll) IsAuthority(caller address.Address) bool {
	return !caller.IsZero() && p.Authority == caller
}

// IncrementEmployees adds one to EmployeeCount, failing instead of wrapping.
func (p *Payroll) IncrementEmployees() error {
	if p.EmployeeCount == math.MaxUint32 {
		return ErrCounterOverflow
	}
	p.EmployeeCount++
	return nil
}

// DecrementEmployees subtracts one from EmployeeCount, clamping at zero.
func (p *Payroll) DecrementEmployees() {
	if p.EmployeeCount > 0 {
		p.EmployeeCount--
	}
}

// IncrementPayments adds one to PaymentCount, failing instead of wrapping.
func (p *Payroll) IncrementPayments() error {
	if p.PaymentCount == math.MaxUint64 {
		return ErrCounterOverflow
	}
	p.PaymentCount++
	return nil
}
