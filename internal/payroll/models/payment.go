package models

import (
	"time"

	"paygate/internal/payroll/address"
)

// ClockSkewTolerance bounds how far a payment timestamp may sit from now.
const ClockSkewTolerance = 300 * time.Second

// PaymentStatus is the externally visible state of a payment record.
type PaymentStatus string

const (
	PaymentStatusIssued   PaymentStatus = "issued"
	PaymentStatusVerified PaymentStatus = "verified"
)

// PaymentRecord attests that a payment to Employee was authorized at
// Timestamp. It is stored at address.Deriver.Payment(Employee, Timestamp).
//
// Invariants:
//   - no salary, tax or net amount is ever stored
//   - Verified moves false -> true exactly once; VerifiedAt and Verifier are
//     zero until then and never change afterwards
type PaymentRecord struct {
	Address                     address.Address `json:"address"`
	Employee                    address.Address `json:"employee"`
	Timestamp                   int64           `json:"timestamp"`
	TaxConfidentialAccount      address.Address `json:"tax_confidential_account"`
	EmployeeConfidentialAccount address.Address `json:"employee_confidential_account"`
	Verified                    bool            `json:"verified"`
	VerifiedAt                  int64           `json:"verified_at"`
	Verifier                    address.Address `json:"verifier"`
}

// PaymentClaim is the transient input of a payment. Amounts live only here.
type PaymentClaim struct {
	SalaryAmount uint64
	TaxAmount    uint64
	Timestamp    int64
}

// Validate checks amount sanity and clock skew against now, in that order.
func (c PaymentClaim) Validate(now time.Time) error {
	if c.SalaryAmount == 0 {
		return ErrInvalidAmount
	}
	if c.TaxAmount > c.SalaryAmount {
		return ErrTaxExceedsSalary
	}
	tolerance := int64(ClockSkewTolerance / time.Second)
	nowUnix := now.Unix()
	if c.Timestamp <= nowUnix-tolerance || c.Timestamp >= nowUnix+tolerance {
		return ErrPaymentClockSkew
	}
	return nil
}

// NetAmount is salary minus tax. Call Validate first.
func (c PaymentClaim) NetAmount() uint64 {
	return c.SalaryAmount - c.TaxAmount
}

// NewPaymentRecord returns an unverified record.
func NewPaymentRecord(addr, employee address.Address, timestamp int64, taxAccount, employeeAccount address.Address) *PaymentRecord {
	return &PaymentRecord{
		Address:                     addr,
		Employee:                    employee,
		Timestamp:                   timestamp,
		TaxConfidentialAccount:      taxAccount,
		EmployeeConfidentialAccount: employeeAccount,
	}
}

// Status reports the state machine position.
func (r *PaymentRecord) Status() PaymentStatus {
	if r.Verified {
		return PaymentStatusVerified
	}
	return PaymentStatusIssued
}

// CanVerify checks the idempotence guard and the tax account reference.
func (r *PaymentRecord) CanVerify(taxAccount address.Address) error {
	if r.Verified {
		return ErrAlreadyVerified
	}
	if taxAccount != r.TaxConfidentialAccount {
		return ErrInvalidConfidentialAccount
	}
	return nil
}

// ApplyVerification performs the terminal Issued -> Verified transition.
// Call CanVerify first.
func (r *PaymentRecord) ApplyVerification(verifier address.Address, now time.Time) {
	r.Verified = true
	r.VerifiedAt = now.Unix()
	r.Verifier = verifier
}
