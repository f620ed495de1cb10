package models

import (
	dErrors "paygate/pkg/domain-errors"
)

// Stable reasons exposed to clients alongside the error code.
const (
	ReasonInvalidTaxRate             = "invalid_tax_rate"
	ReasonInvalidAmount              = "invalid_amount"
	ReasonTaxExceedsSalary           = "tax_exceeds_salary"
	ReasonEmployeeIDTooLong          = "employee_id_too_long"
	ReasonEmployeeNameTooLong        = "employee_name_too_long"
	ReasonInvalidScreeningScore      = "invalid_screening_score"
	ReasonUnauthorized               = "unauthorized"
	ReasonScreeningFailed            = "screening_failed"
	ReasonScreeningExpired           = "screening_expired"
	ReasonEmployeeNotActive          = "employee_not_active"
	ReasonInvalidConfidentialAccount = "invalid_confidential_account"
	ReasonInsufficientBalance        = "insufficient_balance"
	ReasonProofVerificationFailed    = "proof_verification_failed"
	ReasonCounterOverflow            = "counter_overflow"
	ReasonAlreadyVerified            = "already_verified"
	ReasonAlreadyExists              = "already_exists"
	ReasonPayrollNotFound            = "payroll_not_found"
	ReasonEmployeeNotFound           = "employee_not_found"
	ReasonPaymentNotFound            = "payment_not_found"
)

// Validation errors: bad input, nothing read or written.
var (
	ErrInvalidTaxRate = dErrors.New(dErrors.CodeValidation,
		"tax rate cannot exceed 10000 basis points").WithReason(ReasonInvalidTaxRate)
	ErrInvalidAmount = dErrors.New(dErrors.CodeValidation,
		"salary amount must be greater than zero").WithReason(ReasonInvalidAmount)
	// ErrPaymentClockSkew shares the invalid_amount reason with ErrInvalidAmount
	// so existing clients keep classifying skew rejections the same way.
	ErrPaymentClockSkew = dErrors.New(dErrors.CodeValidation,
		"payment timestamp is outside the clock-skew tolerance").WithReason(ReasonInvalidAmount)
	ErrTaxExceedsSalary = dErrors.New(dErrors.CodeValidation,
		"tax amount cannot exceed salary amount").WithReason(ReasonTaxExceedsSalary)
	ErrEmployeeIDTooLong = dErrors.New(dErrors.CodeValidation,
		"employee id must be 64 bytes or less").WithReason(ReasonEmployeeIDTooLong)
	ErrEmployeeNameTooLong = dErrors.New(dErrors.CodeValidation,
		"employee name must be 128 bytes or less").WithReason(ReasonEmployeeNameTooLong)
	ErrInvalidScreeningScore = dErrors.New(dErrors.CodeValidation,
		"screening score must be between 0 and 100").WithReason(ReasonInvalidScreeningScore)
)

// Authorization errors.
var (
	ErrUnauthorized = dErrors.New(dErrors.CodeForbidden,
		"caller is not authorized for this payroll").WithReason(ReasonUnauthorized)
)

// Domain-state errors: the request is well formed but the records do not
// allow it right now.
var (
	ErrScreeningFailed = dErrors.New(dErrors.CodeInvariantViolation,
		"screening score is below the compliance threshold").WithReason(ReasonScreeningFailed)
	ErrScreeningExpired = dErrors.New(dErrors.CodeInvariantViolation,
		"employee screening has expired").WithReason(ReasonScreeningExpired)
	ErrEmployeeNotActive = dErrors.New(dErrors.CodeInvariantViolation,
		"employee is not active").WithReason(ReasonEmployeeNotActive)
	ErrInvalidConfidentialAccount = dErrors.New(dErrors.CodeInvariantViolation,
		"invalid confidential account").WithReason(ReasonInvalidConfidentialAccount)
	ErrInsufficientBalance = dErrors.New(dErrors.CodeInvariantViolation,
		"insufficient confidential balance").WithReason(ReasonInsufficientBalance)
	ErrProofVerificationFailed = dErrors.New(dErrors.CodeInvariantViolation,
		"confidential transfer proof was rejected").WithReason(ReasonProofVerificationFailed)
	ErrCounterOverflow = dErrors.New(dErrors.CodeInvariantViolation,
		"payroll counter overflow").WithReason(ReasonCounterOverflow)
)

// Conflicts.
var (
	ErrAlreadyVerified = dErrors.New(dErrors.CodeConflict,
		"payment has already been verified").WithReason(ReasonAlreadyVerified)
	ErrPayrollExists = dErrors.New(dErrors.CodeConflict,
		"payroll already initialized for this authority").WithReason(ReasonAlreadyExists)
	ErrEmployeeExists = dErrors.New(dErrors.CodeConflict,
		"employee id already registered in this payroll").WithReason(ReasonAlreadyExists)
	ErrPaymentExists = dErrors.New(dErrors.CodeConflict,
		"payment already recorded for this employee and timestamp").WithReason(ReasonAlreadyExists)
)

// Lookups.
var (
	ErrPayrollNotFound = dErrors.New(dErrors.CodeNotFound,
		"payroll not found").WithReason(ReasonPayrollNotFound)
	ErrEmployeeNotFound = dErrors.New(dErrors.CodeNotFound,
		"employee not found").WithReason(ReasonEmployeeNotFound)
	ErrPaymentNotFound = dErrors.New(dErrors.CodeNotFound,
		"payment record not found").WithReason(ReasonPaymentNotFound)
)
