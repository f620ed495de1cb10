package handler

import (
	"fmt"

	"paygate/internal/confidential"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	dErrors "paygate/pkg/domain-errors"
)

// InitializePayrollRequest is the body of POST /payrolls.
type InitializePayrollRequest struct {
	TaxRateBps          *uint32 `json:"tax_rate_bps"`
	TaxAuthority        string  `json:"tax_authority"`
	ConfidentialProgram string  `json:"confidential_program"`

	taxAuthority        address.Address
	confidentialProgram address.Address
}

// Validate implements httputil.Validatable. The tax rate range is checked by
// the service so the rejection carries the ledger's reason.
func (r *InitializePayrollRequest) Validate() error {
	if r.TaxRateBps == nil {
		return dErrors.New(dErrors.CodeValidation, "tax_rate_bps is required")
	}
	var err error
	if r.taxAuthority, err = parseAddress("tax_authority", r.TaxAuthority); err != nil {
		return err
	}
	if r.confidentialProgram, err = parseAddress("confidential_program", r.ConfidentialProgram); err != nil {
		return err
	}
	return nil
}

// AddEmployeeRequest is the body of POST /payrolls/{payroll}/employees.
//
// salary_commitment is the hex commitment produced off-ledger. When it is
// absent salary_amount is folded into a development placeholder commitment.
// A missing screening_score asks the screening oracle.
type AddEmployeeRequest struct {
	EmployeeID          string  `json:"employee_id"`
	Name                string  `json:"name"`
	Wallet              string  `json:"wallet"`
	SalaryCommitment    string  `json:"salary_commitment,omitempty"`
	SalaryAmount        *uint64 `json:"salary_amount,omitempty"`
	ScreeningScore      *int    `json:"screening_score,omitempty"`
	ConfidentialAccount string  `json:"confidential_account"`

	wallet              address.Address
	commitment          models.Commitment
	confidentialAccount address.Address
}

func (r *AddEmployeeRequest) Validate() error {
	// Length bounds live in the service so they are reported after the
	// authority check. The body cap in httputil bounds what reaches it.
	var err error
	if r.wallet, err = parseAddress("wallet", r.Wallet); err != nil {
		return err
	}
	if r.confidentialAccount, err = parseAddress("confidential_account", r.ConfidentialAccount); err != nil {
		return err
	}
	switch {
	case r.SalaryCommitment != "":
		if err := r.commitment.UnmarshalText([]byte(r.SalaryCommitment)); err != nil {
			return dErrors.New(dErrors.CodeValidation, "salary_commitment must be 32 bytes of hex")
		}
	case r.SalaryAmount != nil:
		r.commitment = models.PlaceholderCommitment(*r.SalaryAmount)
	default:
		return dErrors.New(dErrors.CodeValidation, "salary_commitment or salary_amount is required")
	}
	return nil
}

// UpdateScreeningRequest is the body of
// POST /payrolls/{payroll}/employees/{employee}/screening. An empty object
// re-screens through the oracle.
type UpdateScreeningRequest struct {
	ScreeningScore *int `json:"screening_score,omitempty"`
}

func (r *UpdateScreeningRequest) Validate() error {
	return nil
}

// ProcessPaymentRequest is the body of
// POST /payrolls/{payroll}/employees/{employee}/payments. payment_timestamp
// defaults to the request time.
type ProcessPaymentRequest struct {
	SalaryAmount                uint64 `json:"salary_amount"`
	TaxAmount                   uint64 `json:"tax_amount"`
	PaymentTimestamp            *int64 `json:"payment_timestamp,omitempty"`
	EmployerConfidentialAccount string `json:"employer_confidential_account"`
	TaxConfidentialAccount      string `json:"tax_confidential_account"`
	EmployeeConfidentialAccount string `json:"employee_confidential_account"`
	ConfidentialProgram         string `json:"confidential_program"`

	employerAccount address.Address
	taxAccount      address.Address
	employeeAccount address.Address
	program         address.Address
}

func (r *ProcessPaymentRequest) Validate() error {
	fields := []struct {
		name string
		raw  string
		dst  *address.Address
	}{
		{"employer_confidential_account", r.EmployerConfidentialAccount, &r.employerAccount},
		{"tax_confidential_account", r.TaxConfidentialAccount, &r.taxAccount},
		{"employee_confidential_account", r.EmployeeConfidentialAccount, &r.employeeAccount},
		{"confidential_program", r.ConfidentialProgram, &r.program},
	}
	for _, f := range fields {
		a, err := parseAddress(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = a
	}
	return nil
}

// VerifyProofRequest is the body of POST /payments/{payment}/verify.
type VerifyProofRequest struct {
	TaxConfidentialAccount string `json:"tax_confidential_account"`

	taxAccount address.Address
}

func (r *VerifyProofRequest) Validate() error {
	var err error
	r.taxAccount, err = parseAddress("tax_confidential_account", r.TaxConfidentialAccount)
	return err
}

func parseAddress(field, raw string) (address.Address, error) {
	if raw == "" {
		return address.Zero, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is required", field))
	}
	a, err := address.Parse(raw)
	if err != nil {
		return address.Zero, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be a 32-byte hex address", field))
	}
	return a, nil
}

// RegisterAccountRequest is the body of
// PUT /admin/confidential/accounts/{account}. data_len defaults to 1 and
// proof_status to accepted.
type RegisterAccountRequest struct {
	DataLen     *int   `json:"data_len,omitempty"`
	ProofStatus string `json:"proof_status,omitempty"`

	dataLen int
	status  confidential.ProofStatus
}

func (r *RegisterAccountRequest) Validate() error {
	r.dataLen = 1
	if r.DataLen != nil {
		if *r.DataLen < 0 {
			return dErrors.New(dErrors.CodeValidation, "data_len must not be negative")
		}
		r.dataLen = *r.DataLen
	}
	r.status = confidential.ProofStatusAccepted
	if r.ProofStatus != "" {
		r.status = confidential.ParseProofStatus(r.ProofStatus)
		if r.status == confidential.ProofStatusUnknown && r.ProofStatus != string(confidential.ProofStatusUnknown) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown proof_status %q", r.ProofStatus))
		}
	}
	return nil
}
