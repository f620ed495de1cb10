package handler

import (
	"time"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/screening"
	"paygate/pkg/platform/audit"
)

// PayrollResponse is the public view of a payroll.
type PayrollResponse struct {
	Address             address.Address `json:"address"`
	Authority           address.Address `json:"authority"`
	TaxAuthority        address.Address `json:"tax_authority"`
	TaxRateBps          uint16          `json:"tax_rate_bps"`
	ConfidentialProgram address.Address `json:"confidential_program"`
	EmployeeCount       uint32          `json:"employee_count"`
	PaymentCount        uint64          `json:"payment_count"`
}

func toPayrollResponse(p *models.Payroll) *PayrollResponse {
	return &PayrollResponse{
		Address:             p.Address,
		Authority:           p.Authority,
		TaxAuthority:        p.TaxAuthority,
		TaxRateBps:          p.TaxRateBps,
		ConfidentialProgram: p.ConfidentialProgram,
		EmployeeCount:       p.EmployeeCount,
		PaymentCount:        p.PaymentCount,
	}
}

// EmployeeResponse adds the derived compliance view to the stored employee.
type EmployeeResponse struct {
	Address             address.Address   `json:"address"`
	Payroll             address.Address   `json:"payroll"`
	EmployeeID          string            `json:"employee_id"`
	Name                string            `json:"name"`
	Wallet              address.Address   `json:"wallet"`
	SalaryCommitment    models.Commitment `json:"salary_commitment"`
	ScreeningScore      uint8             `json:"screening_score"`
	RiskLevel           models.RiskLevel  `json:"risk_level"`
	LastScreened        time.Time         `json:"last_screened"`
	ScreeningExpiresAt  time.Time         `json:"screening_expires_at"`
	ScreeningValid      bool              `json:"screening_valid"`
	IsActive            bool              `json:"is_active"`
	ConfidentialAccount address.Address   `json:"confidential_account"`
}

func toEmployeeResponse(e *models.Employee, now time.Time) *EmployeeResponse {
	return &EmployeeResponse{
		Address:             e.Address,
		Payroll:             e.Payroll,
		EmployeeID:          e.EmployeeID,
		Name:                e.Name,
		Wallet:              e.Wallet,
		SalaryCommitment:    e.SalaryCommitment,
		ScreeningScore:      e.ScreeningScore,
		RiskLevel:           e.RiskLevel(),
		LastScreened:        time.Unix(e.LastScreened, 0).UTC(),
		ScreeningExpiresAt:  e.ScreeningExpiresAt().UTC(),
		ScreeningValid:      e.ScreeningValid(now),
		IsActive:            e.IsActive,
		ConfidentialAccount: e.ConfidentialAccount,
	}
}

type EmployeeListResponse struct {
	Employees []*EmployeeResponse `json:"employees"`
}

// PaymentResponse is the public view of a payment record. It never carries
// amounts because none are stored.
type PaymentResponse struct {
	Address                     address.Address      `json:"address"`
	Employee                    address.Address      `json:"employee"`
	Timestamp                   int64                `json:"timestamp"`
	Status                      models.PaymentStatus `json:"status"`
	TaxConfidentialAccount      address.Address      `json:"tax_confidential_account"`
	EmployeeConfidentialAccount address.Address      `json:"employee_confidential_account"`
	VerifiedAt                  *time.Time           `json:"verified_at,omitempty"`
	Verifier                    *address.Address     `json:"verifier,omitempty"`
}

func toPaymentResponse(rec *models.PaymentRecord) *PaymentResponse {
	resp := &PaymentResponse{
		Address:                     rec.Address,
		Employee:                    rec.Employee,
		Timestamp:                   rec.Timestamp,
		Status:                      rec.Status(),
		TaxConfidentialAccount:      rec.TaxConfidentialAccount,
		EmployeeConfidentialAccount: rec.EmployeeConfidentialAccount,
	}
	if rec.Verified {
		at := time.Unix(rec.VerifiedAt, 0).UTC()
		verifier := rec.Verifier
		resp.VerifiedAt = &at
		resp.Verifier = &verifier
	}
	return resp
}

type PaymentListResponse struct {
	Payments []*PaymentResponse `json:"payments"`
}

// AddressResponse answers derivation queries.
type AddressResponse struct {
	Kind          string          `json:"kind"`
	Address       address.Address `json:"address"`
	SchemeVersion uint8           `json:"scheme_version"`
}

// ScreeningResponse is an oracle verdict for a wallet.
type ScreeningResponse struct {
	Wallet         address.Address  `json:"wallet"`
	Score          uint8            `json:"score"`
	EffectiveScore uint8            `json:"effective_score"`
	RiskLevel      models.RiskLevel `json:"risk_level"`
	Sanctioned     bool             `json:"sanctioned"`
	Flagged        bool             `json:"flagged"`
	Passes         bool             `json:"passes"`
	Provider       string           `json:"provider"`
	CheckedAt      time.Time        `json:"checked_at"`
	Cached         bool             `json:"cached"`
}

func toScreeningResponse(r *screening.Result) *ScreeningResponse {
	effective := r.EffectiveScore()
	return &ScreeningResponse{
		Wallet:         r.Wallet,
		Score:          r.Score,
		EffectiveScore: effective,
		RiskLevel:      r.RiskLevel,
		Sanctioned:     r.Sanctioned,
		Flagged:        r.Flagged,
		Passes:         effective >= models.ScreeningThreshold,
		Provider:       r.Provider,
		CheckedAt:      r.CheckedAt,
		Cached:         r.Cached,
	}
}

// AuditEventResponse is an operator view of one audit event.
type AuditEventResponse struct {
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
}

type AuditListResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func toAuditListResponse(events []audit.Event) *AuditListResponse {
	out := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEventResponse{
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			Subject:   e.Subject,
			Action:    e.Action,
			Decision:  e.Decision,
			Reason:    e.Reason,
			RequestID: e.RequestID,
			ActorID:   e.ActorID,
		})
	}
	return &AuditListResponse{Events: out}
}
