package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/store"
	"paygate/pkg/platform/audit"
)

// InitializeCommand carries the employer configuration. TaxRateBps is wider
// than the stored u16 so out-of-range input is reported, not truncated.
type InitializeCommand struct {
	TaxRateBps          uint32
	TaxAuthority        address.Address
	ConfidentialProgram address.Address
}

// Initialize creates the caller's payroll with zeroed counters. A second call
// by the same caller fails with ErrPayrollExists.
func (s *Service) Initialize(ctx context.Context, cmd InitializeCommand) (payroll *models.Payroll, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opInitialize, attribute.Int64("tax_rate_bps", int64(cmd.TaxRateBps)))
	defer func() { s.finish(span, opInitialize, start, err) }()

	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.TaxRateBps > uint32(models.MaxTaxRateBps) {
		return nil, models.ErrInvalidTaxRate
	}

	addr := s.deriver.Payroll(caller)
	payroll, err = models.NewPayroll(addr, caller, cmd.TaxAuthority, uint16(cmd.TaxRateBps), cmd.ConfidentialProgram)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		err := tx.Create(ctx, &store.Account{
			Address: addr,
			Kind:    models.KindPayroll,
			Owner:   caller,
			Data:    models.EncodePayroll(payroll),
		})
		if err != nil {
			return translate(err, nil, models.ErrPayrollExists, "failed to create payroll")
		}
		return s.logAudit(ctx, audit.EventPayrollInitialized, addr, "initialized",
			"authority", caller.String(),
			"tax_rate_bps", payroll.TaxRateBps,
		)
	})
	if err != nil {
		return nil, translate(err, nil, models.ErrPayrollExists, "failed to initialize payroll")
	}
	return payroll, nil
}

// GetPayroll returns a committed payroll.
func (s *Service) GetPayroll(ctx context.Context, addr address.Address) (*models.Payroll, error) {
	return loadPayroll(ctx, s.ledger, addr)
}

// PayrollFor returns the payroll owned by authority.
func (s *Service) PayrollFor(ctx context.Context, authority address.Address) (*models.Payroll, error) {
	return loadPayroll(ctx, s.ledger, s.deriver.Payroll(authority))
}
