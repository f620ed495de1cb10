package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"paygate/internal/confidential"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/store"
	dErrors "paygate/pkg/domain-errors"
	"paygate/pkg/platform/audit"
	"paygate/pkg/requestcontext"
)

// ProcessPaymentCommand describes one salary payment. The amounts are used
// for validation and logging only and are never persisted.
type ProcessPaymentCommand struct {
	Payroll                     address.Address
	Employee                    address.Address
	SalaryAmount                uint64
	TaxAmount                   uint64
	PaymentTimestamp            int64
	EmployerConfidentialAccount address.Address
	TaxConfidentialAccount      address.Address
	EmployeeConfidentialAccount address.Address
	ConfidentialProgram         address.Address
}

// VerifyProofCommand certifies a payment record.
type VerifyProofCommand struct {
	Payment                address.Address
	TaxConfidentialAccount address.Address
}

// ProcessPayment issues a payment record at (employee, timestamp). Checks run
// in order: authority, amounts, clock skew, membership, active, screening
// freshness, confidential references.
func (s *Service) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (record *models.PaymentRecord, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opProcessPayment,
		attribute.String("employee", cmd.Employee.String()),
		attribute.Int64("payment_timestamp", cmd.PaymentTimestamp),
	)
	defer func() { s.finish(span, opProcessPayment, start, err) }()

	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}

	claim := models.PaymentClaim{
		SalaryAmount: cmd.SalaryAmount,
		TaxAmount:    cmd.TaxAmount,
		Timestamp:    cmd.PaymentTimestamp,
	}
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payroll, err := loadPayroll(ctx, tx, cmd.Payroll)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, payroll, opProcessPayment); err != nil {
			return err
		}
		if err := claim.Validate(now); err != nil {
			return err
		}

		employee, err := loadEmployee(ctx, tx, cmd.Employee)
		if err != nil {
			return err
		}
		if err := s.checkMembership(ctx, payroll, employee, opProcessPayment); err != nil {
			return err
		}
		if !employee.IsActive {
			return models.ErrEmployeeNotActive
		}
		if !employee.ScreeningValid(now) {
			return models.ErrScreeningExpired
		}
		if cmd.EmployeeConfidentialAccount != employee.ConfidentialAccount ||
			cmd.ConfidentialProgram != payroll.ConfidentialProgram {
			return models.ErrInvalidConfidentialAccount
		}
		if err := payroll.IncrementPayments(); err != nil {
			return err
		}

		addr := s.deriver.Payment(employee.Address, cmd.PaymentTimestamp)
		record = models.NewPaymentRecord(addr, employee.Address, cmd.PaymentTimestamp,
			cmd.TaxConfidentialAccount, employee.ConfidentialAccount)
		err = tx.Create(ctx, &store.Account{
			Address: addr,
			Kind:    models.KindPayment,
			Owner:   employee.Address,
			Data:    models.EncodePayment(record),
		})
		if err != nil {
			return translate(err, nil, models.ErrPaymentExists, "failed to create payment record")
		}
		if err := savePayroll(ctx, tx, payroll); err != nil {
			return err
		}
		return s.logAudit(ctx, audit.EventPaymentRecorded, addr, string(models.PaymentStatusIssued),
			"payroll", payroll.Address.String(),
			"employee", employee.Address.String(),
			"employer_confidential_account", cmd.EmployerConfidentialAccount.String(),
			"payment_timestamp", cmd.PaymentTimestamp,
			"net_amount", claim.NetAmount(),
			"payment_count", payroll.PaymentCount,
		)
	})
	if err != nil {
		return nil, translate(err, nil, models.ErrPaymentExists, "failed to process payment")
	}
	return record, nil
}

// VerifyProof marks a payment record verified once the confidential-transfer
// subsystem attests the tax account holds the transfer. Any authenticated
// caller may verify; the transition happens at most once.
func (s *Service) VerifyProof(ctx context.Context, cmd VerifyProofCommand) (record *models.PaymentRecord, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opVerifyProof, attribute.String("payment", cmd.Payment.String()))
	defer func() { s.finish(span, opVerifyProof, start, err) }()

	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	current, err := loadPayment(ctx, s.ledger, cmd.Payment)
	if err != nil {
		return nil, err
	}
	if err := current.CanVerify(cmd.TaxConfidentialAccount); err != nil {
		return nil, err
	}
	if err := s.checkTransfer(ctx, current.TaxConfidentialAccount); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := loadPayment(ctx, tx, cmd.Payment)
		if err != nil {
			return err
		}
		if err := rec.CanVerify(cmd.TaxConfidentialAccount); err != nil {
			return err
		}
		rec.ApplyVerification(caller, now)
		record = rec
		err = tx.Update(ctx, &store.Account{
			Address: record.Address,
			Kind:    models.KindPayment,
			Owner:   record.Employee,
			Data:    models.EncodePayment(record),
		})
		if err != nil {
			return translate(err, models.ErrPaymentNotFound, nil, "failed to update payment record")
		}
		return s.logAudit(ctx, audit.EventPaymentVerified, record.Address, string(models.PaymentStatusVerified),
			"employee", record.Employee.String(),
			"verifier", caller.String(),
		)
	})
	if err != nil {
		return nil, translate(err, nil, nil, "failed to verify payment")
	}
	return record, nil
}

// checkTransfer asks the confidential-transfer subsystem about the tax
// account. The ledger trusts the subsystem's own proof validation and only
// maps its verdict.
func (s *Service) checkTransfer(ctx context.Context, account address.Address) error {
	if s.inspector == nil {
		return dErrors.New(dErrors.CodeUnavailable, "confidential transfer subsystem not configured")
	}
	state, err := s.inspector.Inspect(ctx, account)
	if err != nil {
		return translate(err, nil, nil, "confidential account lookup failed")
	}
	if !state.HoldsData() {
		return models.ErrInvalidConfidentialAccount
	}
	switch state.ProofStatus {
	case confidential.ProofStatusRejected:
		return models.ErrProofVerificationFailed
	case confidential.ProofStatusInsufficientFunds:
		return models.ErrInsufficientBalance
	}
	return nil
}

// GetPayment returns a committed payment record.
func (s *Service) GetPayment(ctx context.Context, addr address.Address) (*models.PaymentRecord, error) {
	return loadPayment(ctx, s.ledger, addr)
}

// ListPayments returns an employee's payment records in issuance order.
func (s *Service) ListPayments(ctx context.Context, employeeAddr address.Address) ([]*models.PaymentRecord, error) {
	if _, err := loadEmployee(ctx, s.ledger, employeeAddr); err != nil {
		return nil, err
	}
	accounts, err := s.ledger.ListByOwner(ctx, employeeAddr, models.KindPayment)
	if err != nil {
		return nil, translate(err, nil, nil, "failed to list payment records")
	}
	records := make([]*models.PaymentRecord, 0, len(accounts))
	for _, acct := range accounts {
		rec, err := models.DecodePayment(acct.Address, acct.Data)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode payment record")
		}
		records = append(records, rec)
	}
	return records, nil
}
