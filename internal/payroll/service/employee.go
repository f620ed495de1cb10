package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/store"
	"paygate/internal/screening"
	dErrors "paygate/pkg/domain-errors"
	"paygate/pkg/platform/audit"
	"paygate/pkg/requestcontext"
)

// AddEmployeeCommand registers an employee under Payroll. A nil
// ScreeningScore asks the screening oracle for the wallet's score.
type AddEmployeeCommand struct {
	Payroll             address.Address
	EmployeeID          string
	Name                string
	Wallet              address.Address
	SalaryCommitment    models.Commitment
	ScreeningScore      *int
	ConfidentialAccount address.Address
}

// UpdateScreeningCommand re-screens an employee. A nil NewScore asks the
// screening oracle.
type UpdateScreeningCommand struct {
	Payroll  address.Address
	Employee address.Address
	NewScore *int
}

// AddEmployee creates an active employee and increments the payroll's
// employee count. Duplicate employee ids fail with ErrEmployeeExists and
// leave the count unchanged.
func (s *Service) AddEmployee(ctx context.Context, cmd AddEmployeeCommand) (employee *models.Employee, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opAddEmployee, attribute.String("payroll", cmd.Payroll.String()))
	defer func() { s.finish(span, opAddEmployee, start, err) }()

	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	payroll, err := loadPayroll(ctx, s.ledger, cmd.Payroll)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, payroll, opAddEmployee); err != nil {
		return nil, err
	}
	if err := models.ValidateEmployeeIdentity(cmd.EmployeeID, cmd.Name); err != nil {
		return nil, err
	}

	score, err := s.resolveScore(ctx, cmd.ScreeningScore, cmd.Wallet)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payroll, err := loadPayroll(ctx, tx, cmd.Payroll)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, payroll, opAddEmployee); err != nil {
			return err
		}

		addr := s.deriver.Employee(payroll.Address, cmd.EmployeeID)
		employee, err = models.NewEmployee(addr, payroll.Address, models.EmployeeParams{
			EmployeeID:          cmd.EmployeeID,
			Name:                cmd.Name,
			Wallet:              cmd.Wallet,
			SalaryCommitment:    cmd.SalaryCommitment,
			ScreeningScore:      score,
			ConfidentialAccount: cmd.ConfidentialAccount,
		}, now)
		if err != nil {
			if dErrors.GetReason(err) == models.ReasonScreeningFailed {
				s.securityEvent(ctx, audit.EventScreeningRejected, addr, models.ReasonScreeningFailed, audit.SeverityInfo)
			}
			return err
		}
		if err := payroll.IncrementEmployees(); err != nil {
			return err
		}

		err = tx.Create(ctx, &store.Account{
			Address: addr,
			Kind:    models.KindEmployee,
			Owner:   payroll.Address,
			Data:    models.EncodeEmployee(employee),
		})
		if err != nil {
			return translate(err, nil, models.ErrEmployeeExists, "failed to create employee")
		}
		if err := savePayroll(ctx, tx, payroll); err != nil {
			return err
		}
		return s.logAudit(ctx, audit.EventEmployeeAdded, addr, "active",
			"payroll", payroll.Address.String(),
			"screening_score", score,
			"employee_count", payroll.EmployeeCount,
		)
	})
	if err != nil {
		return nil, translate(err, nil, models.ErrEmployeeExists, "failed to add employee")
	}
	return employee, nil
}

// UpdateScreening overwrites the score and screening time. A score below the
// threshold deactivates the employee without touching employee_count.
func (s *Service) UpdateScreening(ctx context.Context, cmd UpdateScreeningCommand) (employee *models.Employee, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opUpdateScreening, attribute.String("employee", cmd.Employee.String()))
	defer func() { s.finish(span, opUpdateScreening, start, err) }()

	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	payroll, err := loadPayroll(ctx, s.ledger, cmd.Payroll)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, payroll, opUpdateScreening); err != nil {
		return nil, err
	}

	var wallet address.Address
	if cmd.NewScore == nil {
		current, err := loadEmployee(ctx, s.ledger, cmd.Employee)
		if err != nil {
			return nil, err
		}
		if err := s.checkMembership(ctx, payroll, current, opUpdateScreening); err != nil {
			return nil, err
		}
		wallet = current.Wallet
	}
	score, err := s.resolveScore(ctx, cmd.NewScore, wallet)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var autoDeactivated bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payroll, err := loadPayroll(ctx, tx, cmd.Payroll)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, payroll, opUpdateScreening); err != nil {
			return err
		}
		employee, err = loadEmployee(ctx, tx, cmd.Employee)
		if err != nil {
			return err
		}
		if err := s.checkMembership(ctx, payroll, employee, opUpdateScreening); err != nil {
			return err
		}

		deactivated, err := employee.ApplyScreening(score, now)
		if err != nil {
			return err
		}
		autoDeactivated = deactivated
		if err := saveEmployee(ctx, tx, employee); err != nil {
			return err
		}
		if err := s.logAudit(ctx, audit.EventEmployeeScreeningUpdated, employee.Address, string(employee.RiskLevel()),
			"payroll", payroll.Address.String(),
			"screening_score", employee.ScreeningScore,
		); err != nil {
			return err
		}
		if !deactivated {
			return nil
		}
		return s.logAudit(ctx, audit.EventEmployeeAutoDeactivated, employee.Address, "inactive",
			"payroll", payroll.Address.String(),
			"screening_score", employee.ScreeningScore,
		)
	})
	if err != nil {
		return nil, translate(err, nil, nil, "failed to update screening")
	}
	if autoDeactivated {
		s.metrics.IncrementAutoDeactivations()
	}
	return employee, nil
}

// DeactivateEmployee manually deactivates an active employee and decrements
// the payroll's employee count, clamping at zero.
func (s *Service) DeactivateEmployee(ctx context.Context, payrollAddr, employeeAddr address.Address) (employee *models.Employee, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opDeactivateEmployee, attribute.String("employee", employeeAddr.String()))
	defer func() { s.finish(span, opDeactivateEmployee, start, err) }()

	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payroll, err := loadPayroll(ctx, tx, payrollAddr)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, payroll, opDeactivateEmployee); err != nil {
			return err
		}
		employee, err = loadEmployee(ctx, tx, employeeAddr)
		if err != nil {
			return err
		}
		if err := s.checkMembership(ctx, payroll, employee, opDeactivateEmployee); err != nil {
			return err
		}
		if err := employee.CanDeactivate(); err != nil {
			return err
		}

		employee.ApplyDeactivation()
		payroll.DecrementEmployees()
		if err := saveEmployee(ctx, tx, employee); err != nil {
			return err
		}
		if err := savePayroll(ctx, tx, payroll); err != nil {
			return err
		}
		return s.logAudit(ctx, audit.EventEmployeeDeactivated, employee.Address, "inactive",
			"payroll", payroll.Address.String(),
			"employee_count", payroll.EmployeeCount,
		)
	})
	if err != nil {
		return nil, translate(err, nil, nil, "failed to deactivate employee")
	}
	return employee, nil
}

// GetEmployee returns a committed employee.
func (s *Service) GetEmployee(ctx context.Context, addr address.Address) (*models.Employee, error) {
	return loadEmployee(ctx, s.ledger, addr)
}

// ListEmployees returns the payroll's employees in registration order.
func (s *Service) ListEmployees(ctx context.Context, payrollAddr address.Address) ([]*models.Employee, error) {
	if _, err := loadPayroll(ctx, s.ledger, payrollAddr); err != nil {
		return nil, err
	}
	accounts, err := s.ledger.ListByOwner(ctx, payrollAddr, models.KindEmployee)
	if err != nil {
		return nil, translate(err, nil, nil, "failed to list employees")
	}
	employees := make([]*models.Employee, 0, len(accounts))
	for _, acct := range accounts {
		e, err := models.DecodeEmployee(acct.Address, acct.Data)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode employee")
		}
		employees = append(employees, e)
	}
	return employees, nil
}

// ScreenWallet asks the screening oracle about a wallet without touching
// any record.
func (s *Service) ScreenWallet(ctx context.Context, wallet address.Address) (*screening.Result, error) {
	if s.oracle == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "screening oracle not configured")
	}
	start := time.Now()
	result, err := s.oracle.Screen(ctx, wallet)
	s.metrics.ObserveScreening(err, time.Since(start))
	if err != nil {
		return nil, translate(err, nil, nil, "screening lookup failed")
	}
	return result, nil
}

// resolveScore range-checks the supplied score, or returns the oracle's
// effective score for wallet when none was supplied.
func (s *Service) resolveScore(ctx context.Context, supplied *int, wallet address.Address) (uint8, error) {
	if supplied != nil {
		if *supplied < 0 || *supplied > int(models.MaxScreeningScore) {
			return 0, models.ErrInvalidScreeningScore
		}
		return uint8(*supplied), nil
	}
	if s.oracle == nil {
		return 0, dErrors.New(dErrors.CodeValidation, "screening_score is required").
			WithReason(models.ReasonInvalidScreeningScore)
	}
	result, err := s.ScreenWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "screening oracle consulted",
		"wallet", wallet.String(),
		"provider", result.Provider,
		"score", result.Score,
		"sanctioned", result.Sanctioned,
		"cached", result.Cached,
	)
	return result.EffectiveScore(), nil
}
