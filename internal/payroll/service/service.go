// Package service implements the payroll ledger operations.
//
// Every mutation runs inside one LedgerTx.RunInTx call: records are loaded,
// checked and written through the transaction view, and the compliance audit
// event is emitted as the last step inside the callback so it commits or
// rolls back with the records. Calls to external collaborators (screening
// oracle, confidential-transfer subsystem) happen before the transaction.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/metrics"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/store"
	dErrors "paygate/pkg/domain-errors"
	"paygate/pkg/platform/audit"
	"paygate/pkg/platform/sentinel"
	"paygate/pkg/requestcontext"
)

const tracerName = "paygate/internal/payroll/service"

// Operation names used for metrics, spans and logs.
const (
	opInitialize         = "initialize"
	opAddEmployee        = "add_employee"
	opUpdateScreening    = "update_screening"
	opDeactivateEmployee = "deactivate_employee"
	opProcessPayment     = "process_payment"
	opVerifyProof        = "verify_proof"
)

// Service orchestrates payroll, employee and payment records.
type Service struct {
	ledger            Ledger
	tx                LedgerTx
	inspector         AccountInspector
	deriver           *address.Deriver
	oracle            ScreeningOracle
	auditPublisher    AuditPublisher
	securityPublisher SecurityPublisher
	logger            *slog.Logger
	metrics           *metrics.Metrics
	tracer            trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithSecurityPublisher(publisher SecurityPublisher) Option {
	return func(s *Service) {
		s.securityPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithScreeningOracle enables oracle lookups for requests that omit a score.
func WithScreeningOracle(oracle ScreeningOracle) Option {
	return func(s *Service) {
		s.oracle = oracle
	}
}

// WithDeriver replaces the default address namespace.
func WithDeriver(d *address.Deriver) Option {
	return func(s *Service) {
		s.deriver = d
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service.
func New(ledger Ledger, tx LedgerTx, inspector AccountInspector, opts ...Option) *Service {
	s := &Service{
		ledger:    ledger,
		tx:        tx,
		inspector: inspector,
		deriver:   address.Default(),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deriver exposes the address scheme so transports can answer address
// derivation queries with the same namespace.
func (s *Service) Deriver() *address.Deriver {
	return s.deriver
}

// -----------------------------------------------------------------------------
// Instrumentation
// -----------------------------------------------------------------------------

func (s *Service) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "payroll."+operation, trace.WithAttributes(attrs...))
}

func (s *Service) finish(span trace.Span, operation string, start time.Time, err error) {
	s.metrics.ObserveOperation(operation, dErrors.GetReason(err), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.GetCode(err)))
	}
	span.End()
}

// logAudit logs an audit line and emits the matching compliance event. It
// must be called inside the transaction callback with the callback's context.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, subject address.Address, decision string, attributes ...any) error {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "subject", subject.String(), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)

	if s.auditPublisher == nil {
		return nil
	}
	err := s.auditPublisher.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject.String(),
		Action:    string(event),
		Decision:  decision,
		RequestID: requestID,
		ActorID:   requestcontext.Caller(ctx).String(),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func (s *Service) securityEvent(ctx context.Context, event audit.AuditEvent, subject address.Address, reason string, severity audit.Severity) {
	s.logger.WarnContext(ctx, string(event),
		"subject", subject.String(),
		"caller", requestcontext.Caller(ctx).String(),
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.securityPublisher == nil {
		return
	}
	s.securityPublisher.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject.String(),
		Action:    string(event),
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.Caller(ctx).String(),
		Severity:  severity,
	})
}

// -----------------------------------------------------------------------------
// Authorization
// -----------------------------------------------------------------------------

// requireCaller rejects requests that carry no authenticated identity.
func requireCaller(ctx context.Context) (address.Address, error) {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return address.Zero, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	return caller, nil
}

// authorize checks the caller owns payroll.
func (s *Service) authorize(ctx context.Context, payroll *models.Payroll, operation string) error {
	if payroll.IsAuthority(requestcontext.Caller(ctx)) {
		return nil
	}
	s.securityEvent(ctx, audit.EventAuthorizationDenied, payroll.Address, operation, audit.SeverityWarning)
	return models.ErrUnauthorized
}

// checkMembership enforces employee.payroll == payroll.
func (s *Service) checkMembership(ctx context.Context, payroll *models.Payroll, employee *models.Employee, operation string) error {
	if employee.BelongsTo(payroll.Address) {
		return nil
	}
	s.securityEvent(ctx, audit.EventAuthorizationDenied, employee.Address, operation, audit.SeverityWarning)
	return models.ErrUnauthorized
}

// -----------------------------------------------------------------------------
// Record access
// -----------------------------------------------------------------------------

type accountGetter interface {
	Get(ctx context.Context, addr address.Address) (*store.Account, error)
}

// translate maps store sentinels to domain errors. Coded errors pass through.
func translate(err error, notFound, exists *dErrors.Error, action string) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && errors.Is(err, sentinel.ErrNotFound):
		return notFound
	case exists != nil && errors.Is(err, sentinel.ErrAlreadyUsed):
		return exists
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update, retry the request")
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}

func loadPayroll(ctx context.Context, g accountGetter, addr address.Address) (*models.Payroll, error) {
	acct, err := g.Get(ctx, addr)
	if err != nil {
		return nil, translate(err, models.ErrPayrollNotFound, nil, "failed to load payroll")
	}
	if acct.Kind != models.KindPayroll {
		return nil, models.ErrPayrollNotFound
	}
	p, err := models.DecodePayroll(addr, acct.Data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode payroll")
	}
	return p, nil
}

func loadEmployee(ctx context.Context, g accountGetter, addr address.Address) (*models.Employee, error) {
	acct, err := g.Get(ctx, addr)
	if err != nil {
		return nil, translate(err, models.ErrEmployeeNotFound, nil, "failed to load employee")
	}
	if acct.Kind != models.KindEmployee {
		return nil, models.ErrEmployeeNotFound
	}
	e, err := models.DecodeEmployee(addr, acct.Data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode employee")
	}
	return e, nil
}

func loadPayment(ctx context.Context, g accountGetter, addr address.Address) (*models.PaymentRecord, error) {
	acct, err := g.Get(ctx, addr)
	if err != nil {
		return nil, translate(err, models.ErrPaymentNotFound, nil, "failed to load payment record")
	}
	if acct.Kind != models.KindPayment {
		return nil, models.ErrPaymentNotFound
	}
	rec, err := models.DecodePayment(addr, acct.Data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode payment record")
	}
	return rec, nil
}

func savePayroll(ctx context.Context, tx store.Tx, p *models.Payroll) error {
	err := tx.Update(ctx, &store.Account{
		Address: p.Address,
		Kind:    models.KindPayroll,
		Owner:   p.Authority,
		Data:    models.EncodePayroll(p),
	})
	return translate(err, models.ErrPayrollNotFound, nil, "failed to update payroll")
}

func saveEmployee(ctx context.Context, tx store.Tx, e *models.Employee) error {
	err := tx.Update(ctx, &store.Account{
		Address: e.Address,
		Kind:    models.KindEmployee,
		Owner:   e.Payroll,
		Data:    models.EncodeEmployee(e),
	})
	return translate(err, models.ErrEmployeeNotFound, nil, "failed to update employee")
}
