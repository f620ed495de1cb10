//go:build integration

package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"paygate/internal/confidential"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/service"
	"paygate/internal/payroll/store"
	"paygate/internal/platform/config"
	"paygate/internal/screening"
	audit "paygate/pkg/platform/audit"
	"paygate/pkg/platform/audit/publishers/compliance"
	auditpostgres "paygate/pkg/platform/audit/store/postgres"
	"paygate/pkg/requestcontext"
	"paygate/pkg/testutil/containers"
)

type LedgerPipelineSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	events   *auditpostgres.Store
	registry *confidential.Registry
	service  *service.Service
	log      *slog.Logger
}

func TestLedgerPipelineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerPipelineSuite))
}

func (s *LedgerPipelineSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *LedgerPipelineSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "accounts", "outbox", "audit_events")
	s.Require().NoError(err)

	s.events = auditpostgres.New(s.postgres.DB)
	s.registry = confidential.NewRegistry()
	s.service = service.New(
		store.NewPostgres(s.postgres.DB),
		newLedgerPostgresTx(s.postgres.DB, 5*time.Second),
		s.registry,
		service.WithLogger(s.log),
		service.WithAuditPublisher(compliance.New(s.events)),
		service.WithScreeningOracle(screening.NewStatic(90)),
	)
}

func identity(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[31] = b
	return a
}

func (s *LedgerPipelineSuite) ctxAs(caller address.Address) context.Context {
	return requestcontext.WithCaller(context.Background(), caller)
}

func (s *LedgerPipelineSuite) outboxCount() int {
	var n int
	err := s.postgres.DB.QueryRowContext(context.Background(), `SELECT count(*) FROM outbox`).Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *LedgerPipelineSuite) initialize(authority address.Address) *models.Payroll {
	p, err := s.service.Initialize(s.ctxAs(authority), service.InitializeCommand{
		TaxRateBps:          1500,
		TaxAuthority:        identity(0xA1),
		ConfidentialProgram: identity(0xB1),
	})
	s.Require().NoError(err)
	return p
}

func (s *LedgerPipelineSuite) TestAuditRowCommitsWithLedgerChange() {
	authority := identity(0x01)
	s.initialize(authority)
	s.Equal(1, s.outboxCount())

	_, err := s.service.Initialize(s.ctxAs(authority), service.InitializeCommand{
		TaxRateBps:          1500,
		TaxAuthority:        identity(0xA1),
		ConfidentialProgram: identity(0xB1),
	})
	s.Require().Error(err)
	s.Equal(1, s.outboxCount(), "a rejected operation must not leave an audit row")
}

func (s *LedgerPipelineSuite) TestPaymentLifecycleOnPostgres() {
	authority := identity(0x01)
	payroll := s.initialize(authority)

	employee, err := s.service.AddEmployee(s.ctxAs(authority), service.AddEmployeeCommand{
		Payroll:             payroll.Address,
		EmployeeID:          "emp-001",
		Name:                "Ada",
		Wallet:              identity(0x50),
		SalaryCommitment:    models.PlaceholderCommitment(5_000_000_000),
		ConfidentialAccount: identity(0x60),
	})
	s.Require().NoError(err)
	s.Equal(uint8(90), employee.ScreeningScore)

	ts := time.Now().Unix()
	cmd := service.ProcessPaymentCommand{
		Payroll:                     payroll.Address,
		Employee:                    employee.Address,
		SalaryAmount:                5_000_000_000,
		TaxAmount:                   750_000_000,
		PaymentTimestamp:            ts,
		EmployerConfidentialAccount: identity(0x70),
		TaxConfidentialAccount:      identity(0xC1),
		EmployeeConfidentialAccount: identity(0x60),
		ConfidentialProgram:         payroll.ConfidentialProgram,
	}
	record, err := s.service.ProcessPayment(s.ctxAs(authority), cmd)
	s.Require().NoError(err)

	_, err = s.service.ProcessPayment(s.ctxAs(authority), cmd)
	s.Require().ErrorIs(err, models.ErrPaymentExists)

	s.registry.Register(identity(0xC1), 64, confidential.ProofStatusAccepted)
	verified, err := s.service.VerifyProof(s.ctxAs(identity(0x03)), service.VerifyProofCommand{
		Payment:                record.Address,
		TaxConfidentialAccount: identity(0xC1),
	})
	s.Require().NoError(err)
	s.True(verified.Verified)

	reloaded, err := s.service.GetPayroll(context.Background(), payroll.Address)
	s.Require().NoError(err)
	s.Equal(uint32(1), reloaded.EmployeeCount)
	s.Equal(uint64(1), reloaded.PaymentCount)
	s.Equal(4, s.outboxCount())
}

// TestOutboxReachesAuditEvents runs the full audit pipeline: outbox worker to
// Kafka to consumer to audit_events.
func (s *LedgerPipelineSuite) TestOutboxReachesAuditEvents() {
	authority := identity(0x01)
	payroll := s.initialize(authority)

	cfg := config.Server{
		Kafka: config.KafkaConfig{
			Brokers:        s.redpanda.Brokers,
			ClientID:       "paygate-test",
			AuditTopic:     "paygate.audit." + uuid.NewString(),
			SecurityTopic:  "paygate.security." + uuid.NewString(),
			ConsumerGroup:  "paygate-test-" + uuid.NewString(),
			OutboxBatch:    10,
			OutboxInterval: 100 * time.Millisecond,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	s.Require().NoError(startAuditPipeline(gctx, g, cfg, s.postgres.DB, s.log))
	defer func() {
		cancel()
		s.NoError(g.Wait())
	}()

	var events []audit.Event
	s.Require().Eventually(func() bool {
		var err error
		events, err = s.events.ListBySubject(context.Background(), payroll.Address.String())
		return err == nil && len(events) == 1
	}, 30*time.Second, 200*time.Millisecond)

	s.Equal(string(audit.EventPayrollInitialized), events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal(authority.String(), events[0].ActorID)

	var pending int
	err := s.postgres.DB.QueryRowContext(context.Background(),
		`SELECT count(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending)
	s.Require().NoError(err)
	s.Zero(pending)
}
