//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/store"
	"paygate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	reader   *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.reader = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "accounts", "outbox", "audit_events")
	s.Require().NoError(err)
}

func pgAddr(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[31] = b
	return a
}

// runInTx mirrors the server's transaction runner without the timeout.
func (s *PostgresStoreSuite) runInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(ctx, store.NewPostgresTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStoreSuite) create(acct *store.Account) error {
	return s.runInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Create(ctx, acct)
	})
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	acct := &store.Account{Address: pgAddr(1), Kind: models.KindPayroll, Owner: pgAddr(9), Data: []byte("payroll")}
	s.Require().NoError(s.create(acct))

	got, err := s.reader.Get(ctx, pgAddr(1))
	s.Require().NoError(err)
	s.Equal(acct.Kind, got.Kind)
	s.Equal(acct.Owner, got.Owner)
	s.Equal("payroll", string(got.Data))

	_, err = s.reader.Get(ctx, pgAddr(2))
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCreateIfAbsent() {
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(1), Kind: models.KindPayroll, Owner: pgAddr(9), Data: []byte("a")}))

	err := s.create(&store.Account{Address: pgAddr(1), Kind: models.KindPayroll, Owner: pgAddr(9), Data: []byte("b")})
	s.ErrorIs(err, store.ErrAlreadyUsed)

	got, err := s.reader.Get(context.Background(), pgAddr(1))
	s.Require().NoError(err)
	s.Equal("a", string(got.Data))
}

func (s *PostgresStoreSuite) TestRollbackDiscardsWrites() {
	ctx := context.Background()
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(1), Kind: models.KindPayroll, Owner: pgAddr(9), Data: []byte("v1")}))
	boom := errors.New("boom")

	err := s.runInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Get(ctx, pgAddr(1))
		if err != nil {
			return err
		}
		acct.Data = []byte("v2")
		if err := tx.Update(ctx, acct); err != nil {
			return err
		}
		if err := tx.Create(ctx, &store.Account{Address: pgAddr(2), Kind: models.KindEmployee, Owner: pgAddr(1), Data: []byte("e")}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.reader.Get(ctx, pgAddr(1))
	s.Require().NoError(err)
	s.Equal("v1", string(got.Data))
	_, err = s.reader.Get(ctx, pgAddr(2))
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateMissing() {
	err := s.runInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Update(ctx, &store.Account{Address: pgAddr(4), Kind: models.KindEmployee, Owner: pgAddr(9), Data: []byte("x")})
	})
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListByOwnerFiltersKind() {
	owner := pgAddr(9)
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(1), Kind: models.KindEmployee, Owner: owner, Data: []byte("e1")}))
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(2), Kind: models.KindEmployee, Owner: owner, Data: []byte("e2")}))
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(3), Kind: models.KindPayment, Owner: owner, Data: []byte("p")}))
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(4), Kind: models.KindEmployee, Owner: pgAddr(8), Data: []byte("other")}))

	got, err := s.reader.ListByOwner(context.Background(), owner, models.KindEmployee)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("e1", string(got[0].Data))
	s.Equal("e2", string(got[1].Data))
}

// TestConcurrentCreateSameAddress verifies exactly one of many concurrent
// creates of one address commits.
func (s *PostgresStoreSuite) TestConcurrentCreateSameAddress() {
	const goroutines = 30
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.create(&store.Account{Address: pgAddr(7), Kind: models.KindPayment, Owner: pgAddr(9), Data: []byte("p")})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, store.ErrAlreadyUsed):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

// TestRowLocksSerializeReadModifyWrite verifies that concurrent increments
// through Get+Update do not lose writes.
func (s *PostgresStoreSuite) TestRowLocksSerializeReadModifyWrite() {
	s.Require().NoError(s.create(&store.Account{Address: pgAddr(1), Kind: models.KindPayroll, Owner: pgAddr(9), Data: []byte{0}}))

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.runInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				acct, err := tx.Get(ctx, pgAddr(1))
				if err != nil {
					return err
				}
				acct.Data = []byte{acct.Data[0] + 1}
				return tx.Update(ctx, acct)
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.reader.Get(context.Background(), pgAddr(1))
	s.Require().NoError(err)
	s.Equal(byte(goroutines), got.Data[0])
}
