package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/pkg/requestcontext"
)

// Postgres reads committed records from the accounts table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record reader.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, addr address.Address) (*Account, error) {
	query := `
		SELECT kind, owner, data
		FROM accounts
		WHERE address = $1
	`
	return scanAccount(addr, s.db.QueryRowContext(ctx, query, addr.Bytes()))
}

func (s *Postgres) ListByOwner(ctx context.Context, owner address.Address, kind models.Kind) ([]*Account, error) {
	query := `
		SELECT address, kind, owner, data
		FROM accounts
		WHERE owner = $1 AND kind = $2
		ORDER BY created_at, address
	`
	rows, err := s.db.QueryContext(ctx, query, owner.Bytes(), int16(kind))
	if err != nil {
		return nil, fmt.Errorf("list accounts by owner: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var (
			rawAddr, rawOwner []byte
			k                 int16
			acct              Account
		)
		if err := rows.Scan(&rawAddr, &k, &rawOwner, &acct.Data); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if acct.Address, err = address.FromBytes(rawAddr); err != nil {
			return nil, fmt.Errorf("scan account address: %w", err)
		}
		if acct.Owner, err = address.FromBytes(rawOwner); err != nil {
			return nil, fmt.Errorf("scan account owner: %w", err)
		}
		acct.Kind = models.Kind(k)
		out = append(out, &acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// PostgresTx is the record view bound to one SQL transaction. Reads take row
// locks so read-modify-write sequences serialize per record.
type PostgresTx struct {
	tx *sql.Tx
}

// NewPostgresTx wraps an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresTx {
	return &PostgresTx{tx: tx}
}

func (t *PostgresTx) Get(ctx context.Context, addr address.Address) (*Account, error) {
	query := `
		SELECT kind, owner, data
		FROM accounts
		WHERE address = $1
		FOR UPDATE
	`
	return scanAccount(addr, t.tx.QueryRowContext(ctx, query, addr.Bytes()))
}

// Create inserts the record unless the address is taken. A concurrent insert
// of the same address blocks on the primary key until the other transaction
// finishes, then reports ErrAlreadyUsed.
func (t *PostgresTx) Create(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (address, kind, owner, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (address) DO NOTHING
	`
	now := requestcontext.Now(ctx)
	res, err := t.tx.ExecContext(ctx, query,
		account.Address.Bytes(),
		int16(account.Kind),
		account.Owner.Bytes(),
		account.Data,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if n == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

func (t *PostgresTx) Update(ctx context.Context, account *Account) error {
	query := `
		UPDATE accounts
		SET data = $2, updated_at = $3
		WHERE address = $1
	`
	res, err := t.tx.ExecContext(ctx, query, account.Address.Bytes(), account.Data, requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(addr address.Address, row *sql.Row) (*Account, error) {
	var (
		k        int16
		rawOwner []byte
		acct     = Account{Address: addr}
	)
	if err := row.Scan(&k, &rawOwner, &acct.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	owner, err := address.FromBytes(rawOwner)
	if err != nil {
		return nil, fmt.Errorf("find account owner: %w", err)
	}
	acct.Owner = owner
	acct.Kind = models.Kind(k)
	return &acct, nil
}
