// Package tx carries an open *sql.Tx through a context so that writers
// outside the ledger store, such as the audit outbox, join the ledger's
// transaction.
package tx

import (
	"context"
	"database/sql"
)

type sqlTxKey struct{}

// WithTx returns ctx unchanged when tx is nil.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, sqlTxKey{}, tx)
}

// From reports the transaction stored by WithTx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(sqlTxKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}
