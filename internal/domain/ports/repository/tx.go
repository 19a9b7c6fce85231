package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Its concrete type belongs to the
// storage adapter (pgx.Tx for Postgres); use cases only pass it through.
type Tx interface{}

// NoTX runs a repository call outside any transaction.
var NoTX interface{}

// TransactionManager runs fn inside one database transaction. Repositories
// that receive the handle lock rows they read (SELECT ... FOR UPDATE), so a
// read-modify-write inside fn is serialized per row.
//
//	err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		t, err := txns.FindByOrderID(ctx, tx, orderID)
//		...
//		return txns.Update(ctx, tx, t)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
