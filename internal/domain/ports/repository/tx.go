package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// NoTX marks the non-transactional path when calling repositories.
var NoTX Tx

// TransactionManager executes a function inside a database transaction,
// passing the tx handle through so repositories can detect it and use
// tx-bound Exec/Query (SELECT ... FOR UPDATE and friends). Repositories
// must accept a nil tx and fall back to the pool.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
