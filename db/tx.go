package db

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Tx is a pgx transaction that collects after-commit hooks. Side effects
// that must not happen if the transaction rolls back (queue sends, object
// uploads, GX calls) are registered here and run only once Commit returns.
// A hook never sees a row that does not exist.
type Tx struct {
	tx    pgx.Tx
	hooks []func()
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

// AfterCommit registers fn to run once the transaction has committed. Hooks
// run in registration order, synchronously; anything long-running should
// hand off to its own pool (see storage.Uploader).
func (t *Tx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// Beginner starts transactions. *pgxpool.Pool satisfies it; tests substitute
// a fake so transaction semantics can be exercised without a database.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunInTx runs fn inside a transaction. On success the after-commit hooks
// fire in order; on error or panic the transaction rolls back and the hooks
// are dropped.
func RunInTx(ctx context.Context, db Beginner, fn func(ctx context.Context, tx *Tx) error) error {
	raw, err := db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	tx := &Tx{tx: raw}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := raw.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.WithError(rbErr).Error("rollback after panic failed")
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := raw.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.WithError(rbErr).Error("transaction rollback failed")
		}
		return err
	}
	if err := raw.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}
