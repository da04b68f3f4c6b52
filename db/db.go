// Package db owns all Postgres access: schema, transactions with
// after-commit hooks, and the repositories for the pipeline entities.
package db

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so every repository
// method runs equally inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store bundles the repositories over one Querier. Use New for pool-backed
// access and WithTx inside a transaction.
type Store struct {
	q Querier
}

func New(q Querier) *Store { return &Store{q: q} }

// WithTx returns a Store whose statements run on tx.
func (s *Store) WithTx(tx *Tx) *Store { return &Store{q: tx} }

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	return pool, nil
}

// IsUniqueViolation reports whether err is a unique-index violation
// (notably the file_master dedup index).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ErrNotFound is returned when a row id does not exist.
var ErrNotFound = errors.New("row not found")

func notFoundOr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}
