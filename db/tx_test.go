package db

import (
	"context"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn satisfies pgx.Tx so transaction semantics can be exercised
// without a database.
type fakeConn struct {
	commitErr  error
	committed  bool
	rolledBack bool
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) { return c, nil }

func (c *fakeConn) BeginFunc(ctx context.Context, f func(pgx.Tx) error) error { return f(c) }

func (c *fakeConn) Commit(ctx context.Context) error {
	if c.commitErr != nil {
		return c.commitErr
	}
	c.committed = true
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.rolledBack = true
	return nil
}

func (c *fakeConn) CopyFrom(ctx context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (c *fakeConn) SendBatch(ctx context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (c *fakeConn) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (c *fakeConn) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (c *fakeConn) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag("UPDATE 1"), nil
}
func (c *fakeConn) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}
func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}
func (c *fakeConn) QueryFunc(ctx context.Context, sql string, args []interface{}, scans []interface{}, f func(pgx.QueryFuncRow) error) (pgconn.CommandTag, error) {
	return nil, nil
}
func (c *fakeConn) Conn() *pgx.Conn { return nil }

type fakeBeginner struct {
	conn     *fakeConn
	beginErr error
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.conn, nil
}

func TestRunInTxHooksFireAfterCommitInOrder(t *testing.T) {
	conn := &fakeConn{}
	var fired []string

	err := RunInTx(context.Background(), &fakeBeginner{conn: conn}, func(ctx context.Context, tx *Tx) error {
		tx.AfterCommit(func() { fired = append(fired, "first") })
		tx.AfterCommit(func() {
			// The transaction must already be committed when hooks run.
			assert.True(t, conn.committed)
			fired = append(fired, "second")
		})
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, fired)
	assert.False(t, conn.rolledBack)
}

func TestRunInTxFnErrorRollsBackAndDropsHooks(t *testing.T) {
	conn := &fakeConn{}
	boom := errors.New("insert failed")
	fired := false

	err := RunInTx(context.Background(), &fakeBeginner{conn: conn}, func(ctx context.Context, tx *Tx) error {
		tx.AfterCommit(func() { fired = true })
		return boom
	})

	assert.Equal(t, boom, err)
	assert.True(t, conn.rolledBack)
	assert.False(t, conn.committed)
	assert.False(t, fired)
}

func TestRunInTxCommitErrorDropsHooks(t *testing.T) {
	commitErr := errors.New("connection reset")
	conn := &fakeConn{commitErr: commitErr}
	fired := false

	err := RunInTx(context.Background(), &fakeBeginner{conn: conn}, func(ctx context.Context, tx *Tx) error {
		tx.AfterCommit(func() { fired = true })
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, commitErr)
	assert.False(t, fired)
}

func TestRunInTxBeginError(t *testing.T) {
	beginErr := errors.New("pool exhausted")

	err := RunInTx(context.Background(), &fakeBeginner{beginErr: beginErr}, func(ctx context.Context, tx *Tx) error {
		t.Fatal("fn must not run when Begin fails")
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, beginErr)
}

func TestRunInTxPanicRollsBack(t *testing.T) {
	conn := &fakeConn{}

	require.Panics(t, func() {
		_ = RunInTx(context.Background(), &fakeBeginner{conn: conn}, func(ctx context.Context, tx *Tx) error {
			panic("handler blew up")
		})
	})
	assert.True(t, conn.rolledBack)
	assert.False(t, conn.committed)
}
