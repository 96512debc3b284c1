package db

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	sqlDB, err := Init(t.TempDir())
	require.NoError(t, err)
	q := NewQueue(sqlDB)
	t.Cleanup(func() {
		q.Close()
		sqlDB.Close()
	})
	return q
}

func TestQueue_RunsJobsOneAtATime(t *testing.T) {
	q := newTestQueue(t)

	var active, maxActive, ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func(ctx context.Context, db *sql.DB) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				ran.Add(1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 20, ran.Load())
	require.EqualValues(t, 1, maxActive.Load())
}

func TestQueue_SequentialCallsKeepOrder(t *testing.T) {
	q := newTestQueue(t)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Do(context.Background(), func(ctx context.Context, db *sql.DB) error {
			order = append(order, i)
			return nil
		}))
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_SkipsCancelledJob(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)
}

func TestQueue_StartedJobIgnoresCancellation(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := q.Do(ctx, func(jobCtx context.Context, db *sql.DB) error {
		cancel()
		require.NoError(t, jobCtx.Err())
		_, err := db.ExecContext(jobCtx, "SELECT 1")
		return err
	})
	require.NoError(t, err)
}

func TestQueue_RecoversPanic(t *testing.T) {
	q := newTestQueue(t)

	err := q.Do(context.Background(), func(ctx context.Context, db *sql.DB) error {
		panic("boom")
	})
	require.ErrorContains(t, err, "boom")

	// The worker survives
	require.NoError(t, q.Do(context.Background(), func(ctx context.Context, db *sql.DB) error { return nil }))
}

func TestWithTx_PanicRollsBack(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, "CREATE TABLE tx_check (n INTEGER)")
		return err
	}))

	err := q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		return withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO tx_check (n) VALUES (1)"); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})
	require.ErrorContains(t, err, "mid-transaction")

	// The write lock was released and the partial insert discarded
	require.NoError(t, q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		return withTx(ctx, db, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO tx_check (n) VALUES (2)")
			return err
		})
	}))

	rows, err := Query(ctx, q, func(ctx context.Context, db *sql.DB) ([]int, error) {
		r, err := db.QueryContext(ctx, "SELECT n FROM tx_check ORDER BY n")
		if err != nil {
			return nil, err
		}
		defer r.Close()
		var out []int
		for r.Next() {
			var n int
			if err := r.Scan(&n); err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, r.Err()
	})
	require.NoError(t, err)
	require.Equal(t, []int{2}, rows)
}

func TestQueue_ClosedRejectsJobs(t *testing.T) {
	q := newTestQueue(t)
	q.Close()

	err := q.Do(context.Background(), func(ctx context.Context, db *sql.DB) error { return nil })
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQuery_ReturnsValue(t *testing.T) {
	q := newTestQueue(t)

	v, err := Query(context.Background(), q, func(ctx context.Context, db *sql.DB) (int, error) {
		var n int
		err := db.QueryRowContext(ctx, "SELECT 41 + 1").Scan(&n)
		return n, err
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}
