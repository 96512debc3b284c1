package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Do after Close.
var ErrQueueClosed = stderrors.New("store queue closed")

// JobFunc is a unit of store work. It runs on the queue's single worker.
type JobFunc func(ctx context.Context, db *sql.DB) error

type job struct {
	ctx    context.Context
	fn     JobFunc
	result chan error
}

// Queue executes store jobs one at a time in submission order. Every read and
// write goes through it, so a multi-statement transaction never interleaves
// with another job.
//
// Jobs must not call Do on the same queue; that deadlocks.
type Queue struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewQueue starts the worker goroutine.
func NewQueue(db *sql.DB) *Queue {
	q := &Queue{
		db: db,
		// Unbuffered: a send completes only when the worker takes the job,
		// and blocked senders are served in arrival order.
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case j := <-q.jobs:
			j.result <- q.exec(j)
		}
	}
}

// exec runs one job. A job whose context ended while it waited is skipped;
// once started it runs to completion regardless of cancellation.
func (q *Queue) exec(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store job panicked: %v", r)
		}
	}()
	return j.fn(context.WithoutCancel(j.ctx), q.db)
}

// Do enqueues fn and waits for it to finish.
func (q *Queue) Do(ctx context.Context, fn JobFunc) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case q.jobs <- j:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-j.result
}

// Close stops the worker after the job in progress, if any, finishes.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}

// Query runs fn on the queue and returns its value.
func Query[T any](ctx context.Context, q *Queue, fn func(ctx context.Context, db *sql.DB) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		v, err := fn(ctx, db)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
