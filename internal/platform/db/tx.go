package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type txState struct {
	tx          pgx.Tx
	afterCommit []func(context.Context)
}

// WithTx executes fn within a ReadCommitted transaction. Row locks taken with
// SELECT ... FOR UPDATE re-read the committed row once granted, so writers on
// the same ledger record queue instead of failing. When ctx already
// carries a transaction opened by an outer WithTx, fn joins it and the outer
// call owns commit and rollback.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx, state.tx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, state), tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", Translate(err))
	}

	state.committed(ctx)
	return nil
}

// committed runs the hooks queued by AfterCommit in registration order.
func (s *txState) committed(ctx context.Context) {
	for _, hook := range s.afterCommit {
		hook(ctx)
	}
	s.afterCommit = nil
}

// Conn returns the transaction carried by ctx, or the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// AfterCommit defers hook until the outermost transaction in ctx commits.
// Hooks are dropped on rollback. Without a transaction the hook runs
// immediately.
func AfterCommit(ctx context.Context, hook func(context.Context)) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.afterCommit = append(state.afterCommit, hook)
		return
	}
	hook(ctx)
}
