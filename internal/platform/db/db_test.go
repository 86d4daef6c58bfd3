package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
		code string
	}{
		{"no rows", pgx.ErrNoRows, shared.ErrNotFound, shared.CodeNotFound},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "purchase_orders_po_number_key"}, shared.ErrDuplicateReference, shared.CodeDuplicate},
		{"serialization", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, shared.ErrConflict, shared.CodeConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, shared.ErrConflict, shared.CodeConflict},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, shared.ErrConflict, shared.CodeConflict},
		{"wrapped", fmt.Errorf("inventory: lock record: %w", &pgconn.PgError{Code: "40001"}), shared.ErrConflict, shared.CodeConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Translate(tc.err)
			require.ErrorIs(t, got, tc.want)
			require.Equal(t, tc.code, shared.Code(got))
		})
	}

	require.NoError(t, Translate(nil))
	other := &pgconn.PgError{Code: "23503"}
	require.Same(t, other, Translate(other))
	plain := errors.New("boom")
	require.Equal(t, plain, Translate(plain))
}

func TestTranslateKeepsDriverError(t *testing.T) {
	err := Translate(&pgconn.PgError{Code: "23505", ConstraintName: "alerts_active_key_idx"})
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	require.Equal(t, "alerts_active_key_idx", pgErr.ConstraintName)
	require.True(t, IsUniqueViolation(err))
}

func TestAfterCommitWithoutTransactionRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	require.True(t, ran)
	require.False(t, InTx(context.Background()))
}

func TestAfterCommitWaitsForOuterCommit(t *testing.T) {
	state := &txState{}
	ctx := context.WithValue(context.Background(), txKey{}, state)
	require.True(t, InTx(ctx))

	var order []string
	err := WithTx(ctx, nil, func(ctx context.Context, _ pgx.Tx) error {
		AfterCommit(ctx, func(context.Context) { order = append(order, "first") })
		return WithTx(ctx, nil, func(ctx context.Context, _ pgx.Tx) error {
			AfterCommit(ctx, func(context.Context) { order = append(order, "second") })
			return nil
		})
	})
	require.NoError(t, err)
	require.Empty(t, order)

	state.committed(ctx)
	require.Equal(t, []string{"first", "second"}, order)

	state.committed(ctx)
	require.Len(t, order, 2)
}

func TestAfterCommitHooksDroppedOnRollback(t *testing.T) {
	state := &txState{}
	ctx := context.WithValue(context.Background(), txKey{}, state)
	ran := false
	failure := errors.New("ledger write failed")

	err := WithTx(ctx, nil, func(ctx context.Context, _ pgx.Tx) error {
		AfterCommit(ctx, func(context.Context) { ran = true })
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.False(t, ran)
}

func TestRetryConflict(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := RetryConflict(ctx, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: could not serialize access", shared.ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = RetryConflict(ctx, func(context.Context) error {
		calls++
		return shared.ErrConflict
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, ConflictAttempts, calls)

	calls = 0
	err = RetryConflict(ctx, func(context.Context) error {
		calls++
		return shared.ErrInsufficientStock
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 1, calls)
}

func TestRetryConflictRunsOnceInsideTransaction(t *testing.T) {
	ctx := context.WithValue(context.Background(), txKey{}, &txState{})
	calls := 0
	err := RetryConflict(ctx, func(context.Context) error {
		calls++
		return shared.ErrConflict
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 1, calls)
}

func TestRetryConflictStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	calls := 0
	err := RetryConflict(ctx, func(context.Context) error {
		calls++
		cancel()
		return shared.ErrConflict
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
