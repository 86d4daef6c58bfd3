package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), mr
}

func TestLockerExclusive(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	key := JobLockKey("reorder:run")

	release, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(key))

	again, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLockerReleaseKeepsForeignLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	key := PairLockKey("reorder", 4, 2)
	require.Equal(t, "odyssey:reorder:4:2:lock", key)

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	require.True(t, mr.Exists(key))
	require.NoError(t, other(ctx))
	require.False(t, mr.Exists(key))
}

func TestLockerNotInitialised(t *testing.T) {
	var locker *Locker
	_, err := locker.Acquire(context.Background(), "k", time.Second)
	require.Error(t, err)
}

func TestCodeMapsWrappedErrors(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("inventory: insufficient stock: %w", ErrInsufficientStock): CodeInsufficientStock,
		fmt.Errorf("procurement: %w", ErrOverReceipt):                         CodeOverReceipt,
		fmt.Errorf("procurement: %w", ErrInvalidTransition):                   CodeInvalidTransition,
		ErrIdempotencyConflict:                                                CodeDuplicate,
		fmt.Errorf("order 7: %w", ErrConflict):                                CodeConflict,
		fmt.Errorf("ledger: %w", ErrInvariant):                                CodeInternal,
		errors.New("boom"):                                                    CodeInternal,
	}
	for err, want := range cases {
		require.Equal(t, want, Code(err), err.Error())
	}
	require.Empty(t, Code(nil))
}

func TestValidateWrapsFieldErrors(t *testing.T) {
	type input struct {
		ProductID int64 `validate:"required,gt=0"`
		Quantity  int64 `validate:"gte=1"`
	}
	require.NoError(t, Validate(input{ProductID: 1, Quantity: 3}))

	err := Validate(input{Quantity: 0})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "ProductID is required")
	require.Contains(t, err.Error(), "Quantity must satisfy gte=1")
}

func TestPagination(t *testing.T) {
	page, perPage := NormalizePage(0, 1000)
	require.Equal(t, 1, page)
	require.Equal(t, maxPerPage, perPage)

	p := NewPagination(2, 20, 41)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 20, Offset(2, 20))
	require.Zero(t, Offset(-1, 0))
}

func TestActorContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), 42)
	require.Equal(t, int64(42), ActorFromContext(ctx))
	require.Zero(t, ActorFromContext(context.Background()))
}
