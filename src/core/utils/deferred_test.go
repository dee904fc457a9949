package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred_ResolveOnce(t *testing.T) {
	d := NewDeferred[int]()

	require.NoError(t, d.Resolve(42))
	assert.True(t, d.Settled())

	v, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDeferred_SecondSettleFails(t *testing.T) {
	d := NewDeferred[int]()

	require.NoError(t, d.Resolve(1))
	assert.ErrorIs(t, d.Resolve(2), ErrAlreadySettled)
	assert.ErrorIs(t, d.Reject(errors.New("late")), ErrAlreadySettled)

	v, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v, "The first settle wins")
}

func TestDeferred_RejectPropagatesError(t *testing.T) {
	d := NewDeferred[string]()
	cause := errors.New("boom")

	require.NoError(t, d.Reject(cause))

	_, err := d.Wait(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestDeferred_WaitHonorsContext(t *testing.T) {
	d := NewDeferred[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, d.Settled(), "A canceled wait must not settle the deferred")
}

func TestDeferred_WaitUnblocksOnLateResolve(t *testing.T) {
	d := NewDeferred[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = d.Resolve(7)
	}()

	v, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
