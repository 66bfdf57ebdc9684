package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_ReturnsValue(t *testing.T) {
	v, err := Call(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCall_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Call(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCall_TimeoutWhenCalleeIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Call(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_RecoversPanic(t *testing.T) {
	_, err := Call(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		panic("provider exploded")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "provider exploded")
}

func TestCall_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Call(ctx, 0, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
