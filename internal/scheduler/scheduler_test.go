package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client)
	ctx := context.Background()

	release, err := l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("bidopt:lock:job"))
	assert.Equal(t, time.Minute, mr.TTL("bidopt:lock:job"))

	_, err = l.TryLock(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("bidopt:lock:job"))

	release, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client)
	ctx := context.Background()

	release, err := l.TryLock(ctx, "job", time.Second)
	require.NoError(t, err)

	// the lock expires and another instance takes it
	mr.FastForward(2 * time.Second)
	_, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("bidopt:lock:job"), "stale release must not drop the new holder's lock")
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	release, err := l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	_, err = l.TryLock(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = l.TryLock(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = l.TryLock(ctx, "job", time.Minute)
	assert.NoError(t, err, "expired lock is reclaimable")
}

func TestGuard(t *testing.T) {
	locker := NewLocalLocker()
	r := New(context.Background(), locker, time.Minute, nil)
	ctx := context.Background()

	var runs int32
	err := r.Guard(ctx, "job", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		// a second run while this one holds the lock is refused
		inner := r.Guard(ctx, "job", func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		})
		assert.ErrorIs(t, inner, ErrLocked)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))

	jobErr := errors.New("boom")
	err = r.Guard(ctx, "job", func(context.Context) error { return jobErr })
	assert.ErrorIs(t, err, jobErr)

	// the lock is released even when the job fails
	err = r.Guard(ctx, "job", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestRunnerStartOnce(t *testing.T) {
	r := New(context.Background(), nil, time.Minute, nil)
	_, err := r.Add("0 30 4 * * *", "job", func(context.Context) error { return nil })
	require.NoError(t, err)

	_, err = r.Add("not a spec", "bad", func(context.Context) error { return nil })
	assert.Error(t, err)

	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), ErrAlreadyStarted)
	r.Stop()
}

func TestRunnerRunsScheduledJob(t *testing.T) {
	r := New(context.Background(), nil, time.Minute, nil)
	done := make(chan struct{}, 1)
	_, err := r.Add("* * * * * *", "tick", func(context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}
