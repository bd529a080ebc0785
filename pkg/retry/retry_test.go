package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts(maxRetries int) Options {
	return Options{
		MaxRetries: maxRetries,
		MinTimeout: 1 * time.Millisecond,
		MaxTimeout: 5 * time.Millisecond,
		Factor:     2,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), func() (string, error) {
		calls++
		return "ok", nil
	}, fastOpts(3))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var attempts []int
	opts := fastOpts(5)
	opts.OnRetry = func(err error, attempt int) {
		attempts = append(attempts, attempt)
	}

	result, err := Do(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func() (string, error) {
		calls++
		return "", errors.New("always failing")
	}, fastOpts(2))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "always failing")
	// 1 initial attempt + 2 retries
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroMaxRetriesRunsExactlyOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func() (string, error) {
		calls++
		return "", errors.New("nope")
	}, fastOpts(0))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_BailStopsImmediately(t *testing.T) {
	sentinel := errors.New("do not retry")
	calls := 0
	_, err := Do(context.Background(), func() (string, error) {
		calls++
		return "", Bail(sentinel)
	}, fastOpts(10))

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	opts := Options{
		MaxRetries: 100,
		MinTimeout: 10 * time.Millisecond,
		MaxTimeout: 10 * time.Millisecond,
		Factor:     2,
	}
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, func() (string, error) {
		calls++
		return "", errors.New("transient")
	}, opts)

	require.Error(t, err)
	assert.Less(t, calls, 100)
}

func TestDoVoid(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, fastOpts(3))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
