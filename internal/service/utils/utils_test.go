package utils_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/service/utils"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := utils.Retry(context.Background(), 5, time.Millisecond, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	_, err := utils.Retry(context.Background(), 2, time.Millisecond, func() (int, error) {
		calls++
		return 0, errors.New("always")
	})

	assert.EqualError(t, err, "always")
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := utils.Retry(ctx, 10, time.Hour, func() (int, error) {
		return 0, errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_ZeroAttempts(t *testing.T) {
	_, err := utils.Retry(context.Background(), 0, time.Millisecond, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, utils.ErrNoAttempts)
}

func TestHash(t *testing.T) {
	const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	assert.Equal(t, emptySHA, utils.ComputeHash(nil))
	assert.Len(t, utils.ComputeHash([]byte("page")), 64)
}
