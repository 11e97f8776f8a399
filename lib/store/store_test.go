package store

import (
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := NewError(RetCLockTimeout, "timeout after 1s")

	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.False(t, errors.Is(err, ErrCancelled))

	wrapped := fmt.Errorf("acquire: %w", err)
	assert.True(t, errors.Is(wrapped, ErrLockTimeout))
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(RetCCancelled, "fetching", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "fetching")
}

func TestRequireKey(t *testing.T) {
	assert.NoError(t, RequireKey("key", "k"))
	assert.True(t, errors.Is(RequireKey("key", ""), ErrInvalidArgument))
}

func TestRequireRange(t *testing.T) {
	assert.NoError(t, RequireRange("from", 1, "to", 1))
	assert.NoError(t, RequireRange("from", -1.5, "to", 2.0))
	assert.True(t, errors.Is(RequireRange("from", 2, "to", 1), ErrInvalidArgument))
	assert.True(t, errors.Is(RequireRange("from", 2.0, "to", 1.0), ErrInvalidArgument))
}

func TestRetCodeString(t *testing.T) {
	assert.NotEqual(t, RetCLockTimeout.String(), RetCCancelled.String())
}

func TestOptionsWithDefaults(t *testing.T) {
	var nilOpts *Options
	d := nilOpts.WithDefaults()
	assert.Equal(t, DefaultExpirationCheckInterval, d.ExpirationCheckInterval)
	assert.Equal(t, DefaultCountersAggregateInterval, d.CountersAggregateInterval)
	assert.Equal(t, DefaultFetchNextJobTimeout, d.FetchNextJobTimeout)
	assert.Equal(t, DefaultFetchPollInterval, d.FetchPollInterval)
	assert.Equal(t, DefaultBatchSize, d.BatchSize)
	assert.Equal(t, DefaultPassDelay, d.PassDelay)
	assert.NotNil(t, d.Now)

	custom := &Options{BatchSize: 10, PassDelay: -time.Second}
	c := custom.WithDefaults()
	assert.Equal(t, 10, c.BatchSize)
	assert.Equal(t, time.Duration(0), c.PassDelay)
	assert.Equal(t, DefaultFetchNextJobTimeout, c.FetchNextJobTimeout)
	assert.Equal(t, -time.Second, custom.PassDelay, "the receiver is not modified")
}
