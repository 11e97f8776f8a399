package store

import "time"

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Default values, see DefaultOptions.
const (
	DefaultExpirationCheckInterval   = time.Hour
	DefaultCountersAggregateInterval = 5 * time.Minute
	DefaultFetchNextJobTimeout       = 30 * time.Minute
	DefaultFetchPollInterval         = 15 * time.Second
	DefaultBatchSize                 = 1000
	DefaultPassDelay                 = time.Second
)

// Options configures a storage and its maintenance loops.
type Options struct {
	// ExpirationCheckInterval is the sleep between two expiration sweeps.
	ExpirationCheckInterval time.Duration
	// CountersAggregateInterval is the sleep between two counter aggregations.
	CountersAggregateInterval time.Duration
	// FetchNextJobTimeout is the time after which a claimed queue entry that was
	// neither removed nor requeued becomes fetchable again.
	FetchNextJobTimeout time.Duration
	// FetchPollInterval bounds how long a fetcher waits for a commit before it
	// rescans the queues.
	FetchPollInterval time.Duration
	// BatchSize is the maximum number of entities a maintenance pass handles.
	BatchSize int
	// PassDelay is the pause between two non-empty maintenance passes (0 = no pause).
	PassDelay time.Duration
	// Now returns the current time (nil = time.Now).
	Now func() time.Time
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		ExpirationCheckInterval:   DefaultExpirationCheckInterval,
		CountersAggregateInterval: DefaultCountersAggregateInterval,
		FetchNextJobTimeout:       DefaultFetchNextJobTimeout,
		FetchPollInterval:         DefaultFetchPollInterval,
		BatchSize:                 DefaultBatchSize,
		PassDelay:                 DefaultPassDelay,
		Now:                       time.Now,
	}
}

// WithDefaults returns a copy of o with every zero field replaced by its
// default. A nil receiver yields DefaultOptions.
func (o *Options) WithDefaults() *Options {
	d := DefaultOptions()
	if o == nil {
		return d
	}
	c := *o
	if c.ExpirationCheckInterval <= 0 {
		c.ExpirationCheckInterval = d.ExpirationCheckInterval
	}
	if c.CountersAggregateInterval <= 0 {
		c.CountersAggregateInterval = d.CountersAggregateInterval
	}
	if c.FetchNextJobTimeout <= 0 {
		c.FetchNextJobTimeout = d.FetchNextJobTimeout
	}
	if c.FetchPollInterval <= 0 {
		c.FetchPollInterval = d.FetchPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PassDelay < 0 {
		c.PassDelay = 0
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return &c
}
