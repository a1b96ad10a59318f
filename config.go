package rowbatch

import (
	"time"
)

const (
	// DefaultMaxRetries is the number of retries RunInTransaction makes after a conflict.
	DefaultMaxRetries = 5
	// DefaultRetryBackoff is the base of the Fibonacci backoff between transaction attempts.
	DefaultRetryBackoff = 100 * time.Millisecond
)

// TransactionOptions holds the configuration for transactions.
type TransactionOptions struct {
	// Relaxed requests the store's relaxed isolation, when it has one.
	Relaxed bool `json:"relaxed"`
	// MaxRetries caps the number of retried attempts after a conflict. Zero means DefaultMaxRetries,
	// a negative value disables retries.
	MaxRetries int `json:"max_retries"`
	// RetryBackoff is the base Fibonacci backoff between attempts. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration `json:"retry_backoff"`
}

// DefaultTransactionOptions returns the options used when none are given.
func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
	}
}

func (o TransactionOptions) maxRetries() uint64 {
	switch {
	case o.MaxRetries < 0:
		return 0
	case o.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return uint64(o.MaxRetries)
}

func (o TransactionOptions) retryBackoff() time.Duration {
	if o.RetryBackoff <= 0 {
		return DefaultRetryBackoff
	}
	return o.RetryBackoff
}
