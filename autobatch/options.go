package autobatch

import "github.com/sharedcode/rowbatch"

// DefaultAddConcurrency is the number of tables whose additions are flushed in parallel.
const DefaultAddConcurrency = 4

// Options configures a Tables registry and its Batcher.
type Options struct {
	// AddConcurrency bounds the number of concurrent per-table AddRows calls of a flush.
	AddConcurrency int `json:"add_concurrency"`
	// TransactionOptions is used by InTransaction when called with the zero options.
	TransactionOptions rowbatch.TransactionOptions `json:"transaction_options"`
	// OnEarlyFlush, when set, is called with the trigger reason every time a read forces a flush
	// before the window closes.
	OnEarlyFlush func(reason string) `json:"-"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		AddConcurrency:     DefaultAddConcurrency,
		TransactionOptions: rowbatch.DefaultTransactionOptions(),
	}
}

func (o Options) addConcurrency() int {
	if o.AddConcurrency <= 0 {
		return DefaultAddConcurrency
	}
	return o.AddConcurrency
}
