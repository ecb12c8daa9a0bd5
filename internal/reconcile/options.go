package reconcile

import (
	"time"

	"github.com/cloudflare/tunnel-manager/internal/configstore"
)

const (
	// WorkersDefault defines the concurrent hostname chains applied at once
	WorkersDefault = 4
)

type options struct {
	workers  int
	lockWait time.Duration
}

// Option provides behavior overrides
type Option func(*options)

// Workers defines the concurrent hostname chains applied at once
func Workers(i int) Option {
	return func(o *options) {
		if i > 0 {
			o.workers = i
		}
	}
}

// LockWait bounds the wait for the config file lock
func LockWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockWait = d
		}
	}
}

func collectOptions(opts []Option) options {
	// set defaults
	o := options{
		workers:  WorkersDefault,
		lockWait: configstore.LockWaitDefault,
	}
	// overlay values
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
