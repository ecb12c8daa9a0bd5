package monitor

import (
	"net/http"
	"time"
)

const (
	// EndpointDefault is where a locally supervised agent exposes its
	// metrics listener.
	EndpointDefault = "http://127.0.0.1:20241/metrics"
	// TimeoutDefault bounds one scrape.
	TimeoutDefault = 5 * time.Second
	// IntervalDefault paces the watch loop.
	IntervalDefault = 2 * time.Second
)

// Option provides behavior overrides
type Option func(*options)

// Endpoint overrides the metrics URL
func Endpoint(url string) Option {
	return func(o *options) {
		o.endpoint = url
	}
}

// Timeout overrides the per-scrape timeout
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// HTTPClient overrides the transport
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

type options struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func collectOptions(opts []Option) options {
	// set defaults
	o := options{
		endpoint: EndpointDefault,
		timeout:  TimeoutDefault,
	}
	// overlay values
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{
			Timeout: o.timeout,
		}
	}
	return o
}
