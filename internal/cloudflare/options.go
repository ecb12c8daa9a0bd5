package cloudflare

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BaseURLDefault is the production v4 API endpoint
	BaseURLDefault = "https://api.cloudflare.com/client/v4"

	// AttemptsDefault defines the attempts made for a retryable operation
	AttemptsDefault = 4

	// BackoffBaseDefault defines the first retry delay; doubled per attempt
	BackoffBaseDefault = 250 * time.Millisecond

	// TimeoutDefault bounds each HTTP call
	TimeoutDefault = 30 * time.Second

	// RateDefault paces outgoing calls (requests per second)
	RateDefault = 4

	// PerPageDefault is the page size requested from list endpoints
	PerPageDefault = 100
)

type options struct {
	baseURL     string
	httpClient  *http.Client
	attempts    int
	backoffBase time.Duration
	timeout     time.Duration
	limiter     *rate.Limiter
	perPage     int
}

// Option provides behavior overrides
type Option func(*options)

// BaseURL overrides the API endpoint
func BaseURL(s string) Option {
	return func(o *options) {
		o.baseURL = s
	}
}

// HTTPClient overrides the underlying HTTP client
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// Attempts defines retryable operation attempts
func Attempts(i int) Option {
	return func(o *options) {
		if i > 0 {
			o.attempts = i
		}
	}
}

// BackoffBase defines the first retry delay
func BackoffBase(d time.Duration) Option {
	return func(o *options) {
		o.backoffBase = d
	}
}

// Timeout bounds each HTTP call
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// RateLimit paces outgoing calls in requests per second
func RateLimit(rps float64) Option {
	return func(o *options) {
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// PerPage defines the page size for list operations
func PerPage(i int) Option {
	return func(o *options) {
		if i > 0 {
			o.perPage = i
		}
	}
}

func collectOptions(opts []Option) options {
	// set defaults
	o := options{
		baseURL:     BaseURLDefault,
		attempts:    AttemptsDefault,
		backoffBase: BackoffBaseDefault,
		timeout:     TimeoutDefault,
		limiter:     rate.NewLimiter(rate.Limit(RateDefault), 1),
		perPage:     PerPageDefault,
	}
	// overlay values
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o
}
