package cloudflare

import "fmt"

// ErrorKind classifies remote control-plane failures.
type ErrorKind int

const (
	// MissingIdentifier indicates a required account/zone/resource id was empty
	MissingIdentifier ErrorKind = iota
	// Unauthorized indicates the credential was rejected; never retried
	Unauthorized
	// RateLimited indicates the edge throttled the request
	RateLimited
	// Validation indicates the request was rejected as malformed; never retried
	Validation
	// Transient indicates a temporary network or server failure
	Transient
)

func (k ErrorKind) String() string {
	switch k {
	case MissingIdentifier:
		return "missing-identifier"
	case Unauthorized:
		return "unauthorized"
	case RateLimited:
		return "rate-limited"
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	}
	return "unknown"
}

// retryable reports whether another attempt may succeed.
func (k ErrorKind) retryable() bool {
	return k == RateLimited || k == Transient
}

// APIError is a single error entry from the v4 response envelope.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error carries the failing operation, HTTP status, and any API errors.
type Error struct {
	Kind      ErrorKind
	Op        string
	Status    int
	APIErrors []APIError
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("cloudflare %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s, status=%d", msg, e.Status)
	}
	if len(e.APIErrors) > 0 {
		msg = fmt.Sprintf("%s: %s (code %d)", msg, e.APIErrors[0].Message, e.APIErrors[0].Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a cloudflare Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
