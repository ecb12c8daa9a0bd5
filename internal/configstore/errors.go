package configstore

import "fmt"

// ErrorKind classifies config store failures.
type ErrorKind int

const (
	// NotFound indicates the config file does not exist
	NotFound ErrorKind = iota
	// ParseFailure indicates the config file exists but failed to parse or validate
	ParseFailure
	// WriteFailure indicates the config file could not be persisted
	WriteFailure
	// Locked indicates the advisory lock could not be acquired in time
	Locked
	// NotConfigured indicates required credentials are absent
	NotConfigured
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case ParseFailure:
		return "parse-failure"
	case WriteFailure:
		return "write-failure"
	case Locked:
		return "locked"
	case NotConfigured:
		return "not-configured"
	}
	return "unknown"
}

// Error carries the failure kind and the path involved.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configstore %s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("configstore %s: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a configstore Error of the given kind.
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
