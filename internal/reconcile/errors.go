package reconcile

import "fmt"

// ConflictError reports remote drift: the remotely-stored tunnel
// configuration disagrees with the local declaration for a hostname.
// Fatal to the cycle unless force-overwrite was requested.
type ConflictError struct {
	Hostname string
	Local    string
	Remote   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote drift on %s: local=%s remote=%s", e.Hostname, e.Local, e.Remote)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	for err != nil {
		if _, ok := err.(*ConflictError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
