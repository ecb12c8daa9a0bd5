// Package service controls the locally supervised cloudflared process
// through the host's service manager. One backend exists per platform;
// the backend is selected once at startup and callers only see the
// Supervisor interface.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Name is the service name the agent installs itself under.
const Name = "cloudflared"

// ErrAlreadyInstalled is returned by Install when the agent's service
// is already registered, possibly for another tunnel.
var ErrAlreadyInstalled = errors.New("service already installed")

// Status enumerates the observed process states.
type Status int

const (
	// Unknown indicates the state could not be determined
	Unknown Status = iota
	// Running indicates the agent process is active
	Running
	// Stopped indicates the agent process is not active
	Stopped
	// Failed indicates the service manager reports a failure
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is the observed supervisor state. It is read fresh on every
// reconciliation and never persisted as desired state.
type State struct {
	Status         Status
	ActiveTunnelID string
}

// Supervisor starts, stops, and queries the supervised agent process.
type Supervisor interface {
	Status(ctx context.Context) (State, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Install(ctx context.Context, token string) error
	Tail(ctx context.Context, lines int) (string, error)
}

// ErrorKind classifies supervisor failures.
type ErrorKind int

const (
	// NotInstalled indicates no service is registered with the manager
	NotInstalled ErrorKind = iota
	// PermissionDenied indicates the manager refused the operation
	PermissionDenied
	// Timeout indicates the service did not reach the expected state in time
	Timeout
	// Unsupported indicates no backend exists for the platform
	Unsupported
)

func (k ErrorKind) String() string {
	switch k {
	case NotInstalled:
		return "not-installed"
	case PermissionDenied:
		return "permission-denied"
	case Timeout:
		return "timeout"
	case Unsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error carries the failure kind and the underlying cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("service %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a service Error of the given kind.
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

const (
	// RestartTimeoutDefault bounds the post-restart status poll
	RestartTimeoutDefault = 30 * time.Second

	// restartPollInterval is the delay between status polls
	restartPollInterval = 500 * time.Millisecond
)

// ForPlatform selects the backend for the given GOOS.
func ForPlatform(goos string, runner Runner, log *logrus.Logger) (Supervisor, error) {
	switch goos {
	case "linux":
		return newSystemd(runner, log), nil
	case "darwin":
		return newLaunchd(runner, log), nil
	case "windows":
		return newWindows(runner, log), nil
	}
	return nil, &Error{Kind: Unsupported, Err: fmt.Errorf("no service backend for %s", goos)}
}

// awaitRunning polls status until Running or the timeout elapses. The
// restart call returning is not evidence the process came back.
func awaitRunning(ctx context.Context, s Supervisor, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		state, err := s.Status(ctx)
		if err == nil && state.Status == Running {
			return nil
		}
		if time.Now().After(deadline) {
			return &Error{Kind: Timeout, Err: fmt.Errorf("service not running after %s", timeout)}
		}
		select {
		case <-ctx.Done():
			return &Error{Kind: Timeout, Err: ctx.Err()}
		case <-time.After(restartPollInterval):
		}
	}
}
