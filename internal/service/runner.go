package service

import (
	"context"
	"os/exec"
	"strings"
)

// Runner executes a service-manager command and returns its combined
// output. Injectable so backends are testable without a host manager.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run executes the command and returns combined stdout and stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// classify maps common manager output to an error kind.
func classify(output string, err error) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "could not be found") ||
		strings.Contains(lower, "not-found") ||
		strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "not loaded"):
		return &Error{Kind: NotInstalled, Err: err}
	case strings.Contains(lower, "access is denied") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "interactive authentication required"):
		return &Error{Kind: PermissionDenied, Err: err}
	}
	return err
}
