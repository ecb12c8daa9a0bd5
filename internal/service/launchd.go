package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// launchd drives a launch-agent-managed service through launchctl.
type launchd struct {
	runner         Runner
	log            *logrus.Logger
	restartTimeout time.Duration
}

func newLaunchd(runner Runner, log *logrus.Logger) *launchd {
	return &launchd{runner: runner, log: log, restartTimeout: RestartTimeoutDefault}
}

var launchdLabels = []string{
	"com.cloudflare.cloudflared",
	"homebrew.mxcl.cloudflared",
}

// target returns the first loaded launchd service target, trying the
// system domain then the current user's gui domain per known label.
func (l *launchd) target(ctx context.Context) (string, bool) {
	domains := []string{"system", fmt.Sprintf("gui/%d", os.Getuid())}
	for _, domain := range domains {
		for _, label := range launchdLabels {
			t := domain + "/" + label
			if _, err := l.runner.Run(ctx, "launchctl", "print", t); err == nil {
				return t, true
			}
		}
	}
	return "", false
}

func (l *launchd) Status(ctx context.Context) (State, error) {
	t, ok := l.target(ctx)
	if !ok {
		return State{}, &Error{Kind: NotInstalled}
	}
	out, err := l.runner.Run(ctx, "launchctl", "print", t)
	if err != nil {
		return State{}, classify(out, err)
	}
	state := State{Status: parseLaunchdState(out)}
	state.ActiveTunnelID = parseExecTunnel(out)
	return state, nil
}

func parseLaunchdState(out string) Status {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "state = ") {
			continue
		}
		switch strings.TrimPrefix(line, "state = ") {
		case "running":
			return Running
		case "not running", "waiting":
			return Stopped
		}
		return Unknown
	}
	return Unknown
}

func (l *launchd) Start(ctx context.Context) error {
	l.log.Debugf("launchd start: %s", Name)
	t, ok := l.target(ctx)
	if !ok {
		return &Error{Kind: NotInstalled}
	}
	out, err := l.runner.Run(ctx, "launchctl", "kickstart", "-k", t)
	if err != nil {
		return classify(out, err)
	}
	return nil
}

func (l *launchd) Stop(ctx context.Context) error {
	l.log.Debugf("launchd stop: %s", Name)
	t, ok := l.target(ctx)
	if !ok {
		return &Error{Kind: NotInstalled}
	}
	out, err := l.runner.Run(ctx, "launchctl", "bootout", t)
	if err != nil {
		return classify(out, err)
	}
	return nil
}

func (l *launchd) Restart(ctx context.Context) error {
	l.log.Debugf("launchd restart: %s", Name)
	t, ok := l.target(ctx)
	if !ok {
		return &Error{Kind: NotInstalled}
	}
	out, err := l.runner.Run(ctx, "launchctl", "kickstart", "-k", t)
	if err != nil {
		return classify(out, err)
	}
	return awaitRunning(ctx, l, l.restartTimeout)
}

func (l *launchd) Install(ctx context.Context, token string) error {
	l.log.Infof("installing %s service", Name)
	out, err := l.runner.Run(ctx, Name, "service", "install", token)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "already installed") {
			return ErrAlreadyInstalled
		}
		return classify(out, err)
	}
	return nil
}

func (l *launchd) Tail(ctx context.Context, lines int) (string, error) {
	out, err := l.runner.Run(ctx, "log", "show",
		"--last", "10m",
		"--predicate", fmt.Sprintf("process == %q", Name),
		"--style", "compact")
	if err != nil {
		return "", classify(out, err)
	}
	split := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(split) > lines {
		split = split[len(split)-lines:]
	}
	return strings.Join(split, "\n") + "\n", nil
}
