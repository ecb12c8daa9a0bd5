package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// systemd drives a unit-managed service through systemctl/journalctl.
type systemd struct {
	runner         Runner
	log            *logrus.Logger
	restartTimeout time.Duration
}

func newSystemd(runner Runner, log *logrus.Logger) *systemd {
	return &systemd{runner: runner, log: log, restartTimeout: RestartTimeoutDefault}
}

func (s *systemd) Status(ctx context.Context) (State, error) {
	load, err := s.runner.Run(ctx, "systemctl", "show", Name, "-p", "LoadState")
	if err != nil {
		if cerr := classify(load, err); cerr != err {
			return State{}, cerr
		}
		return State{}, &Error{Kind: NotInstalled, Err: err}
	}
	if strings.Contains(load, "not-found") {
		return State{}, &Error{Kind: NotInstalled}
	}

	out, _ := s.runner.Run(ctx, "systemctl", "is-active", Name)
	state := State{Status: parseSystemdActive(out)}

	// best effort: recover the tunnel id from the unit command line
	if exec, err := s.runner.Run(ctx, "systemctl", "show", Name, "-p", "ExecStart"); err == nil {
		state.ActiveTunnelID = parseExecTunnel(exec)
	}
	return state, nil
}

func parseSystemdActive(out string) Status {
	switch strings.TrimSpace(out) {
	case "active":
		return Running
	case "inactive", "deactivating":
		return Stopped
	case "failed":
		return Failed
	}
	return Unknown
}

// parseExecTunnel extracts the tunnel id argument from an ExecStart
// line of the form "... tunnel run <id>".
func parseExecTunnel(exec string) string {
	fields := strings.Fields(exec)
	for i, f := range fields {
		if f == "run" && i+1 < len(fields) {
			arg := strings.TrimRight(fields[i+1], "}\";")
			if arg != "" && !strings.HasPrefix(arg, "-") {
				return arg
			}
		}
	}
	return ""
}

func (s *systemd) Start(ctx context.Context) error {
	s.log.Debugf("systemd start: %s", Name)
	out, err := s.runner.Run(ctx, "systemctl", "start", Name, "--no-pager")
	if err != nil {
		return classify(out, err)
	}
	return nil
}

func (s *systemd) Stop(ctx context.Context) error {
	s.log.Debugf("systemd stop: %s", Name)
	out, err := s.runner.Run(ctx, "systemctl", "stop", Name, "--no-pager")
	if err != nil {
		return classify(out, err)
	}
	return nil
}

func (s *systemd) Restart(ctx context.Context) error {
	s.log.Debugf("systemd restart: %s", Name)
	out, err := s.runner.Run(ctx, "systemctl", "restart", Name, "--no-pager")
	if err != nil {
		return classify(out, err)
	}
	return awaitRunning(ctx, s, s.restartTimeout)
}

func (s *systemd) Install(ctx context.Context, token string) error {
	s.log.Infof("installing %s service", Name)
	out, err := s.runner.Run(ctx, Name, "service", "install", token)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "already installed") {
			return ErrAlreadyInstalled
		}
		return classify(out, err)
	}
	return nil
}

func (s *systemd) Tail(ctx context.Context, lines int) (string, error) {
	out, err := s.runner.Run(ctx, "journalctl", "-u", Name, "-n", strconv.Itoa(lines), "--no-pager")
	if err != nil {
		return "", classify(out, err)
	}
	return out, nil
}
