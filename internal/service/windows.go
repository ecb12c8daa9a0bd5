package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// windows drives a service through the Windows service control manager.
type windows struct {
	runner         Runner
	log            *logrus.Logger
	restartTimeout time.Duration
}

func newWindows(runner Runner, log *logrus.Logger) *windows {
	return &windows{runner: runner, log: log, restartTimeout: RestartTimeoutDefault}
}

func (w *windows) Status(ctx context.Context) (State, error) {
	out, err := w.runner.Run(ctx, "sc", "query", Name)
	if err != nil {
		if strings.Contains(out, "1060") {
			// ERROR_SERVICE_DOES_NOT_EXIST
			return State{}, &Error{Kind: NotInstalled, Err: err}
		}
		return State{}, classify(out, err)
	}
	return State{Status: parseScState(out)}, nil
}

func parseScState(out string) Status {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "STATE") {
			continue
		}
		switch {
		case strings.Contains(line, "RUNNING"):
			return Running
		case strings.Contains(line, "STOPPED"):
			return Stopped
		case strings.Contains(line, "STOP_PENDING"), strings.Contains(line, "START_PENDING"):
			return Unknown
		}
	}
	return Unknown
}

func (w *windows) Start(ctx context.Context) error {
	w.log.Debugf("sc start: %s", Name)
	out, err := w.runner.Run(ctx, "sc", "start", Name)
	if err != nil {
		return classify(out, err)
	}
	return nil
}

func (w *windows) Stop(ctx context.Context) error {
	w.log.Debugf("sc stop: %s", Name)
	out, err := w.runner.Run(ctx, "sc", "stop", Name)
	if err != nil {
		return classify(out, err)
	}
	return nil
}

func (w *windows) Restart(ctx context.Context) error {
	w.log.Debugf("sc restart: %s", Name)
	out, err := w.runner.Run(ctx, "sc", "stop", Name)
	if err != nil && !strings.Contains(out, "1062") {
		// ERROR_SERVICE_NOT_ACTIVE; a stopped service still restarts
		return classify(out, err)
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	return awaitRunning(ctx, w, w.restartTimeout)
}

func (w *windows) Install(ctx context.Context, token string) error {
	w.log.Infof("installing %s service", Name)
	out, err := w.runner.Run(ctx, Name, "service", "install", token)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "already installed") {
			return ErrAlreadyInstalled
		}
		return classify(out, err)
	}
	return nil
}

func (w *windows) Tail(ctx context.Context, lines int) (string, error) {
	script := fmt.Sprintf(
		"Get-WinEvent -LogName System -MaxEvents %d | "+
			"Where-Object { $_.ProviderName -eq 'Service Control Manager' -and $_.Message -like '*%s*' } | "+
			"Select-Object -First %d TimeCreated, Id, LevelDisplayName, Message | Format-Table -AutoSize",
		lines*10, Name, lines)
	out, err := w.runner.Run(ctx, "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		return "", classify(out, err)
	}
	return out, nil
}
