package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeRunner answers commands from a script keyed by joined argv
// prefix. A multi-entry reply list is consumed one call at a time,
// holding on the final entry.
type fakeRunner struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []string
}

type reply struct {
	out string
	err error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmd)
	for prefix, rs := range f.replies {
		if !strings.HasPrefix(cmd, prefix) {
			continue
		}
		r := rs[0]
		if len(rs) > 1 {
			f.replies[prefix] = rs[1:]
		}
		return r.out, r.err
	}
	return "", nil
}

func script(rs ...reply) []reply {
	return rs
}

func TestForPlatform(t *testing.T) {
	t.Parallel()
	for goos, ok := range map[string]bool{
		"linux":   true,
		"darwin":  true,
		"windows": true,
		"plan9":   false,
	} {
		s, err := ForPlatform(goos, &fakeRunner{}, testLogger())
		if ok {
			assert.NoErrorf(t, err, "platform %s", goos)
			assert.NotNilf(t, s, "platform %s", goos)
		} else {
			assert.Truef(t, IsKind(err, Unsupported), "platform %s", goos)
		}
	}
}

func TestSystemdStatus(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		active string
		status Status
	}{
		"active":       {active: "active\n", status: Running},
		"inactive":     {active: "inactive\n", status: Stopped},
		"failed":       {active: "failed\n", status: Failed},
		"activating":   {active: "activating\n", status: Unknown},
		"empty-output": {active: "", status: Unknown},
	} {
		runner := &fakeRunner{replies: map[string][]reply{
			"systemctl show cloudflared -p LoadState": script(reply{out: "LoadState=loaded\n"}),
			"systemctl is-active":                     script(reply{out: test.active}),
			"systemctl show cloudflared -p ExecStart": script(reply{out: "ExecStart={ path=/usr/bin/cloudflared ; argv[]=/usr/bin/cloudflared tunnel run t-123 }\n"}),
		}}
		state, err := newSystemd(runner, testLogger()).Status(context.Background())
		require.NoErrorf(t, err, "test '%s'", name)
		assert.Equalf(t, test.status, state.Status, "test '%s' status mismatch", name)
		assert.Equalf(t, "t-123", state.ActiveTunnelID, "test '%s' tunnel id mismatch", name)
	}
}

func TestSystemdStatusNotInstalled(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"systemctl show cloudflared -p LoadState": script(reply{out: "LoadState=not-found\n"}),
	}}
	_, err := newSystemd(runner, testLogger()).Status(context.Background())
	assert.True(t, IsKind(err, NotInstalled))
}

func TestSystemdRestartPollsUntilRunning(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"systemctl show cloudflared -p LoadState": script(reply{out: "LoadState=loaded\n"}),
		"systemctl restart":                       script(reply{out: ""}),
	}}
	runner.replies["systemctl is-active"] = script(
		reply{out: "inactive\n"},
		reply{out: "inactive\n"},
		reply{out: "active\n"},
	)
	s := newSystemd(runner, testLogger())
	s.restartTimeout = 5 * time.Second

	assert.NoError(t, s.Restart(context.Background()))
}

func TestSystemdRestartTimeout(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"systemctl show cloudflared -p LoadState": script(reply{out: "LoadState=loaded\n"}),
		"systemctl restart":                       script(reply{out: ""}),
		"systemctl is-active":                     script(reply{out: "inactive\n"}),
	}}
	s := newSystemd(runner, testLogger())
	s.restartTimeout = 100 * time.Millisecond

	err := s.Restart(context.Background())
	assert.True(t, IsKind(err, Timeout), "restart success must come from observed status, not the restart call")
}

func TestSystemdPermissionDenied(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"systemctl start": script(reply{out: "Interactive authentication required.\n", err: errors.New("exit status 1")}),
	}}
	err := newSystemd(runner, testLogger()).Start(context.Background())
	assert.True(t, IsKind(err, PermissionDenied))
}

func TestParseExecTunnel(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		in  string
		out string
	}{
		"tunnel-run-id": {
			in:  "ExecStart={ argv[]=/usr/bin/cloudflared tunnel run t-123 }",
			out: "t-123",
		},
		"config-driven": {
			in:  "ExecStart={ argv[]=/usr/bin/cloudflared --config /etc/cloudflared/config.yml run }",
			out: "",
		},
		"no-run": {
			in:  "ExecStart={ argv[]=/usr/bin/cloudflared version }",
			out: "",
		},
	} {
		assert.Equalf(t, test.out, parseExecTunnel(test.in), "test '%s' mismatch", name)
	}
}

func TestLaunchdStatus(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"launchctl print system/com.cloudflare.cloudflared": script(reply{out: "system/com.cloudflare.cloudflared = {\n\tstate = running\n}\n"}),
	}}
	state, err := newLaunchd(runner, testLogger()).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Running, state.Status)
}

func TestLaunchdNotInstalled(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"launchctl print": script(reply{out: "Could not find service", err: errors.New("exit status 113")}),
	}}
	_, err := newLaunchd(runner, testLogger()).Status(context.Background())
	assert.True(t, IsKind(err, NotInstalled))
}

func TestWindowsStatus(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		out    string
		err    error
		status Status
		kind   ErrorKind
		fails  bool
	}{
		"running": {
			out:    "SERVICE_NAME: cloudflared\n        STATE              : 4  RUNNING\n",
			status: Running,
		},
		"stopped": {
			out:    "SERVICE_NAME: cloudflared\n        STATE              : 1  STOPPED\n",
			status: Stopped,
		},
		"not-installed": {
			out:   "[SC] EnumQueryServicesStatus:OpenService FAILED 1060:\n",
			err:   errors.New("exit status 1060"),
			kind:  NotInstalled,
			fails: true,
		},
	} {
		runner := &fakeRunner{replies: map[string][]reply{
			"sc query": script(reply{out: test.out, err: test.err}),
		}}
		state, err := newWindows(runner, testLogger()).Status(context.Background())
		if test.fails {
			assert.Truef(t, IsKind(err, test.kind), "test '%s' kind mismatch, got %v", name, err)
			continue
		}
		require.NoErrorf(t, err, "test '%s'", name)
		assert.Equalf(t, test.status, state.Status, "test '%s' status mismatch", name)
	}
}

func TestWindowsRestartWhenStopped(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"sc stop": script(reply{
			out: "[SC] ControlService FAILED 1062:\n\nThe service has not been started.\n",
			err: errors.New("exit status 1062"),
		}),
		"sc start": script(reply{out: "START_PENDING"}),
		"sc query": script(reply{out: "SERVICE_NAME: cloudflared\n        STATE              : 4  RUNNING\n"}),
	}}
	w := newWindows(runner, testLogger())
	w.restartTimeout = 5 * time.Second
	assert.NoError(t, w.Restart(context.Background()))
}

func TestInstallAlreadyInstalled(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{replies: map[string][]reply{
		"cloudflared service install": script(reply{out: "error: cloudflared service is already installed", err: errors.New("exit status 1")}),
	}}
	err := newSystemd(runner, testLogger()).Install(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
}
