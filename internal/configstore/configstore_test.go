package configstore

import (
	"context"
	"os"
	"path/filepath"
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

func TestSnapshotValidate(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		in *Snapshot
		ok bool
	}{
		"empty": {
			in: &Snapshot{},
			ok: true,
		},
		"catch-all-only": {
			in: NewSnapshot("t-1", "/creds.json"),
			ok: true,
		},
		"mapping-before-catch-all": {
			in: &Snapshot{
				Ingress: []Rule{
					{Hostname: "app.example.com", Service: "http://localhost:3000"},
					{Service: CatchAllService},
				},
			},
			ok: true,
		},
		"catch-all-not-last": {
			in: &Snapshot{
				Ingress: []Rule{
					{Service: CatchAllService},
					{Hostname: "app.example.com", Service: "http://localhost:3000"},
				},
			},
			ok: false,
		},
		"duplicate-hostname": {
			in: &Snapshot{
				Ingress: []Rule{
					{Hostname: "app.example.com", Service: "http://localhost:3000"},
					{Hostname: "app.example.com", Service: "http://localhost:4000"},
					{Service: CatchAllService},
				},
			},
			ok: false,
		},
		"empty-service": {
			in: &Snapshot{
				Ingress: []Rule{
					{Hostname: "app.example.com", Service: ""},
				},
			},
			ok: false,
		},
	} {
		err := test.in.Validate()
		if test.ok {
			assert.NoErrorf(t, err, "test '%s' expected valid snapshot", name)
		} else {
			assert.Errorf(t, err, "test '%s' expected validation error", name)
		}
	}
}

func TestSnapshotSetRule(t *testing.T) {
	t.Parallel()
	snap := NewSnapshot("t-1", "/creds.json")
	snap.SetRule(Rule{Hostname: "a.example.com", Service: "http://localhost:3000"})
	snap.SetRule(Rule{Hostname: "b.example.com", Service: "http://localhost:4000"})
	snap.SetRule(Rule{Hostname: "a.example.com", Service: "http://localhost:5000"})

	require.Len(t, snap.Ingress, 3)
	assert.Equal(t, "a.example.com", snap.Ingress[0].Hostname)
	assert.Equal(t, "http://localhost:5000", snap.Ingress[0].Service)
	assert.Equal(t, "b.example.com", snap.Ingress[1].Hostname)
	assert.Equal(t, "", snap.Ingress[2].Hostname, "catch-all must stay last")
	assert.NoError(t, snap.Validate())
}

func TestSnapshotRemoveRule(t *testing.T) {
	t.Parallel()
	snap := NewSnapshot("t-1", "/creds.json")
	snap.SetRule(Rule{Hostname: "a.example.com", Service: "http://localhost:3000"})

	assert.True(t, snap.RemoveRule("a.example.com"))
	assert.False(t, snap.RemoveRule("a.example.com"))
	assert.Equal(t, []string(nil), snap.Hostnames())
	require.Len(t, snap.Ingress, 1)
	assert.Equal(t, CatchAllService, snap.Ingress[0].Service)
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "config.yml"), testLogger())

	snap := NewSnapshot("tunnel-abc", "/root/.cloudflared/tunnel-abc.json")
	snap.SetRule(Rule{Hostname: "app.example.com", Service: "http://localhost:3000"})
	require.NoError(t, store.Save(snap))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestStoreLoadNotFound(t *testing.T) {
	t.Parallel()
	store := NewStore(filepath.Join(t.TempDir(), "config.yml"), testLogger())
	_, err := store.Load()
	assert.True(t, IsKind(err, NotFound))
}

func TestStoreLoadParseFailure(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"garbage":            "{{{not yaml",
		"unknown-field":      "tunnel: t\nbogus: true\n",
		"invalid-rule-order": "tunnel: t\ningress:\n  - service: http_status:404\n  - hostname: a.example.com\n    service: http://localhost:1\n",
	} {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := NewStore(path, testLogger()).Load()
		assert.Truef(t, IsKind(err, ParseFailure), "test '%s' expected parse failure, got %v", name, err)
	}
}

// A crash between temp write and rename leaves only a stray temp file;
// the target must still load the prior snapshot intact.
func TestStoreSaveAtomicity(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	store := NewStore(path, testLogger())

	snap := NewSnapshot("tunnel-abc", "/creds.json")
	require.NoError(t, store.Save(snap))

	// simulated crash artifact
	stray := filepath.Join(dir, "config.yml.tmp-crash")
	require.NoError(t, os.WriteFile(stray, []byte("tunnel: partial-wri"), 0o644))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tunnel-abc", got.Tunnel)
}

func TestStoreLock(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yml")
	a := NewStore(path, testLogger())
	b := NewStore(path, testLogger())

	ctx := context.Background()
	require.NoError(t, a.Lock(ctx, time.Second))
	defer a.Unlock()

	err := b.Lock(ctx, 200*time.Millisecond)
	assert.True(t, IsKind(err, Locked))

	a.Unlock()
	assert.NoError(t, b.Lock(ctx, time.Second))
	b.Unlock()
}

func TestMaskedToken(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		creds *Credentials
		out   string
	}{
		"unset": {
			creds: &Credentials{},
			out:   "not set",
		},
		"short": {
			creds: &Credentials{APIToken: "short"},
			out:   "****",
		},
		"long": {
			creds: &Credentials{APIToken: "abcdefghijklmnop"},
			out:   "abcd***...***mnop",
		},
		"unicode": {
			creds: &Credentials{APIToken: "测a试b字c符d串e"},
			out:   "测a试b***...***符d串e",
		},
	} {
		assert.Equalf(t, test.out, test.creds.MaskedToken(), "test '%s' mask mismatch", name)
	}
}

func TestCredentialStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	store := NewCredentialStore(path)

	creds, err := store.Load()
	require.NoError(t, err)
	assert.False(t, creds.Configured())

	_, err = store.Require()
	assert.True(t, IsKind(err, NotConfigured))

	require.NoError(t, store.Save(&Credentials{APIToken: "tok", AccountID: "acc"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = store.RequireZone()
	assert.True(t, IsKind(err, NotConfigured))

	require.NoError(t, store.Save(&Credentials{APIToken: "tok", AccountID: "acc", ZoneID: "zone"}))
	creds, err = store.RequireZone()
	require.NoError(t, err)
	assert.Equal(t, "zone", creds.ZoneID)

	require.NoError(t, store.Clear())
	_, err = store.Require()
	assert.True(t, IsKind(err, NotConfigured))
}
