package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudflare/tunnel-manager/internal/cloudflare"
	"github.com/cloudflare/tunnel-manager/internal/configstore"
)

func snapshotWith(tunnelID string, rules ...configstore.Rule) *configstore.Snapshot {
	s := configstore.NewSnapshot(tunnelID, "")
	for _, r := range rules {
		s.SetRule(r)
	}
	return s
}

func kinds(c Chain) (ks []ActionKind) {
	for _, a := range c.Actions {
		ks = append(ks, a.Kind)
	}
	return
}

func TestDiffIdempotent(t *testing.T) {
	t.Parallel()

	rule := configstore.Rule{Hostname: "app.example.com", Service: "http://localhost:3000"}
	current := snapshotWith("t-1", rule)
	obs := &observed{
		dns: map[string]cloudflare.DNSRecord{
			"app.example.com": {
				ID:      "rec-1",
				Name:    "app.example.com",
				Type:    "CNAME",
				Content: cloudflare.TunnelTarget("t-1"),
				Proxied: true,
			},
		},
		remoteConfig: projectRemote("t-1", current),
		serviceState: ServiceStatus{Running: true},
	}
	req := &Request{TunnelID: "t-1", Set: []configstore.Rule{rule}, SyncDNS: true}

	plan, err := diff(req, current, obs)
	assert.NoError(t, err)
	assert.True(t, plan.Empty(), "converged state must yield an empty plan")
}

func TestDiffChains(t *testing.T) {
	t.Parallel()

	base := configstore.Rule{Hostname: "app.example.com", Service: "http://localhost:3000"}
	for name, test := range map[string]struct {
		req      *Request
		current  *configstore.Snapshot
		obs      *observed
		hostname string
		kinds    []ActionKind
	}{
		"new mapping offline": {
			req:      &Request{TunnelID: "t-1", Set: []configstore.Rule{base}, Offline: true},
			current:  snapshotWith("t-1"),
			obs:      &observed{dns: map[string]cloudflare.DNSRecord{}, offline: true},
			hostname: "app.example.com",
			kinds:    []ActionKind{WriteIngress},
		},
		"new mapping with dns sync": {
			req:      &Request{TunnelID: "t-1", Set: []configstore.Rule{base}, SyncDNS: true},
			current:  snapshotWith("t-1"),
			obs:      &observed{dns: map[string]cloudflare.DNSRecord{}},
			hostname: "app.example.com",
			kinds:    []ActionKind{CreateDNS, WriteIngress},
		},
		"drifted dns record": {
			req:     &Request{TunnelID: "t-1", Set: []configstore.Rule{base}, SyncDNS: true},
			current: snapshotWith("t-1", base),
			obs: &observed{
				dns: map[string]cloudflare.DNSRecord{
					"app.example.com": {
						ID:      "rec-1",
						Name:    "app.example.com",
						Type:    "CNAME",
						Content: "stale.cfargotunnel.com",
						Proxied: true,
					},
				},
			},
			hostname: "app.example.com",
			kinds:    []ActionKind{UpdateDNS},
		},
		"removal deletes dns before ingress": {
			req:     &Request{TunnelID: "t-1", Remove: []string{"app.example.com"}},
			current: snapshotWith("t-1", base),
			obs: &observed{
				dns: map[string]cloudflare.DNSRecord{
					"app.example.com": {ID: "rec-1", Name: "app.example.com", Type: "CNAME"},
				},
			},
			hostname: "app.example.com",
			kinds:    []ActionKind{DeleteDNS, RemoveIngress},
		},
		"removal offline skips dns": {
			req:      &Request{TunnelID: "t-1", Remove: []string{"app.example.com"}, Offline: true},
			current:  snapshotWith("t-1", base),
			obs:      &observed{dns: map[string]cloudflare.DNSRecord{}, offline: true},
			hostname: "app.example.com",
			kinds:    []ActionKind{RemoveIngress},
		},
	} {
		plan, err := diff(test.req, test.current, test.obs)
		assert.NoErrorf(t, err, "test '%s' diff error", name)
		assert.Equalf(t, 1, len(plan.Chains), "test '%s' chain count mismatch", name)
		assert.Equalf(t, test.hostname, plan.Chains[0].Hostname, "test '%s' hostname mismatch", name)
		assert.Equalf(t, test.kinds, kinds(plan.Chains[0]), "test '%s' action order mismatch", name)
	}
}

func TestDiffUpdateCarriesRecordID(t *testing.T) {
	t.Parallel()

	rule := configstore.Rule{Hostname: "app.example.com", Service: "http://localhost:3000"}
	obs := &observed{
		dns: map[string]cloudflare.DNSRecord{
			"app.example.com": {ID: "rec-9", Name: "app.example.com", Type: "A", Content: "198.51.100.7"},
		},
	}
	req := &Request{TunnelID: "t-1", SyncDNS: true}

	plan, err := diff(req, snapshotWith("t-1", rule), obs)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(plan.Chains))
	assert.Equal(t, UpdateDNS, plan.Chains[0].Actions[0].Kind)
	assert.Equal(t, "rec-9", plan.Chains[0].Actions[0].RecordID)
	assert.Equal(t, cloudflare.TunnelTarget("t-1"), plan.Chains[0].Actions[0].Record.Content)
}

func TestDiffRemovalOfUnknownHostname(t *testing.T) {
	t.Parallel()

	req := &Request{TunnelID: "t-1", Remove: []string{"ghost.example.com"}, Offline: true}
	plan, err := diff(req, snapshotWith("t-1"), &observed{dns: map[string]cloudflare.DNSRecord{}, offline: true})
	assert.NoError(t, err)
	assert.True(t, plan.Empty(), "removing an undeclared hostname must plan nothing")
}

func TestDiffConflict(t *testing.T) {
	t.Parallel()

	local := configstore.Rule{Hostname: "api.example.com", Service: "http://localhost:8080"}
	remote := &cloudflare.TunnelConfiguration{
		TunnelID: "t-1",
		Config: cloudflare.TunnelConfigDetail{
			Ingress: []cloudflare.IngressRule{
				{Hostname: "api.example.com", Service: "http://localhost:9090"},
				{Service: configstore.CatchAllService},
			},
		},
	}
	obs := &observed{dns: map[string]cloudflare.DNSRecord{}, remoteConfig: remote}

	// without force the drifted hostname fails the cycle
	req := &Request{TunnelID: "t-1", Set: []configstore.Rule{local}, SyncDNS: true}
	_, err := diff(req, snapshotWith("t-1", local), obs)
	assert.Error(t, err)
	conflict, ok := err.(*ConflictError)
	if assert.True(t, ok, "drift must surface as a ConflictError") {
		assert.Equal(t, "api.example.com", conflict.Hostname)
		assert.Equal(t, "http://localhost:8080", conflict.Local)
		assert.Equal(t, "http://localhost:9090", conflict.Remote)
	}

	// with force the local declaration overwrites the remote config
	req.Force = true
	plan, err := diff(req, snapshotWith("t-1", local), obs)
	assert.NoError(t, err)
	if assert.NotNil(t, plan.Remote, "force must schedule a remote overwrite") {
		assert.Equal(t, "t-1", plan.Remote.TunnelID)
		assert.Contains(t, plan.Remote.Config.Ingress, cloudflare.IngressRule{
			Hostname: "api.example.com",
			Service:  "http://localhost:8080",
		})
	}
}

func TestDiffRestart(t *testing.T) {
	t.Parallel()

	rule := configstore.Rule{Hostname: "app.example.com", Service: "http://localhost:3000"}
	for name, test := range map[string]struct {
		running bool
		set     []configstore.Rule
		restart bool
	}{
		"running agent restarts on ingress change": {
			running: true,
			set:     []configstore.Rule{rule},
			restart: true,
		},
		"stopped agent is never started": {
			running: false,
			set:     []configstore.Rule{rule},
			restart: false,
		},
		"running agent untouched without changes": {
			running: true,
			restart: false,
		},
	} {
		req := &Request{TunnelID: "t-1", Set: test.set, Offline: true}
		obs := &observed{
			dns:          map[string]cloudflare.DNSRecord{},
			serviceState: ServiceStatus{Running: test.running},
			offline:      true,
		}
		plan, err := diff(req, snapshotWith("t-1"), obs)
		assert.NoErrorf(t, err, "test '%s' diff error", name)
		assert.Equalf(t, test.restart, plan.Restart, "test '%s' restart mismatch", name)
	}
}

func TestDiffChainsSorted(t *testing.T) {
	t.Parallel()

	req := &Request{
		TunnelID: "t-1",
		Set: []configstore.Rule{
			{Hostname: "zz.example.com", Service: "http://localhost:1"},
			{Hostname: "aa.example.com", Service: "http://localhost:2"},
			{Hostname: "mm.example.com", Service: "http://localhost:3"},
		},
		Offline: true,
	}
	plan, err := diff(req, snapshotWith("t-1"), &observed{dns: map[string]cloudflare.DNSRecord{}, offline: true})
	assert.NoError(t, err)
	var hosts []string
	for _, c := range plan.Chains {
		hosts = append(hosts, c.Hostname)
	}
	assert.Equal(t, []string{"aa.example.com", "mm.example.com", "zz.example.com"}, hosts)
}
