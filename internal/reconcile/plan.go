package reconcile

import (
	"sort"

	"github.com/cloudflare/tunnel-manager/internal/cloudflare"
	"github.com/cloudflare/tunnel-manager/internal/configstore"
)

// ActionKind enumerates the steps a plan may contain.
type ActionKind int

const (
	// CreateDNS adds the projected record for a hostname
	CreateDNS ActionKind = iota
	// UpdateDNS rewrites a drifted record for a hostname
	UpdateDNS
	// DeleteDNS removes the record for an unmapped hostname
	DeleteDNS
	// WriteIngress declares or updates the local rule for a hostname
	WriteIngress
	// RemoveIngress drops the local rule for a hostname
	RemoveIngress
	// RestartService bounces the supervised agent process
	RestartService
)

func (k ActionKind) String() string {
	switch k {
	case CreateDNS:
		return "create-dns"
	case UpdateDNS:
		return "update-dns"
	case DeleteDNS:
		return "delete-dns"
	case WriteIngress:
		return "write-ingress"
	case RemoveIngress:
		return "remove-ingress"
	case RestartService:
		return "restart-service"
	}
	return "unknown"
}

// Action is one step of a plan, bound to a single hostname.
type Action struct {
	Kind     ActionKind
	Hostname string
	Rule     configstore.Rule            // WriteIngress payload
	Record   *cloudflare.DNSRecordParams // CreateDNS/UpdateDNS payload
	RecordID string                      // UpdateDNS/DeleteDNS target
}

// Chain is the ordered action sequence for one hostname. Actions in a
// chain are strictly sequential; chains for different hostnames are
// independent.
type Chain struct {
	Hostname string
	Actions  []Action
}

// Plan is the transient change set for one reconciliation cycle.
type Plan struct {
	// Remote, when set, replaces the remotely-stored tunnel
	// configuration before any chain runs (force overwrite only).
	Remote *cloudflare.TunnelConfiguration

	Chains []Chain

	// Restart is set when an ingress change requires bouncing a
	// currently-running agent.
	Restart bool
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return p.Remote == nil && len(p.Chains) == 0 && !p.Restart
}

// dnsParams is the deterministic projection of a mapping onto DNS:
// a proxied CNAME from the hostname to the tunnel-specific target.
func dnsParams(hostname, tunnelID string) *cloudflare.DNSRecordParams {
	return &cloudflare.DNSRecordParams{
		Type:    "CNAME",
		Name:    hostname,
		Content: cloudflare.TunnelTarget(tunnelID),
		Proxied: true,
	}
}

// recordMatches reports whether an observed record already equals the
// projection.
func recordMatches(rec *cloudflare.DNSRecord, want *cloudflare.DNSRecordParams) bool {
	return rec.Type == want.Type && rec.Content == want.Content && rec.Proxied == want.Proxied
}

// observed is the freshly-fetched external state a diff runs against.
type observed struct {
	dns          map[string]cloudflare.DNSRecord // CNAME records by hostname
	remoteConfig *cloudflare.TunnelConfiguration // nil when offline
	serviceState ServiceStatus
	offline      bool
}

// ServiceStatus is the subset of supervisor state the diff needs.
type ServiceStatus struct {
	Running bool
}

// diff computes the minimal plan converting observed state into the
// desired snapshot. Per hostname: DNS actions precede ingress actions,
// and DeleteDNS always precedes RemoveIngress.
func diff(req *Request, current *configstore.Snapshot, obs *observed) (*Plan, error) {
	plan := &Plan{}
	chains := map[string]*Chain{}
	chain := func(hostname string) *Chain {
		c, ok := chains[hostname]
		if !ok {
			c = &Chain{Hostname: hostname}
			chains[hostname] = c
		}
		return c
	}

	desired := desiredSnapshot(req, current)

	// conflict detection against the remotely-stored tunnel config
	if obs.remoteConfig != nil {
		if err := detectDrift(desired, obs.remoteConfig, req.Force); err != nil {
			return nil, err
		}
		if req.Force && drifts(desired, obs.remoteConfig) {
			plan.Remote = projectRemote(req.TunnelID, desired)
		}
	}

	// declared or updated mappings
	for _, rule := range req.Set {
		cur, exists := current.Rule(rule.Hostname)
		if !exists || cur != rule {
			c := chain(rule.Hostname)
			c.Actions = append(c.Actions, Action{
				Kind:     WriteIngress,
				Hostname: rule.Hostname,
				Rule:     rule,
			})
		}
	}

	// DNS projection for every declared mapping, explicit sync only
	if req.SyncDNS && !obs.offline {
		for _, hostname := range desired.Hostnames() {
			want := dnsParams(hostname, req.TunnelID)
			rec, exists := obs.dns[hostname]
			var act *Action
			switch {
			case !exists:
				act = &Action{Kind: CreateDNS, Hostname: hostname, Record: want}
			case !recordMatches(&rec, want):
				act = &Action{Kind: UpdateDNS, Hostname: hostname, Record: want, RecordID: rec.ID}
			}
			if act != nil {
				c := chain(hostname)
				// DNS converges before the local declaration
				c.Actions = append([]Action{*act}, c.Actions...)
			}
		}
	}

	// removals: DNS record first, local rule last
	for _, hostname := range req.Remove {
		if _, exists := current.Rule(hostname); !exists {
			continue
		}
		c := chain(hostname)
		if rec, ok := obs.dns[hostname]; ok && !obs.offline {
			c.Actions = append(c.Actions, Action{
				Kind:     DeleteDNS,
				Hostname: hostname,
				RecordID: rec.ID,
			})
		}
		c.Actions = append(c.Actions, Action{
			Kind:     RemoveIngress,
			Hostname: hostname,
		})
	}

	for _, c := range chains {
		if len(c.Actions) > 0 {
			plan.Chains = append(plan.Chains, *c)
		}
	}
	sort.Slice(plan.Chains, func(i, j int) bool {
		return plan.Chains[i].Hostname < plan.Chains[j].Hostname
	})

	// a changed ingress file requires a restart of a running agent;
	// a stopped agent is never implicitly started
	if plan.ingressChanges() && obs.serviceState.Running {
		plan.Restart = true
	}
	return plan, nil
}

func (p *Plan) ingressChanges() bool {
	for _, c := range p.Chains {
		for _, a := range c.Actions {
			if a.Kind == WriteIngress || a.Kind == RemoveIngress {
				return true
			}
		}
	}
	return false
}

// desiredSnapshot overlays the request's delta onto the current
// snapshot without mutating it.
func desiredSnapshot(req *Request, current *configstore.Snapshot) *configstore.Snapshot {
	desired := current.Clone()
	for _, rule := range req.Set {
		desired.SetRule(rule)
	}
	for _, hostname := range req.Remove {
		desired.RemoveRule(hostname)
	}
	return desired
}

// detectDrift fails with the first hostname whose remote declaration
// disagrees with the local one. Force suppresses the failure; the
// caller then schedules a remote overwrite instead.
func detectDrift(desired *configstore.Snapshot, remote *cloudflare.TunnelConfiguration, force bool) error {
	if force {
		return nil
	}
	for _, hostname := range desired.Hostnames() {
		local, _ := desired.Rule(hostname)
		for _, rule := range remote.Config.Ingress {
			if rule.Hostname != hostname {
				continue
			}
			if rule.Service != local.Service || rule.Path != local.Path {
				return &ConflictError{
					Hostname: hostname,
					Local:    local.Service,
					Remote:   rule.Service,
				}
			}
		}
	}
	return nil
}

// drifts reports whether the remote config differs from the desired
// declaration at all.
func drifts(desired *configstore.Snapshot, remote *cloudflare.TunnelConfiguration) bool {
	want := projectRemote("", desired).Config.Ingress
	got := remote.Config.Ingress
	if len(want) != len(got) {
		return true
	}
	for i := range want {
		if want[i] != got[i] {
			return true
		}
	}
	return false
}

// projectRemote renders the desired snapshot as a remote tunnel
// configuration payload.
func projectRemote(tunnelID string, desired *configstore.Snapshot) *cloudflare.TunnelConfiguration {
	config := &cloudflare.TunnelConfiguration{TunnelID: tunnelID}
	for _, rule := range desired.Ingress {
		config.Config.Ingress = append(config.Config.Ingress, cloudflare.IngressRule{
			Hostname: rule.Hostname,
			Service:  rule.Service,
			Path:     rule.Path,
		})
	}
	return config
}
