// Package reconcile computes the difference between the locally
// declared ingress state and the state observed from the remote
// control-plane and the local service supervisor, then applies a
// minimal ordered change set to converge them. Cycles are idempotent:
// re-running against converged state produces an empty plan.
package reconcile

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudflare/tunnel-manager/internal/cloudflare"
	"github.com/cloudflare/tunnel-manager/internal/configstore"
	"github.com/cloudflare/tunnel-manager/internal/service"
)

// RemoteClient is the control-plane surface the engine consumes.
// *cloudflare.Client satisfies it.
type RemoteClient interface {
	ListDNSRecords(ctx context.Context, name string) ([]cloudflare.DNSRecord, error)
	CreateDNSRecord(ctx context.Context, params *cloudflare.DNSRecordParams) (*cloudflare.DNSRecord, error)
	UpdateDNSRecord(ctx context.Context, recordID string, params *cloudflare.DNSRecordParams) (*cloudflare.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, recordID string) error
	GetTunnelConfiguration(ctx context.Context, tunnelID string) (*cloudflare.TunnelConfiguration, error)
	PutTunnelConfiguration(ctx context.Context, tunnelID string, config *cloudflare.TunnelConfiguration) error
}

// ServiceController is the supervisor surface the engine consumes.
// service.Supervisor satisfies it.
type ServiceController interface {
	Status(ctx context.Context) (service.State, error)
	Restart(ctx context.Context) error
}

// Request is one desired-state delta entering the engine.
type Request struct {
	// TunnelID scopes the cycle; falls back to the snapshot's tunnel.
	TunnelID string
	// Set declares or updates hostname mappings.
	Set []configstore.Rule
	// Remove drops hostname mappings.
	Remove []string
	// SyncDNS projects DNS records for every declared mapping.
	SyncDNS bool
	// Force lets local declarations overwrite a drifted remote config.
	Force bool
	// Offline skips remote observation; only local actions are planned.
	Offline bool
}

// Engine runs reconciliation cycles against one config file.
type Engine struct {
	store   *configstore.Store
	remote  RemoteClient
	svc     ServiceController
	log     *logrus.Logger
	options options
}

// New builds an engine over the given collaborators.
func New(store *configstore.Store, remote RemoteClient, svc ServiceController, log *logrus.Logger, opts ...Option) *Engine {
	return &Engine{
		store:   store,
		remote:  remote,
		svc:     svc,
		log:     log,
		options: collectOptions(opts),
	}
}

// Reconcile runs one full cycle: load, observe, diff, apply, commit.
// The config lock is held for the whole cycle so concurrent invocations
// serialize instead of interleaving.
func (e *Engine) Reconcile(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	cycle := uuid.NewString()
	log := e.log.WithField("cycle", cycle)

	if err := e.store.Lock(ctx, e.options.lockWait); err != nil {
		return nil, err
	}
	defer e.store.Unlock()

	// load; a missing file is a fresh start, not a failure
	current, err := e.store.Load()
	if err != nil {
		if !configstore.IsKind(err, configstore.NotFound) {
			return nil, err
		}
		current = configstore.NewSnapshot(req.TunnelID, "")
	}
	if req.TunnelID == "" {
		req.TunnelID = current.Tunnel
	}
	// a dns projection or remote overwrite without a tunnel id would
	// create records pointing at nothing
	if !req.Offline && req.TunnelID == "" && (req.SyncDNS || req.Force) {
		return nil, &cloudflare.Error{
			Kind: cloudflare.MissingIdentifier,
			Op:   "reconcile",
			Err:  errors.New("tunnel id is empty"),
		}
	}

	// observe
	obs, err := e.observe(ctx, req, current)
	if err != nil {
		return nil, err
	}
	log.Debugf("observed: %d dns records, service running=%t, offline=%t",
		len(obs.dns), obs.serviceState.Running, obs.offline)

	// diff
	plan, err := diff(req, current, obs)
	if err != nil {
		return nil, err
	}
	result := &Result{CycleID: cycle, Plan: plan, Status: Success}
	if plan.Empty() {
		log.Debugf("empty plan, nothing to reconcile")
		return result, nil
	}
	log.Infof("plan: %d hostname chains, remote-overwrite=%t, restart=%t",
		len(plan.Chains), plan.Remote != nil, plan.Restart)

	// apply
	applied, err := e.apply(ctx, log, plan, result)
	if err != nil {
		return nil, err
	}
	result.Status = overallStatus(result.Outcomes)

	// commit only what actually converged; failed hostnames keep their
	// prior declared state so a retry of the same cycle is idempotent
	next := current.Clone()
	changed := false
	for _, action := range applied {
		switch action.Kind {
		case WriteIngress:
			next.SetRule(action.Rule)
		case RemoveIngress:
			next.RemoveRule(action.Hostname)
		}
	}
	if !reflect.DeepEqual(next, current) {
		changed = true
	}
	if changed {
		if err := e.store.Save(next); err != nil {
			return nil, err
		}
		log.Infof("committed snapshot: %d rules", len(next.Ingress))
	}

	// bounce a running agent only after an ingress change landed
	if plan.Restart && changed {
		if err := e.svc.Restart(ctx); err != nil {
			log.WithError(err).Warnf("agent restart failed")
			result.RestartErr = err
		} else {
			result.Restarted = true
		}
	}
	return result, nil
}

func validateRequest(req *Request) error {
	for _, rule := range req.Set {
		if rule.Hostname == "" {
			return errors.New("mapping hostname is empty")
		}
		if rule.Service == "" {
			return errors.Errorf("mapping %s: service is empty", rule.Hostname)
		}
	}
	for _, hostname := range req.Remove {
		if hostname == "" {
			return errors.New("removal hostname is empty")
		}
	}
	return nil
}

// observe fetches fresh external state. Remote failures abort the
// cycle; no plan is built against stale-unknown state. A supervisor
// that reports not-installed counts as a stopped agent.
func (e *Engine) observe(ctx context.Context, req *Request, current *configstore.Snapshot) (*observed, error) {
	obs := &observed{
		dns:     map[string]cloudflare.DNSRecord{},
		offline: req.Offline,
	}

	if !req.Offline {
		records, err := e.remote.ListDNSRecords(ctx, "")
		if err != nil {
			return nil, errors.Wrap(err, "observe dns records")
		}
		for _, rec := range records {
			if rec.Type == "CNAME" {
				obs.dns[rec.Name] = rec
			}
		}

		// force needs the remote config too, to decide whether the
		// local declaration must overwrite it
		if (req.SyncDNS || req.Force) && req.TunnelID != "" {
			config, err := e.remote.GetTunnelConfiguration(ctx, req.TunnelID)
			if err != nil {
				return nil, errors.Wrap(err, "observe tunnel configuration")
			}
			obs.remoteConfig = config
		}
	}

	state, err := e.svc.Status(ctx)
	if err != nil {
		if !service.IsKind(err, service.NotInstalled) {
			return nil, errors.Wrap(err, "observe service state")
		}
		state = service.State{Status: service.Stopped}
	}
	obs.serviceState = ServiceStatus{Running: state.Status == service.Running}
	return obs, nil
}

// apply executes the plan: the remote overwrite first, then hostname
// chains concurrently up to the worker bound. Within one chain actions
// are sequential and stop on first failure; failures in one chain never
// block another hostname's chain. Cancellation is observed between
// actions only.
func (e *Engine) apply(ctx context.Context, log *logrus.Entry, plan *Plan, result *Result) ([]Action, error) {
	if plan.Remote != nil {
		if err := e.remote.PutTunnelConfiguration(ctx, plan.Remote.TunnelID, plan.Remote); err != nil {
			// the overwrite is the precondition of every forced chain
			return nil, errors.Wrap(err, "overwrite remote tunnel configuration")
		}
		log.Infof("remote tunnel configuration overwritten: %d rules", len(plan.Remote.Config.Ingress))
	}

	var mu sync.Mutex
	var applied []Action

	var g errgroup.Group
	g.SetLimit(e.options.workers)
	for _, c := range plan.Chains {
		c := c
		g.Go(func() error {
			chainErr := e.runChain(ctx, log, c, func(a Action) {
				mu.Lock()
				applied = append(applied, a)
				mu.Unlock()
			})
			mu.Lock()
			result.Outcomes = append(result.Outcomes, HostOutcome{Hostname: c.Hostname, Err: chainErr})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(result.Outcomes, func(i, j int) bool {
		return result.Outcomes[i].Hostname < result.Outcomes[j].Hostname
	})
	sort.Slice(applied, func(i, j int) bool {
		return applied[i].Hostname < applied[j].Hostname
	})
	return applied, nil
}

// runChain applies one hostname's actions in order, reporting each
// committed ingress mutation through record.
func (e *Engine) runChain(ctx context.Context, log *logrus.Entry, c Chain, record func(Action)) error {
	for _, a := range c.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.applyAction(ctx, a); err != nil {
			log.WithError(err).Warnf("action %s failed: %s", a.Kind, a.Hostname)
			return err
		}
		log.Debugf("action %s applied: %s", a.Kind, a.Hostname)
		if a.Kind == WriteIngress || a.Kind == RemoveIngress {
			record(a)
		}
	}
	return nil
}

func (e *Engine) applyAction(ctx context.Context, a Action) error {
	switch a.Kind {
	case CreateDNS:
		_, err := e.remote.CreateDNSRecord(ctx, a.Record)
		return err
	case UpdateDNS:
		_, err := e.remote.UpdateDNSRecord(ctx, a.RecordID, a.Record)
		return err
	case DeleteDNS:
		return e.remote.DeleteDNSRecord(ctx, a.RecordID)
	case WriteIngress, RemoveIngress:
		// local mutations land at commit; reaching this point means the
		// hostname's preceding remote actions succeeded
		return nil
	}
	return errors.Errorf("unexpected action kind %d", a.Kind)
}
