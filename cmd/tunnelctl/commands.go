package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	oklogrun "github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/cloudflare/tunnel-manager/internal/cloudflare"
	"github.com/cloudflare/tunnel-manager/internal/configstore"
	"github.com/cloudflare/tunnel-manager/internal/monitor"
	"github.com/cloudflare/tunnel-manager/internal/reconcile"
	"github.com/cloudflare/tunnel-manager/internal/service"
)

type cli struct {
	log        *logrus.Logger
	configPath string
	credsPath  string
}

type mapArgs struct {
	hostname string
	service  string
	path     string
	tunnelID string
	dns      bool
	force    bool
}

type policyArgs struct {
	appID    string
	name     string
	emails   []string
	domains  []string
	everyone bool
}

func (c *cli) store() *configstore.Store {
	return configstore.NewStore(c.configPath, c.log)
}

func (c *cli) creds() *configstore.CredentialStore {
	return configstore.NewCredentialStore(c.credsPath)
}

// client builds an API client scoped to the account.
func (c *cli) client() (*cloudflare.Client, error) {
	creds, err := c.creds().Require()
	if err != nil {
		return nil, err
	}
	return cloudflare.NewClient(creds.APIToken, creds.AccountID, creds.ZoneID, c.log), nil
}

// zoneClient builds an API client that may touch DNS records.
func (c *cli) zoneClient() (*cloudflare.Client, error) {
	creds, err := c.creds().RequireZone()
	if err != nil {
		return nil, err
	}
	return cloudflare.NewClient(creds.APIToken, creds.AccountID, creds.ZoneID, c.log), nil
}

func (c *cli) supervisor() (service.Supervisor, error) {
	return service.ForPlatform(runtime.GOOS, service.ExecRunner{}, c.log)
}

// opContext is the lifetime of a one-shot command: bounded, and ended
// early on an interrupt.
func opContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (c *cli) fail(err error) int {
	c.log.Errorf("%v", err)
	return exitCode(err)
}

// exitCode collapses an error into the documented process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case reconcile.IsConflict(err):
		return exitConflict
	case cloudflare.IsKind(err, cloudflare.Unauthorized):
		return exitUnauthorized
	case configstore.IsKind(err, configstore.Locked),
		configstore.IsKind(err, configstore.NotConfigured),
		configstore.IsKind(err, configstore.NotFound),
		configstore.IsKind(err, configstore.ParseFailure),
		configstore.IsKind(err, configstore.WriteFailure):
		return exitConfig
	}
	return exitFailure
}

// reconcile runs one cycle and reports its outcome. Online requests
// need zone-scoped credentials; offline requests never touch the API.
func (c *cli) reconcile(req *reconcile.Request, online bool) int {
	var remote reconcile.RemoteClient
	if online {
		client, err := c.zoneClient()
		if err != nil {
			return c.fail(err)
		}
		remote = client
	}
	sup, err := c.supervisor()
	if err != nil {
		return c.fail(err)
	}

	ctx, cancel := opContext()
	defer cancel()

	engine := reconcile.New(c.store(), remote, sup, c.log)
	result, err := engine.Reconcile(ctx, req)
	if err != nil {
		return c.fail(err)
	}
	return c.report(result)
}

func (c *cli) report(result *reconcile.Result) int {
	for _, outcome := range result.Outcomes {
		if outcome.Err != nil {
			fmt.Printf("failed   %s: %v\n", outcome.Hostname, outcome.Err)
		} else {
			fmt.Printf("ok       %s\n", outcome.Hostname)
		}
	}
	if result.Restarted {
		fmt.Println("agent restarted")
	}
	if result.RestartErr != nil {
		fmt.Printf("agent restart failed: %v\n", result.RestartErr)
	}

	switch result.Status {
	case reconcile.Failure:
		return exitFailure
	case reconcile.Partial:
		return exitPartial
	}
	if result.RestartErr != nil {
		return exitPartial
	}
	if result.Plan.Empty() {
		fmt.Println("nothing to do")
	}
	return exitOK
}

func (c *cli) mapHostname(args mapArgs) int {
	// force implies an online cycle; drift is a remote observation
	online := args.dns || args.force
	return c.reconcile(&reconcile.Request{
		TunnelID: args.tunnelID,
		Set: []configstore.Rule{{
			Hostname: args.hostname,
			Service:  args.service,
			Path:     args.path,
		}},
		SyncDNS: args.dns,
		Force:   args.force,
		Offline: !online,
	}, online)
}

func (c *cli) unmapHostname(hostname string, dns, force bool) int {
	online := dns || force
	return c.reconcile(&reconcile.Request{
		Remove:  []string{hostname},
		Force:   force,
		Offline: !online,
	}, online)
}

func (c *cli) show() int {
	snap, err := c.store().Load()
	if err != nil {
		if configstore.IsKind(err, configstore.NotFound) {
			fmt.Println("no mappings declared")
			return exitOK
		}
		return c.fail(err)
	}

	fmt.Printf("tunnel: %s\n", snap.Tunnel)
	for _, rule := range snap.Ingress {
		if rule.Hostname == "" {
			continue
		}
		if rule.Path != "" {
			fmt.Printf("  %-40s %s%s\n", rule.Hostname, rule.Service, rule.Path)
		} else {
			fmt.Printf("  %-40s %s\n", rule.Hostname, rule.Service)
		}
	}
	if len(snap.Hostnames()) == 0 {
		fmt.Println("  (none)")
	}
	return exitOK
}

func (c *cli) dnsList(name string) int {
	client, err := c.zoneClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	records, err := client.ListDNSRecords(ctx, name)
	if err != nil {
		return c.fail(err)
	}
	for _, rec := range records {
		proxied := " "
		if rec.Proxied {
			proxied = "proxied"
		}
		fmt.Printf("%-34s %-6s %-40s %-40s %s\n", rec.ID, rec.Type, rec.Name, rec.Content, proxied)
	}
	return exitOK
}

func (c *cli) dnsDelete(recordID string) int {
	client, err := c.zoneClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	if err := client.DeleteDNSRecord(ctx, recordID); err != nil {
		return c.fail(err)
	}
	fmt.Printf("deleted %s\n", recordID)
	return exitOK
}

func (c *cli) dnsSync(tunnelID string, force, offline bool) int {
	return c.reconcile(&reconcile.Request{
		TunnelID: tunnelID,
		SyncDNS:  true,
		Force:    force,
		Offline:  offline,
	}, !offline)
}

func (c *cli) tunnelList() int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	tunnels, err := client.ListTunnels(ctx)
	if err != nil {
		return c.fail(err)
	}

	active := ""
	if snap, err := c.store().Load(); err == nil {
		active = snap.Tunnel
	}
	for _, t := range tunnels {
		marker := " "
		if t.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %-38s %-24s %s\n", marker, t.ID, t.Name, t.Status)
	}
	return exitOK
}

func (c *cli) tunnelCreate(name string) int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return c.fail(err)
	}
	tunnel, err := client.CreateTunnel(ctx, name, base64.StdEncoding.EncodeToString(secret))
	if err != nil {
		return c.fail(err)
	}
	fmt.Printf("created %s %s\n", tunnel.ID, tunnel.Name)
	return exitOK
}

func (c *cli) tunnelDelete(tunnelID string) int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	if err := client.DeleteTunnel(ctx, tunnelID); err != nil {
		return c.fail(err)
	}
	fmt.Printf("deleted %s\n", tunnelID)
	return exitOK
}

// tunnelSwitch points the local config at another tunnel. The tunnel
// is validated remotely first so a typo does not orphan the config.
func (c *cli) tunnelSwitch(tunnelID string) int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	tunnel, err := client.GetTunnel(ctx, tunnelID)
	if err != nil {
		return c.fail(err)
	}

	store := c.store()
	if err := store.Lock(ctx, configstore.LockWaitDefault); err != nil {
		return c.fail(err)
	}
	defer store.Unlock()

	snap, err := store.Load()
	if err != nil {
		if !configstore.IsKind(err, configstore.NotFound) {
			return c.fail(err)
		}
		snap = configstore.NewSnapshot(tunnel.ID, "")
	}
	snap.Tunnel = tunnel.ID
	snap.CredentialsFile = configstore.TunnelCredentialsPath(tunnel.ID)
	if err := store.Save(snap); err != nil {
		return c.fail(err)
	}
	fmt.Printf("switched to %s %s\n", tunnel.ID, tunnel.Name)
	return exitOK
}

func (c *cli) accessList() int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	apps, err := client.ListAccessApps(ctx)
	if err != nil {
		return c.fail(err)
	}
	for _, app := range apps {
		fmt.Printf("%-38s %-24s %s\n", app.ID, app.Name, app.Domain)
	}
	return exitOK
}

func (c *cli) accessCreate(name, domain, session string) int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	app, err := client.CreateAccessApp(ctx, &cloudflare.AccessApp{
		Name:            name,
		Domain:          domain,
		Type:            "self_hosted",
		SessionDuration: session,
	})
	if err != nil {
		return c.fail(err)
	}
	fmt.Printf("created %s %s\n", app.ID, app.Domain)
	return exitOK
}

func (c *cli) accessDelete(appID string) int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	if err := client.DeleteAccessApp(ctx, appID); err != nil {
		return c.fail(err)
	}
	fmt.Printf("deleted %s\n", appID)
	return exitOK
}

func (c *cli) accessPolicies(appID string) int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	policies, err := client.ListAccessPolicies(ctx, appID)
	if err != nil {
		return c.fail(err)
	}
	for _, p := range policies {
		fmt.Printf("%-38s %-24s %s\n", p.ID, p.Name, p.Decision)
	}
	return exitOK
}

func (c *cli) accessAllow(args policyArgs) int {
	var include []cloudflare.PolicyRule
	for _, email := range args.emails {
		include = append(include, cloudflare.PolicyRule{
			Email: &cloudflare.PolicyEmail{Email: email},
		})
	}
	for _, domain := range args.domains {
		include = append(include, cloudflare.PolicyRule{
			EmailDomain: &cloudflare.PolicyEmailDomain{Domain: domain},
		})
	}
	if args.everyone {
		include = append(include, cloudflare.PolicyRule{Everyone: &struct{}{}})
	}
	if len(include) == 0 {
		return c.fail(fmt.Errorf("policy needs at least one of --email, --email-domain or --everyone"))
	}

	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	policy, err := client.CreateAccessPolicy(ctx, args.appID, &cloudflare.AccessPolicy{
		Name:     args.name,
		Decision: "allow",
		Include:  include,
	})
	if err != nil {
		return c.fail(err)
	}
	fmt.Printf("created policy %s %s\n", policy.ID, policy.Name)
	return exitOK
}

func (c *cli) serviceStatus() int {
	sup, err := c.supervisor()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	state, err := sup.Status(ctx)
	if err != nil {
		if service.IsKind(err, service.NotInstalled) {
			fmt.Println("not installed")
			return exitOK
		}
		return c.fail(err)
	}
	if state.ActiveTunnelID != "" {
		fmt.Printf("%s (tunnel %s)\n", state.Status, state.ActiveTunnelID)
	} else {
		fmt.Println(state.Status)
	}
	return exitOK
}

func (c *cli) serviceAction(action string) int {
	sup, err := c.supervisor()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	switch action {
	case "start":
		err = sup.Start(ctx)
	case "stop":
		err = sup.Stop(ctx)
	case "restart":
		err = sup.Restart(ctx)
	}
	if err != nil {
		return c.fail(err)
	}
	fmt.Printf("%s: ok\n", action)
	return exitOK
}

// serviceInstall fetches the tunnel's run token from the API and hands
// it to the agent's own installer.
func (c *cli) serviceInstall(tunnelID string) int {
	if tunnelID == "" {
		snap, err := c.store().Load()
		if err != nil {
			return c.fail(err)
		}
		tunnelID = snap.Tunnel
	}
	if tunnelID == "" {
		return c.fail(fmt.Errorf("no tunnel configured, pass --tunnel or run tunnel switch"))
	}

	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	sup, err := c.supervisor()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	token, err := client.GetTunnelToken(ctx, tunnelID)
	if err != nil {
		return c.fail(err)
	}
	if err := sup.Install(ctx, token); err != nil {
		if err == service.ErrAlreadyInstalled {
			fmt.Println("already installed")
			return exitOK
		}
		return c.fail(err)
	}
	fmt.Println("installed")
	return exitOK
}

func (c *cli) serviceLogs(lines int) int {
	sup, err := c.supervisor()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	out, err := sup.Tail(ctx, lines)
	if err != nil {
		return c.fail(err)
	}
	fmt.Print(out)
	return exitOK
}

func (c *cli) stats(endpoint string, watch bool, interval time.Duration) int {
	client := monitor.NewClient(c.log, monitor.Endpoint(endpoint))

	if !watch {
		ctx, cancel := opContext()
		defer cancel()
		snap, err := client.Fetch(ctx)
		if err != nil {
			return c.fail(err)
		}
		printStats(snap)
		return exitOK
	}

	var g oklogrun.Group
	ctx, cancel := context.WithCancel(context.Background())
	{
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case s := <-sig:
				c.log.Infof("received signal=%s, exiting gracefully...\n", s.String())
				cancel()
			case <-ctx.Done():
			}
			return nil
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(func() error {
			return client.Watch(ctx, interval, func(snap *monitor.Snapshot, err error) {
				fmt.Print("\033[2J\033[H")
				if err != nil {
					fmt.Println("cannot reach metrics endpoint, is the agent running?")
					return
				}
				printStats(snap)
				fmt.Printf("\nlast update: %s\n", snap.At.Format("15:04:05"))
			})
		}, func(error) {
			cancel()
		})
	}
	if err := g.Run(); err != nil && err != context.Canceled {
		return c.fail(err)
	}
	return exitOK
}

func printStats(snap *monitor.Snapshot) {
	fmt.Printf("requests: %8s   streams: %6s   errors: %6s\n",
		monitor.FormatValue(snap.TotalRequests),
		monitor.FormatValue(snap.ActiveStreams),
		monitor.FormatValue(snap.RequestErrors))
	for _, r := range snap.Responses {
		fmt.Printf("  %s = %.0f\n", r.Label, r.Value)
	}
}

// configSet validates the token before persisting anything, and fills
// in identifiers the caller omitted by asking the API.
func (c *cli) configSet(token, accountID, zoneID, zoneName string) int {
	ctx, cancel := opContext()
	defer cancel()

	probe := cloudflare.NewClient(token, accountID, zoneID, c.log)
	if err := probe.VerifyToken(ctx); err != nil {
		return c.fail(err)
	}

	if accountID == "" {
		accounts, err := probe.ListAccounts(ctx)
		if err != nil {
			return c.fail(err)
		}
		if len(accounts) != 1 {
			return c.fail(fmt.Errorf("token reaches %d accounts, pass --account", len(accounts)))
		}
		accountID = accounts[0].ID
	}

	if zoneID == "" && zoneName != "" {
		zones, err := probe.ListZones(ctx)
		if err != nil {
			return c.fail(err)
		}
		for _, z := range zones {
			if z.Name == zoneName {
				zoneID = z.ID
				break
			}
		}
		if zoneID == "" {
			return c.fail(fmt.Errorf("zone %s is not reachable by this token", zoneName))
		}
	}

	creds := &configstore.Credentials{
		APIToken:  token,
		AccountID: accountID,
		ZoneID:    zoneID,
		ZoneName:  zoneName,
	}
	if err := c.creds().Save(creds); err != nil {
		return c.fail(err)
	}
	fmt.Println("saved")
	return exitOK
}

func (c *cli) configShow() int {
	creds, err := c.creds().Load()
	if err != nil {
		return c.fail(err)
	}
	fmt.Printf("token:   %s\n", creds.MaskedToken())
	fmt.Printf("account: %s\n", creds.AccountID)
	fmt.Printf("zone:    %s %s\n", creds.ZoneID, creds.ZoneName)
	fmt.Printf("config:  %s\n", c.configPath)
	return exitOK
}

func (c *cli) configTest() int {
	client, err := c.client()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := opContext()
	defer cancel()

	if err := client.VerifyToken(ctx); err != nil {
		return c.fail(err)
	}
	fmt.Println("token ok")
	return exitOK
}

func (c *cli) configClear() int {
	if err := c.creds().Clear(); err != nil {
		return c.fail(err)
	}
	fmt.Println("cleared")
	return exitOK
}

// check probes each layer of the system in turn and reports what is
// healthy. Failing probes do not stop later ones.
func (c *cli) check() int {
	ctx, cancel := opContext()
	defer cancel()

	healthy := true
	probe := func(name string, err error) {
		if err != nil {
			healthy = false
			fmt.Printf("fail  %-18s %v\n", name, err)
			return
		}
		fmt.Printf("ok    %s\n", name)
	}

	_, err := c.store().Load()
	if configstore.IsKind(err, configstore.NotFound) {
		err = nil
	}
	probe("config", err)

	creds, err := c.creds().Require()
	probe("credentials", err)

	if err == nil {
		client := cloudflare.NewClient(creds.APIToken, creds.AccountID, creds.ZoneID, c.log)
		probe("api token", client.VerifyToken(ctx))
	}

	if sup, err := c.supervisor(); err != nil {
		probe("agent service", err)
	} else {
		state, err := sup.Status(ctx)
		if service.IsKind(err, service.NotInstalled) {
			probe("agent service", fmt.Errorf("not installed"))
		} else if err != nil {
			probe("agent service", err)
		} else {
			probe(fmt.Sprintf("agent service (%s)", state.Status), nil)
		}
	}

	if _, err := monitor.NewClient(c.log).Fetch(ctx); err != nil {
		probe("agent metrics", fmt.Errorf("unreachable"))
	} else {
		probe("agent metrics", nil)
	}

	if !healthy {
		return exitFailure
	}
	return exitOK
}
