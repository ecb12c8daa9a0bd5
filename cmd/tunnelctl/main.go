package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cloudflare/tunnel-manager/internal/configstore"
	"github.com/cloudflare/tunnel-manager/internal/monitor"
)

var version = "UNKNOWN"

const (
	exitOK           = 0
	exitFailure      = 1
	exitPartial      = 2
	exitConfig       = 3
	exitUnauthorized = 4
	exitConflict     = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	name := filepath.Base(os.Args[0])
	app := kingpin.New(name, "Manage Cloudflare tunnel ingress, DNS, Access and the local agent.")
	verbose := app.Flag("v", "enable logging at specified level").Default("3").Int()
	configPath := app.Flag("config", "path to the tunnel ingress config").Default(configstore.DefaultConfigPath()).String()
	credsPath := app.Flag("credentials", "path to the saved API credentials").Default(configstore.DefaultCredentialsPath()).String()

	// variant (print version information)
	variant := app.Command("version", "print version")

	// mappings (declare hostname to local service bindings)
	mapCmd := app.Command("map", "declare a hostname to local-service mapping")
	mapHostname := mapCmd.Arg("hostname", "public hostname, e.g. app.example.com").Required().String()
	mapService := mapCmd.Arg("service", "local origin, e.g. http://localhost:3000").Required().String()
	mapPath := mapCmd.Flag("path", "optional path prefix the mapping serves").String()
	mapTunnel := mapCmd.Flag("tunnel", "tunnel id, defaults to the configured tunnel").String()
	mapDNS := mapCmd.Flag("dns", "also converge the hostname's DNS record").Bool()
	mapForce := mapCmd.Flag("force", "overwrite a drifted remote tunnel configuration").Bool()

	unmapCmd := app.Command("unmap", "remove a hostname mapping")
	unmapHostname := unmapCmd.Arg("hostname", "hostname to remove").Required().String()
	unmapDNS := unmapCmd.Flag("dns", "also remove the hostname's DNS record").Bool()
	unmapForce := unmapCmd.Flag("force", "overwrite a drifted remote tunnel configuration").Bool()

	showCmd := app.Command("show", "show the declared mappings")

	// dns (records in the configured zone)
	dnsCmd := app.Command("dns", "DNS record management")
	dnsList := dnsCmd.Command("list", "list records in the configured zone")
	dnsListName := dnsList.Flag("name", "filter records by name").String()
	dnsDelete := dnsCmd.Command("delete", "delete a record")
	dnsDeleteID := dnsDelete.Arg("id", "record id").Required().String()
	dnsSync := dnsCmd.Command("sync", "converge DNS records for every declared mapping")
	dnsSyncTunnel := dnsSync.Flag("tunnel", "tunnel id, defaults to the configured tunnel").String()
	dnsSyncForce := dnsSync.Flag("force", "overwrite a drifted remote tunnel configuration").Bool()
	dnsSyncOffline := dnsSync.Flag("offline", "plan local actions only, touch nothing remote").Bool()

	// tunnel (remote tunnel lifecycle)
	tunnelCmd := app.Command("tunnel", "tunnel lifecycle management")
	tunnelList := tunnelCmd.Command("list", "list tunnels in the account")
	tunnelCreate := tunnelCmd.Command("create", "create a tunnel")
	tunnelCreateName := tunnelCreate.Arg("name", "tunnel name").Required().String()
	tunnelDelete := tunnelCmd.Command("delete", "delete a tunnel")
	tunnelDeleteID := tunnelDelete.Arg("id", "tunnel id").Required().String()
	tunnelSwitch := tunnelCmd.Command("switch", "point the local config at another tunnel")
	tunnelSwitchID := tunnelSwitch.Arg("id", "tunnel id").Required().String()

	// access (Zero Trust applications and policies)
	accessCmd := app.Command("access", "Zero Trust Access management")
	accessApp := accessCmd.Command("app", "Access application management")
	accessList := accessApp.Command("list", "list Access applications")
	accessCreate := accessApp.Command("create", "create a self-hosted Access application")
	accessCreateName := accessCreate.Arg("name", "application name").Required().String()
	accessCreateDomain := accessCreate.Flag("domain", "application domain").Required().String()
	accessCreateSession := accessCreate.Flag("session", "session duration").Default("24h").String()
	accessDelete := accessApp.Command("delete", "delete an Access application")
	accessDeleteID := accessDelete.Arg("id", "application id").Required().String()
	accessPolicy := accessCmd.Command("policy", "Access policy management")
	accessPolicies := accessPolicy.Command("list", "list policies of an application")
	accessPoliciesID := accessPolicies.Arg("app-id", "application id").Required().String()
	accessAllow := accessPolicy.Command("create", "attach an allow policy to an application")
	accessAllowID := accessAllow.Arg("app-id", "application id").Required().String()
	accessAllowName := accessAllow.Flag("name", "policy name").Default("allow").String()
	accessAllowEmails := accessAllow.Flag("email", "allow an email address, repeatable").Strings()
	accessAllowDomains := accessAllow.Flag("email-domain", "allow every address in a domain, repeatable").Strings()
	accessAllowEveryone := accessAllow.Flag("everyone", "allow everyone").Bool()

	// service (the locally supervised agent)
	serviceCmd := app.Command("service", "control the local cloudflared agent")
	serviceStatus := serviceCmd.Command("status", "show agent state")
	serviceStart := serviceCmd.Command("start", "start the agent")
	serviceStop := serviceCmd.Command("stop", "stop the agent")
	serviceRestart := serviceCmd.Command("restart", "restart the agent and wait for it to run")
	serviceInstall := serviceCmd.Command("install", "install the agent as a system service")
	serviceInstallTunnel := serviceInstall.Flag("tunnel", "tunnel id, defaults to the configured tunnel").String()
	serviceLogs := serviceCmd.Command("logs", "show recent agent logs")
	serviceLogsLines := serviceLogs.Flag("lines", "number of log lines").Default("20").Int()

	// stats (agent metrics)
	statsCmd := app.Command("stats", "show tunnel traffic statistics")
	statsWatch := statsCmd.Flag("watch", "refresh continuously until interrupted").Bool()
	statsInterval := statsCmd.Flag("interval", "refresh interval in watch mode").Default("2s").Duration()
	statsEndpoint := statsCmd.Flag("endpoint", "agent metrics endpoint").Default(monitor.EndpointDefault).String()

	// config (API credentials)
	configCmd := app.Command("config", "API credential management")
	configSet := configCmd.Command("set", "save API token and identifiers")
	configSetToken := configSet.Flag("token", "API token").Required().String()
	configSetAccount := configSet.Flag("account", "account id, discovered from the token when omitted").String()
	configSetZoneID := configSet.Flag("zone-id", "zone id, discovered from the zone name when omitted").String()
	configSetZone := configSet.Flag("zone", "zone name").String()
	configShow := configCmd.Command("show", "show the saved configuration with the token masked")
	configTest := configCmd.Command("test", "verify the saved token against the API")
	configClear := configCmd.Command("clear", "remove the saved credentials")

	checkCmd := app.Command("check", "run local and remote health checks")

	command := kingpin.MustParse(app.Parse(args))

	log := logrus.StandardLogger()
	log.SetLevel(logruslevel(*verbose))
	log.Out = os.Stderr

	c := &cli{
		log:        log,
		configPath: *configPath,
		credsPath:  *credsPath,
	}

	switch command {
	// variant (print version information)
	case variant.FullCommand():
		fmt.Printf("%s %s %s/%s\n", name, version, runtime.GOOS, runtime.GOARCH)
		return exitOK

	case mapCmd.FullCommand():
		return c.mapHostname(mapArgs{
			hostname: *mapHostname,
			service:  *mapService,
			path:     *mapPath,
			tunnelID: *mapTunnel,
			dns:      *mapDNS,
			force:    *mapForce,
		})
	case unmapCmd.FullCommand():
		return c.unmapHostname(*unmapHostname, *unmapDNS, *unmapForce)
	case showCmd.FullCommand():
		return c.show()

	case dnsList.FullCommand():
		return c.dnsList(*dnsListName)
	case dnsDelete.FullCommand():
		return c.dnsDelete(*dnsDeleteID)
	case dnsSync.FullCommand():
		return c.dnsSync(*dnsSyncTunnel, *dnsSyncForce, *dnsSyncOffline)

	case tunnelList.FullCommand():
		return c.tunnelList()
	case tunnelCreate.FullCommand():
		return c.tunnelCreate(*tunnelCreateName)
	case tunnelDelete.FullCommand():
		return c.tunnelDelete(*tunnelDeleteID)
	case tunnelSwitch.FullCommand():
		return c.tunnelSwitch(*tunnelSwitchID)

	case accessList.FullCommand():
		return c.accessList()
	case accessCreate.FullCommand():
		return c.accessCreate(*accessCreateName, *accessCreateDomain, *accessCreateSession)
	case accessDelete.FullCommand():
		return c.accessDelete(*accessDeleteID)
	case accessPolicies.FullCommand():
		return c.accessPolicies(*accessPoliciesID)
	case accessAllow.FullCommand():
		return c.accessAllow(policyArgs{
			appID:    *accessAllowID,
			name:     *accessAllowName,
			emails:   *accessAllowEmails,
			domains:  *accessAllowDomains,
			everyone: *accessAllowEveryone,
		})

	case serviceStatus.FullCommand():
		return c.serviceStatus()
	case serviceStart.FullCommand():
		return c.serviceAction("start")
	case serviceStop.FullCommand():
		return c.serviceAction("stop")
	case serviceRestart.FullCommand():
		return c.serviceAction("restart")
	case serviceInstall.FullCommand():
		return c.serviceInstall(*serviceInstallTunnel)
	case serviceLogs.FullCommand():
		return c.serviceLogs(*serviceLogsLines)

	case statsCmd.FullCommand():
		return c.stats(*statsEndpoint, *statsWatch, *statsInterval)

	case configSet.FullCommand():
		return c.configSet(*configSetToken, *configSetAccount, *configSetZoneID, *configSetZone)
	case configShow.FullCommand():
		return c.configShow()
	case configTest.FullCommand():
		return c.configTest()
	case configClear.FullCommand():
		return c.configClear()

	case checkCmd.FullCommand():
		return c.check()
	}
	return exitOK
}

// bridge verbose flag into a logrus.Level
func logruslevel(v int) (l logrus.Level) {
	if v >= 0 && v <= 5 {
		l = logrus.AllLevels[v]
	} else if v > 5 {
		l = logrus.DebugLevel
	} else {
		l = logrus.PanicLevel
	}
	return
}

// opTimeout bounds any one-shot remote operation.
const opTimeout = 2 * time.Minute
