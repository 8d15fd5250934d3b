package homekit

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
)

const (
	hapService = "_hap._tcp"
	mdnsDomain = "local."

	// categoryBridge is the HAP accessory category advertised in ci=.
	categoryBridge = 2
)

// advertiser is a running mDNS server.
type advertiser interface {
	Shutdown() error
}

func startMDNSServer(cfg *mdns.Config) (advertiser, error) {
	server, err := mdns.NewServer(cfg)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// txtRecords renders the HAP Bonjour TXT keys.
func txtRecords(id *Identity, model string) []string {
	return []string{
		"c#=" + strconv.Itoa(id.ConfigNumber),
		"ff=0",
		"id=" + id.DeviceID,
		"md=" + model,
		"pv=1.1",
		"s#=1",
		"sf=1",
		"ci=" + strconv.Itoa(categoryBridge),
	}
}

// newService describes the bridge as a _hap._tcp.local. service instance.
// Dots in the bridge name would split the instance label, so they become
// dashes. Without any routable address the loopback address is advertised.
func newService(bridgeName, host string, port int, ips []net.IP, txt []string) (*mdns.MDNSService, error) {
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4(127, 0, 0, 1)}
	}
	instance := strings.ReplaceAll(bridgeName, ".", "-")
	hostName := dns.Fqdn(host + "." + strings.TrimSuffix(mdnsDomain, "."))

	svc, err := mdns.NewMDNSService(instance, hapService, mdnsDomain, hostName, port, ips, txt)
	if err != nil {
		return nil, fmt.Errorf("describing mDNS service: %w", err)
	}
	return svc, nil
}

// localIPv4 lists the non-loopback IPv4 addresses of this host.
func localIPv4() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		ips = append(ips, ipnet.IP)
	}
	return ips
}
