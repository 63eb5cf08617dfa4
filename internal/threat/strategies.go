package threat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"visitguard/internal/httpx"
	"visitguard/internal/model"
)

// ErrInconclusive is returned by the heuristic strategy when nothing matched.
var ErrInconclusive = errors.New("threat: heuristic inconclusive")

// ISPSource yields the ISP name for the address being checked. It may block
// until a concurrent location lookup finishes and must honour ctx.
type ISPSource func(ctx context.Context) (string, error)

// StaticISP returns a source that always yields isp.
func StaticISP(isp string) ISPSource {
	return func(context.Context) (string, error) { return isp, nil }
}

// Strategy is one way of classifying an address.
type Strategy interface {
	Name() string
	Check(ctx context.Context, ip string, isp ISPSource) (model.ThreatResult, error)
}

// Reputation queries an IPHub-style service: GET <base>/ip/<ip> with an
// X-Key header, answering {"block": n}. Any non-zero block marks the address
// as VPN and proxy.
type Reputation struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type reputationResponse struct {
	IP    string `json:"ip"`
	Block int    `json:"block"`
	ISP   string `json:"isp"`
}

func (r *Reputation) Name() string { return "reputation" }

func (r *Reputation) Check(ctx context.Context, ip string, _ ISPSource) (model.ThreatResult, error) {
	endpoint := fmt.Sprintf("%s/ip/%s", strings.TrimRight(r.BaseURL, "/"), url.PathEscape(ip))
	var body reputationResponse
	if err := httpx.GetJSON(ctx, r.Client, endpoint, map[string]string{"X-Key": r.APIKey}, &body); err != nil {
		return model.ThreatResult{}, err
	}
	flagged := body.Block != 0
	return model.ThreatResult{IsVPN: flagged, IsProxy: flagged, Provider: r.Name()}, nil
}

var (
	vpnKeywords = []string{
		"vpn", "nordvpn", "expressvpn", "surfshark", "cyberghost", "private internet access",
		"mullvad", "protonvpn", "ipvanish", "hide.me", "windscribe", "tunnelbear",
		"purevpn", "hotspot shield", "vyprvpn",
	}
	proxyKeywords = []string{"proxy", "anonymizer"}
	torKeywords   = []string{"tor exit", "tor-exit", "torservers", "tor project"}

	hostingKeywords = []string{
		"hosting", "datacenter", "data center", "amazon", "aws", "google cloud",
		"microsoft azure", "digitalocean", "linode", "vultr", "hetzner", "ovh",
		"choopa", "leaseweb", "m247",
	}
)

// Cloud and VPS ranges that mark an address as hosting regardless of ISP name.
var datacenterCIDRs = []string{
	// DigitalOcean
	"64.225.0.0/16", "68.183.0.0/16", "104.131.0.0/16", "134.209.0.0/16",
	"138.68.0.0/16", "139.59.0.0/16", "142.93.0.0/16", "157.245.0.0/16",
	"159.65.0.0/16", "159.89.0.0/16", "161.35.0.0/16", "164.90.0.0/16",
	"165.22.0.0/16", "165.227.0.0/16", "167.71.0.0/16", "167.99.0.0/16",
	"174.138.0.0/16", "178.128.0.0/16", "178.62.0.0/16", "188.166.0.0/16",
	"206.189.0.0/16",
	// Linode
	"45.33.0.0/16", "45.56.0.0/16", "45.79.0.0/16", "50.116.0.0/16",
	"139.162.0.0/16", "172.104.0.0/15",
	// Vultr
	"45.32.0.0/16", "45.63.0.0/16", "45.76.0.0/16", "45.77.0.0/16",
	"108.61.0.0/16", "140.82.0.0/16", "144.202.0.0/16", "149.28.0.0/16",
	// Hetzner
	"5.9.0.0/16", "46.4.0.0/14", "78.46.0.0/15", "88.99.0.0/16",
	"95.216.0.0/14", "116.202.0.0/15", "135.181.0.0/16", "136.243.0.0/16",
	"138.201.0.0/16", "144.76.0.0/16", "148.251.0.0/16", "157.90.0.0/16",
	"159.69.0.0/16",
	// OVH
	"51.68.0.0/16", "51.75.0.0/16", "51.77.0.0/16", "51.89.0.0/16",
	"54.36.0.0/16", "137.74.0.0/16", "147.135.0.0/16", "178.32.0.0/15",
	// Google Cloud
	"34.64.0.0/10", "35.184.0.0/13", "104.154.0.0/15", "104.196.0.0/14",
	// AWS EC2
	"3.208.0.0/12", "18.204.0.0/14", "52.0.0.0/11", "54.144.0.0/12",
	// Azure
	"13.64.0.0/11", "20.33.0.0/16", "40.64.0.0/10",
}

var datacenterNets = mustPrefixes(datacenterCIDRs)

func mustPrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// IsDatacenterIP reports whether ip falls inside a known cloud or VPS range.
func IsDatacenterIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range datacenterNets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Heuristic classifies an address from its ISP name and datacenter ranges.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

func (h Heuristic) Check(ctx context.Context, ip string, isp ISPSource) (model.ThreatResult, error) {
	var name string
	if isp != nil {
		var err error
		if name, err = isp(ctx); err != nil && !IsDatacenterIP(ip) {
			return model.ThreatResult{}, fmt.Errorf("isp lookup: %w", err)
		}
	}
	res := ClassifyISP(name)
	if IsDatacenterIP(ip) {
		res.IsHosting = true
	}
	if !res.Flagged() {
		return model.ThreatResult{}, ErrInconclusive
	}
	res.Provider = h.Name()
	return res, nil
}

// ClassifyISP matches an ISP name against the keyword lists.
func ClassifyISP(isp string) model.ThreatResult {
	lower := strings.ToLower(isp)
	return model.ThreatResult{
		IsVPN:     containsAny(lower, vpnKeywords),
		IsProxy:   containsAny(lower, proxyKeywords),
		IsTor:     containsAny(lower, torKeywords),
		IsHosting: containsAny(lower, hostingKeywords),
	}
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
