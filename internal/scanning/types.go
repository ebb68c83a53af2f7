package scanning

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// SizeTier selects how many of nmap's most common ports are examined.
type SizeTier int

const (
	// SizeUnset means no tier was requested; ResolveSizeTier applies the default.
	SizeUnset SizeTier = iota
	SizeSmall
	SizeMedium
	SizeLarge
)

// DefaultSizeTier is applied when neither the command line nor the
// configuration file picks a tier.
const DefaultSizeTier = SizeMedium

// Port budgets per tier. Large covers the well-known and registered ports.
const (
	SmallPortBudget  = 10
	MediumPortBudget = 1000
	LargePortBudget  = 65389
)

var portBudgets = map[SizeTier]int{
	SizeSmall:  SmallPortBudget,
	SizeMedium: MediumPortBudget,
	SizeLarge:  LargePortBudget,
}

// String returns the lowercase tier name.
func (t SizeTier) String() string {
	switch t {
	case SizeSmall:
		return "small"
	case SizeMedium:
		return "medium"
	case SizeLarge:
		return "large"
	default:
		return "unset"
	}
}

// PortBudget returns the number of ports scanned for the tier, or 0 for SizeUnset.
func (t SizeTier) PortBudget() int {
	return portBudgets[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t SizeTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SizeTier) UnmarshalText(text []byte) error {
	parsed, err := ParseSizeTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseSizeTier parses a tier name. The empty string yields SizeUnset.
func ParseSizeTier(s string) (SizeTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SizeUnset, nil
	case "s", "small":
		return SizeSmall, nil
	case "m", "medium":
		return SizeMedium, nil
	case "l", "large":
		return SizeLarge, nil
	default:
		return SizeUnset, fmt.Errorf("invalid size tier %q (want small, medium or large)", s)
	}
}

// ResolveSizeTier returns the concrete tier and port budget for a request.
// An unset request falls back to def, and an unset def to DefaultSizeTier.
func ResolveSizeTier(requested, def SizeTier) (SizeTier, int) {
	tier := requested
	if tier == SizeUnset {
		tier = def
	}
	if _, ok := portBudgets[tier]; !ok {
		tier = DefaultSizeTier
	}
	return tier, portBudgets[tier]
}

// ScanOptions is one request to the scan service.
type ScanOptions struct {
	// Target is a host, address or CIDR range understood by nmap.
	Target string
	// PortBudget is passed as --top-ports.
	PortBudget int
	// ServiceDetection enables -sV.
	ServiceDetection bool
	// Scripts are NSE scripts run against open ports.
	Scripts []string
	// OSDetection enables -O, which requires root.
	OSDetection bool
}

// Degraded returns a copy with version detection, scripts and OS detection removed.
func (o ScanOptions) Degraded() ScanOptions {
	return ScanOptions{
		Target:     o.Target,
		PortBudget: o.PortBudget,
	}
}

// Enhanced reports whether the options ask for anything beyond a bare port scan.
func (o ScanOptions) Enhanced() bool {
	return o.ServiceDetection || o.OSDetection || len(o.Scripts) > 0
}

// ScanResult maps host address to what was found on it.
type ScanResult map[string]*HostResult

// Merge copies every host of other into r. A host present in both, as when
// two targets resolve to the same address, is combined port by port and the
// more detailed record of each port is kept, the existing one on a tie.
// Merge returns the addresses that were present in both.
func (r ScanResult) Merge(other ScanResult) []string {
	addrs := make([]string, 0, len(other))
	for addr := range other {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var overlapping []string
	for _, addr := range addrs {
		host := other[addr]
		existing, ok := r[addr]
		if !ok || existing == nil {
			r[addr] = host
			continue
		}
		if host == nil {
			continue
		}
		overlapping = append(overlapping, addr)
		r[addr] = mergeHosts(existing, host)
	}
	return overlapping
}

func mergeHosts(a, b *HostResult) *HostResult {
	merged := &HostResult{
		State:     a.State,
		Hostnames: append([]string(nil), a.Hostnames...),
		OS:        a.OS,
	}
	if merged.State != "up" && b.State != "" {
		merged.State = b.State
	}
	for _, name := range b.Hostnames {
		if !slices.Contains(merged.Hostnames, name) {
			merged.Hostnames = append(merged.Hostnames, name)
		}
	}
	if len(merged.OS) == 0 {
		merged.OS = b.OS
	}

	type portKey struct {
		port     int
		protocol string
	}
	index := make(map[portKey]int, len(a.Ports))
	merged.Ports = append(merged.Ports, a.Ports...)
	for i, p := range merged.Ports {
		index[portKey{p.Port, p.Protocol}] = i
	}
	for _, p := range b.Ports {
		i, ok := index[portKey{p.Port, p.Protocol}]
		if !ok {
			index[portKey{p.Port, p.Protocol}] = len(merged.Ports)
			merged.Ports = append(merged.Ports, p)
			continue
		}
		if p.moreDetailed(&merged.Ports[i]) {
			merged.Ports[i] = p
		}
	}
	sort.SliceStable(merged.Ports, func(i, j int) bool {
		if merged.Ports[i].Port != merged.Ports[j].Port {
			return merged.Ports[i].Port < merged.Ports[j].Port
		}
		return merged.Ports[i].Protocol < merged.Ports[j].Protocol
	})
	return merged
}

// PortCount returns the number of port records across all hosts.
func (r ScanResult) PortCount() int {
	n := 0
	for _, host := range r {
		n += len(host.Ports)
	}
	return n
}

// HostResult holds the scan findings for one address.
type HostResult struct {
	State     string       `json:"state"`
	Hostnames []string     `json:"hostnames,omitempty"`
	OS        []OSMatch    `json:"os,omitempty"`
	Ports     []PortRecord `json:"ports"`
}

// DisplayName returns the first hostname, or addr when nmap reported none.
func (h *HostResult) DisplayName(addr string) string {
	if len(h.Hostnames) > 0 && h.Hostnames[0] != "" {
		return h.Hostnames[0]
	}
	return addr
}

// OSMatch is one OS guess from -O.
type OSMatch struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

// PortRecord is a single scanned port.
type PortRecord struct {
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
	State    string         `json:"state"`
	Service  Service        `json:"service"`
	Scripts  map[string]any `json:"scripts"`
}

// IsWebService reports whether the detected service speaks HTTP.
func (p *PortRecord) IsWebService() bool {
	return p.Service.Name == "http" || p.Service.Name == "https"
}

// moreDetailed reports whether p carries more findings than q: more script
// results first, then more service version fields.
func (p *PortRecord) moreDetailed(q *PortRecord) bool {
	if len(p.Scripts) != len(q.Scripts) {
		return len(p.Scripts) > len(q.Scripts)
	}
	return p.Service.detail() > q.Service.detail()
}

// URL builds the endpoint URL used to fingerprint the port on host.
func (p *PortRecord) URL(host string) string {
	scheme := "http"
	if p.Service.Name == "https" || p.Service.Tunnel == "ssl" {
		scheme = "https"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, p.Port)
}

// Service describes what nmap detected behind a port.
type Service struct {
	Name      string `json:"name"`
	Product   string `json:"product,omitempty"`
	Version   string `json:"version,omitempty"`
	ExtraInfo string `json:"extrainfo,omitempty"`
	Tunnel    string `json:"tunnel,omitempty"`
}

func (s Service) detail() int {
	n := 0
	for _, f := range []string{s.Product, s.Version, s.ExtraInfo} {
		if f != "" {
			n++
		}
	}
	return n
}

// ScriptOutput is the stored form of one NSE script result.
type ScriptOutput struct {
	Raw  string         `json:"raw"`
	Data map[string]any `json:"data,omitempty"`
}
