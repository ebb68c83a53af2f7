package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/nemesis/internal/scanning"
)

// PrintSummary writes a human-readable table of result to w, one row per port.
func PrintSummary(w io.Writer, result scanning.ScanResult) {
	if len(result) == 0 {
		fmt.Fprintln(w, "No results available")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Host", "Port", "Protocol", "State", "Service", "Version", "Scripts")

	for _, addr := range sortedAddresses(result) {
		host := result[addr]
		name := addr
		if host.DisplayName(addr) != addr {
			name = fmt.Sprintf("%s (%s)", addr, host.DisplayName(addr))
		}

		if len(host.Ports) == 0 {
			_ = table.Append([]string{name, "-", "-", host.State, "", "", ""})
			continue
		}

		for i := range host.Ports {
			p := &host.Ports[i]
			_ = table.Append([]string{
				name,
				strconv.Itoa(p.Port),
				p.Protocol,
				p.State,
				p.Service.Name,
				strings.TrimSpace(p.Service.Product + " " + p.Service.Version),
				strings.Join(scriptNames(p.Scripts), ","),
			})
		}
	}

	_ = table.Render()
}

func sortedAddresses(result scanning.ScanResult) []string {
	addrs := make([]string, 0, len(result))
	for addr := range result {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func scriptNames(scripts map[string]any) []string {
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
