// Package scanning wraps nmap as the scan service used by the orchestrator.
// It builds nmap options from ScanOptions, runs the scanner, classifies
// failures, and converts nmap's result into a ScanResult.
package scanning

import (
	"context"
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/logging"
)

// operation tags errors raised by this package.
const operation = "nmap"

//go:generate mockgen -destination=mocks/mock_scanner.go -package=mocks github.com/anstrom/nemesis/internal/scanning Scanner

// Scanner is the scan service collaborator.
type Scanner interface {
	Scan(ctx context.Context, opts ScanOptions) (ScanResult, error)
}

// runner is the part of *nmap.Scanner we depend on.
type runner interface {
	Run() (*nmap.Run, *[]string, error)
}

type runnerFactory func(ctx context.Context, options ...nmap.Option) (runner, error)

func newNmapRunner(ctx context.Context, options ...nmap.Option) (runner, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, err
	}
	return scanner, nil
}

// NmapScanner runs scans through the nmap binary.
type NmapScanner struct {
	logger    *logging.Logger
	newRunner runnerFactory
	geteuid   func() int
	timeout   time.Duration
}

// NewNmapScanner creates a scanner that logs through logger.
func NewNmapScanner(logger *logging.Logger) *NmapScanner {
	if logger == nil {
		logger = logging.Default()
	}
	return &NmapScanner{
		logger:    logger.WithComponent("nmap"),
		newRunner: newNmapRunner,
		geteuid:   os.Geteuid,
	}
}

// WithTimeout bounds every invocation to d. Zero means no bound.
func (s *NmapScanner) WithTimeout(d time.Duration) *NmapScanner {
	s.timeout = d
	return s
}

// Scan runs one nmap invocation. Failures are *errors.ScanError carrying
// CodeNotInstalled, CodePermission, CodeTimeout or CodeExecution.
func (s *NmapScanner) Scan(ctx context.Context, opts ScanOptions) (ScanResult, error) {
	if opts.Target == "" {
		return nil, errors.ErrInvalidTarget(opts.Target)
	}

	// -O fails late and noisily without root, so refuse up front.
	// geteuid returns -1 on platforms without the concept.
	if opts.OSDetection {
		if euid := s.geteuid(); euid > 0 {
			return nil, errors.NewScanErrorWithTarget(errors.CodePermission,
				"OS detection requires root privileges", opts.Target).
				WithOperation(operation).
				WithContext("euid", euid)
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	scanner, err := s.newRunner(ctx, buildScanOptions(opts)...)
	if err != nil {
		return nil, classifyError(opts.Target, err, nil)
	}

	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		s.logger.Debug("nmap reported warnings", "target", opts.Target, "warnings", *warnings)
	}
	if err != nil {
		return nil, classifyError(opts.Target, err, warnings)
	}
	if result == nil {
		return nil, errors.NewScanErrorWithTarget(errors.CodeExecution, "nmap returned no result", opts.Target).
			WithOperation(operation)
	}

	return convertNmapRun(result), nil
}

// buildScanOptions creates nmap options based on scan options.
func buildScanOptions(opts ScanOptions) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(opts.Target),
		nmap.WithMostCommonPorts(opts.PortBudget),
	}

	if opts.ServiceDetection {
		options = append(options, nmap.WithServiceInfo())
	}
	if len(opts.Scripts) > 0 {
		options = append(options, nmap.WithScripts(opts.Scripts...))
	}
	if opts.OSDetection {
		options = append(options, nmap.WithOSDetection())
	}

	options = append(options, nmap.WithVerbosity(1))
	return options
}

var permissionMarkers = []string{
	"requires root",
	"root privileges",
	"operation not permitted",
	"permission denied",
}

// classifyError maps an nmap failure onto the error taxonomy so operators can
// tell a missing binary from a privilege problem.
func classifyError(target string, err error, warnings *[]string) *errors.ScanError {
	wrap := func(code errors.ErrorCode, msg string) *errors.ScanError {
		return errors.WrapScanErrorWithTarget(code, msg, target, err).WithOperation(operation)
	}

	if stderrors.Is(err, nmap.ErrNmapNotInstalled) {
		return wrap(errors.CodeNotInstalled, "nmap is not installed")
	}
	if stderrors.Is(err, nmap.ErrScanTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return wrap(errors.CodeTimeout, "nmap timed out")
	}
	if stderrors.Is(err, context.Canceled) {
		return wrap(errors.CodeCanceled, "nmap was interrupted")
	}

	text := strings.ToLower(err.Error())
	if warnings != nil {
		text += "\n" + strings.ToLower(strings.Join(*warnings, "\n"))
	}
	for _, marker := range permissionMarkers {
		if strings.Contains(text, marker) {
			return wrap(errors.CodePermission, "nmap needs elevated privileges")
		}
	}

	return wrap(errors.CodeExecution, "nmap execution failed")
}

// convertNmapRun converts nmap results to our format.
func convertNmapRun(run *nmap.Run) ScanResult {
	result := make(ScanResult, len(run.Hosts))
	for i := range run.Hosts {
		addr, host := convertNmapHost(&run.Hosts[i])
		if host == nil {
			continue
		}
		result[addr] = host
	}
	return result
}

// convertNmapHost converts a single nmap host. Hosts without an IP address
// are skipped.
func convertNmapHost(h *nmap.Host) (string, *HostResult) {
	addr := ""
	for _, a := range h.Addresses {
		if a.AddrType == "ipv4" || a.AddrType == "ipv6" || a.AddrType == "" {
			addr = a.Addr
			break
		}
	}
	if addr == "" {
		return "", nil
	}

	host := &HostResult{
		State: h.Status.State,
		Ports: make([]PortRecord, 0, len(h.Ports)),
	}
	for _, hn := range h.Hostnames {
		host.Hostnames = append(host.Hostnames, hn.Name)
	}
	for _, m := range h.OS.Matches {
		host.OS = append(host.OS, OSMatch{Name: m.Name, Accuracy: m.Accuracy})
	}

	for j := range h.Ports {
		p := &h.Ports[j]
		record := PortRecord{
			Port:     int(p.ID),
			Protocol: p.Protocol,
			State:    p.State.State,
			Service: Service{
				Name:      p.Service.Name,
				Product:   p.Service.Product,
				Version:   p.Service.Version,
				ExtraInfo: p.Service.ExtraInfo,
				Tunnel:    p.Service.Tunnel,
			},
			Scripts: make(map[string]any, len(p.Scripts)),
		}
		for _, script := range p.Scripts {
			record.Scripts[script.ID] = ScriptOutput{
				Raw:  script.Output,
				Data: scriptData(script.Elements, script.Tables),
			}
		}
		host.Ports = append(host.Ports, record)
	}

	return addr, host
}

// scriptData flattens NSE structured output. Keyed elements and tables become
// map entries; unkeyed ones are collected under "values" and "items".
func scriptData(elements []nmap.Element, tables []nmap.Table) map[string]any {
	if len(elements) == 0 && len(tables) == 0 {
		return nil
	}

	data := make(map[string]any)
	var values []string
	var items []any

	for _, e := range elements {
		if e.Key == "" {
			values = append(values, e.Value)
			continue
		}
		data[e.Key] = e.Value
	}
	for _, t := range tables {
		nested := scriptData(t.Elements, t.Tables)
		if t.Key == "" {
			items = append(items, nested)
			continue
		}
		data[t.Key] = nested
	}

	if len(values) > 0 {
		data["values"] = values
	}
	if len(items) > 0 {
		data["items"] = items
	}
	return data
}
