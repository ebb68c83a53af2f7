// Package fingerprint runs webanalyze against web endpoints found by the
// scanner and returns its structured output.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"

	"github.com/anstrom/nemesis/internal/errors"
)

//go:generate mockgen -destination=mocks/mock_fingerprinter.go -package=mocks github.com/anstrom/nemesis/internal/fingerprint Fingerprinter

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "webanalyze"

const operation = "webanalyze"

// Result is the decoded webanalyze output for one endpoint: one document per
// crawled page.
type Result []any

// Fingerprinter is the fingerprinting service collaborator.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, url string) (Result, error)
}

// CommandRunner executes name with args and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command through os/exec. Stderr is folded into the
// returned error on failure.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary and args come from config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Options configures the webanalyze invocation.
type Options struct {
	Binary   string
	Crawl    int
	AppsFile string
}

// Webanalyze fingerprints endpoints with the webanalyze CLI.
type Webanalyze struct {
	opts Options
	run  CommandRunner
}

// NewWebanalyze creates a fingerprinter. A nil runner uses ExecRunner.
func NewWebanalyze(opts Options, run CommandRunner) *Webanalyze {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if run == nil {
		run = ExecRunner
	}
	return &Webanalyze{opts: opts, run: run}
}

// Args returns the command line used for url.
func (w *Webanalyze) Args(url string) []string {
	args := []string{
		"-host", url,
		"-crawl", strconv.Itoa(w.opts.Crawl),
		"-output", "json",
		"-silent",
	}
	if w.opts.AppsFile != "" {
		args = append(args, "-apps", w.opts.AppsFile)
	}
	return args
}

// Fingerprint runs webanalyze for url. Failures are *errors.ScanError with
// CodeNotInstalled or CodeExecution.
func (w *Webanalyze) Fingerprint(ctx context.Context, url string) (Result, error) {
	out, err := w.run(ctx, w.opts.Binary, w.Args(url)...)
	if err != nil {
		// A configured absolute path that does not exist fails LookPath
		// with fs.ErrNotExist rather than exec.ErrNotFound.
		if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapScanErrorWithTarget(errors.CodeNotInstalled,
				"webanalyze is not installed", url, err).WithOperation(operation)
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeExecution,
			"webanalyze execution failed", url, err).WithOperation(operation)
	}

	result, err := decodeOutput(out)
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeExecution,
			"webanalyze produced unreadable output", url, err).WithOperation(operation)
	}
	return result, nil
}

// decodeOutput reads a stream of JSON documents. An empty stream is an error:
// webanalyze exits 0 even when it could not reach the host.
func decodeOutput(out []byte) (Result, error) {
	dec := json.NewDecoder(bytes.NewReader(out))
	var result Result
	for {
		var doc any
		err := dec.Decode(&doc)
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no output")
	}
	return result, nil
}
