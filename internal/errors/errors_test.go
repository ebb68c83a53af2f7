package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeTimeout,
		CodeCanceled,
		CodeNotInstalled,
		CodePermission,
		CodeExecution,
		CodeScanUnavailable,
		CodeScanFailed,
		CodeEnrichmentFailed,
		CodePersistence,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if string(code) == "" {
			t.Errorf("Error code %v should not be empty", code)
		}
		if seen[code] {
			t.Errorf("Error code %s is duplicated", code)
		}
		seen[code] = true
	}
}

func TestScanError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeScanFailed, "scan failed", "")
		if err.Code != CodeScanFailed {
			t.Errorf("Expected code %s, got %s", CodeScanFailed, err.Code)
		}
		if err.Message != "scan failed" {
			t.Errorf("Expected message 'scan failed', got '%s'", err.Message)
		}
		if err.Context == nil {
			t.Error("Context should be initialized")
		}
		if got := err.Error(); got != "[SCAN_FAILED] scan failed" {
			t.Errorf("Unexpected message %q", got)
		}
	})

	t.Run("error with target", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeScanFailed, "host down", "192.168.1.1")
		if err.Target != "192.168.1.1" {
			t.Errorf("Expected target 192.168.1.1, got %s", err.Target)
		}
		if !strings.Contains(err.Error(), "(target: 192.168.1.1)") {
			t.Errorf("Expected target in message, got %q", err.Error())
		}
	})

	t.Run("wrapped cause is reported and unwrapped", func(t *testing.T) {
		cause := fmt.Errorf("exit status 1")
		err := WrapScanErrorWithTarget(CodeExecution, "nmap failed", "10.0.0.1", cause)
		if !errors.Is(err, cause) {
			t.Error("Expected errors.Is to find the cause")
		}
		if !strings.HasSuffix(err.Error(), ": exit status 1") {
			t.Errorf("Expected cause suffix, got %q", err.Error())
		}
	})

	t.Run("context and operation", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodePermission, "requires root", "").
			WithContext("euid", 1000).
			WithOperation("nmap")
		if err.Context["euid"] != 1000 {
			t.Errorf("Expected euid context, got %v", err.Context["euid"])
		}
		if err.Operation != "nmap" {
			t.Errorf("Expected operation nmap, got %s", err.Operation)
		}
	})
}

func TestConfigError(t *testing.T) {
	err := ErrConfigInvalid("scanning.default_size", "huge")
	if err.Field != "scanning.default_size" {
		t.Errorf("Expected field scanning.default_size, got %s", err.Field)
	}
	if err.Value != "huge" {
		t.Errorf("Expected value huge, got %v", err.Value)
	}
	if !strings.Contains(err.Error(), "field: scanning.default_size") {
		t.Errorf("Expected field in message, got %q", err.Error())
	}

	missing := ErrConfigMissing("target")
	if missing.Code != CodeConfiguration {
		t.Errorf("Expected %s, got %s", CodeConfiguration, missing.Code)
	}

	cause := errors.New("yaml: line 3")
	wrapped := WrapConfigError(CodeConfiguration, "bad config", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Expected wrapped config error to unwrap to cause")
	}
}

func TestIsCode(t *testing.T) {
	inner := NewScanErrorWithTarget(CodePermission, "requires root", "")
	outer := WrapScanErrorWithTarget(CodeScanFailed, "both attempts failed", "host", inner)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"outer code", outer, CodeScanFailed, true},
		{"nested code", outer, CodePermission, true},
		{"fmt wrapped", fmt.Errorf("run: %w", outer), CodePermission, true},
		{"missing code", outer, CodeNotInstalled, false},
		{"plain error", errors.New("boom"), CodeScanFailed, false},
		{"nil error", nil, CodeScanFailed, false},
		{"config error", ErrConfigMissing("target"), CodeConfiguration, true},
		{"joined", errors.Join(errors.New("other"), outer), CodePermission, true},
		{"joined missing", errors.Join(errors.New("other")), CodePermission, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Errorf("Expected %s, got %s", CodeUnknown, got)
	}
	if got := GetCode(fmt.Errorf("wrap: %w", ErrPersistence("/tmp/x.json", errors.New("denied")))); got != CodePersistence {
		t.Errorf("Expected %s, got %s", CodePersistence, got)
	}
	if got := GetCode(ErrConfigInvalid("x", 1)); got != CodeValidation {
		t.Errorf("Expected %s, got %s", CodeValidation, got)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrConfigMissing("target"), true},
		{ErrScanFailed("host", errors.New("x")), true},
		{ErrPersistence("out.json", errors.New("x")), true},
		{ErrScanUnavailable("host", errors.New("x")), false},
		{NewScanErrorWithTarget(CodeEnrichmentFailed, "webanalyze", ""), false},
		{errors.New("unknown flag"), true},
		{nil, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrPersistenceContext(t *testing.T) {
	err := ErrPersistence("/root/out.json", errors.New("permission denied"))
	if err.Context["path"] != "/root/out.json" {
		t.Errorf("Expected path context, got %v", err.Context["path"])
	}
}

func TestCauseCodeAndOperation(t *testing.T) {
	nmapErr := WrapScanErrorWithTarget(CodePermission, "nmap needs elevated privileges", "host",
		errors.New("requires root")).WithOperation("nmap")
	primary := ErrScanUnavailable("host", nmapErr)

	tests := []struct {
		name    string
		err     error
		cause   ErrorCode
		op      string
		summary string
	}{
		{"collaborator error", nmapErr, CodePermission, "nmap", "nmap PERMISSION"},
		{"wrapped primary", primary, CodePermission, "nmap", "SCAN_UNAVAILABLE: nmap PERMISSION"},
		{"scan failed", ErrScanFailed("host", primary), CodePermission, "nmap", "SCAN_FAILED: nmap PERMISSION"},
		{"joined", errors.Join(errors.New("other"), ErrScanFailed("host", nmapErr)), CodePermission, "nmap",
			"SCAN_FAILED: nmap PERMISSION"},
		{"no operation", ErrPersistence("out.json", errors.New("denied")), CodePersistence, "", "PERSISTENCE"},
		{"config", ErrConfigMissing("target"), CodeConfiguration, "", "CONFIGURATION"},
		{"plain", errors.New("boom"), CodeUnknown, "", "UNKNOWN"},
		{"nil", nil, CodeUnknown, "", "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CauseCode(tt.err); got != tt.cause {
				t.Errorf("CauseCode() = %s, want %s", got, tt.cause)
			}
			if got := Operation(tt.err); got != tt.op {
				t.Errorf("Operation() = %q, want %q", got, tt.op)
			}
			if got := Summary(tt.err); got != tt.summary {
				t.Errorf("Summary() = %q, want %q", got, tt.summary)
			}
		})
	}
}

func TestSummaryOmitsCollaboratorOutput(t *testing.T) {
	cause := WrapScanErrorWithTarget(CodeExecution, "nmap execution failed", "host",
		errors.New("NSE: vulscan.nse:42 stack traceback")).WithOperation("nmap")
	got := Summary(ErrScanFailed("host", cause))
	if strings.Contains(got, "traceback") {
		t.Errorf("Summary leaked collaborator output: %q", got)
	}
	if got != "SCAN_FAILED: nmap EXECUTION" {
		t.Errorf("Unexpected summary %q", got)
	}
}
