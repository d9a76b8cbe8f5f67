package parse

import (
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

func TestParseSecurityStackBufferOverrun(t *testing.T) {
	raw := "FAULTING_IP: \nmymod!vuln+0x10\n" +
		"EXCEPTION_RECORD: ffffffff\n" +
		"EXCEPTION_CODE: (NTSTATUS) 0xc0000409 - STATUS_STACK_BUFFER_OVERRUN\n"

	report := &model.Report{}
	ParseSecurity(raw, "x86", report)

	if report.Security == nil {
		t.Fatal("expected security section to be populated")
	}
	if len(report.Security.Vulnerabilities) != 1 {
		t.Fatalf("got %d vulnerabilities, want 1", len(report.Security.Vulnerabilities))
	}
	v := report.Security.Vulnerabilities[0]
	if v.Severity != "Critical" || v.CWE != "CWE-121" {
		t.Errorf("vulnerability = %+v", v)
	}
	if !report.Security.StackIntegrity.CanaryCorrupted {
		t.Error("expected canary_corrupted=true")
	}
	if !report.Security.StackIntegrity.SafeSEHChecked {
		t.Error("expected SafeSEH check gated-on for x86")
	}
}

func TestParseSecurityGatesSafeSEHOffOn64Bit(t *testing.T) {
	raw := "EXCEPTION_CODE: (NTSTATUS) 0xc0000409 - STATUS_STACK_BUFFER_OVERRUN\n"

	report := &model.Report{}
	ParseSecurity(raw, "x64", report)

	if report.Security == nil {
		t.Fatal("expected security section to be populated")
	}
	if report.Security.StackIntegrity.SafeSEHChecked {
		t.Error("SafeSEH is 32-bit only; x64 must not be checked")
	}
}

func TestParseSecurityNoFindingWithoutOverrun(t *testing.T) {
	report := &model.Report{}
	ParseSecurity("EXCEPTION_CODE: (NTSTATUS) 0xc0000005 - Access violation\n", "x86", report)

	if report.Security != nil {
		t.Errorf("expected no security section, got %+v", report.Security)
	}
}
