package analyzer

import (
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

func TestCapabilityTierNoneWhenDebuggerMissing(t *testing.T) {
	caps := map[string]bool{"debugger_on_path": false}
	if got := CapabilityTier(model.DialectLLDB, caps); got != CapabilityNone {
		t.Errorf("tier = %v, want none", got)
	}
}

func TestCapabilityTierPartialWithoutSOSPlugin(t *testing.T) {
	caps := map[string]bool{"debugger_on_path": true, "sos_plugin": false}
	if got := CapabilityTier(model.DialectLLDB, caps); got != CapabilityPartial {
		t.Errorf("tier = %v, want partial", got)
	}
}

func TestCapabilityTierFullWithSOSPlugin(t *testing.T) {
	caps := map[string]bool{"debugger_on_path": true, "sos_plugin": true}
	if got := CapabilityTier(model.DialectLLDB, caps); got != CapabilityFull {
		t.Errorf("tier = %v, want full", got)
	}
}

func TestCapabilityTierWinDbgIgnoresSOSPlugin(t *testing.T) {
	caps := map[string]bool{"debugger_on_path": true}
	if got := CapabilityTier(model.DialectWinDbg, caps); got != CapabilityFull {
		t.Errorf("tier = %v, want full (SOS plugin probe is lldb-only)", got)
	}
}

func TestDetectDebuggerCapabilitiesDoesNotPanic(t *testing.T) {
	// Smoke test only: PATH contents vary by environment.
	caps := DetectDebuggerCapabilities(model.DialectLLDB, "")
	if caps == nil {
		t.Fatal("DetectDebuggerCapabilities returned nil")
	}
}
