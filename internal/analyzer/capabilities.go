package analyzer

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// CapabilityLevel mirrors melisai's BPF capability tiers, here applied to
// "can this machine actually drive the configured debugger" instead of
// "can this kernel run eBPF". It's a pre-flight diagnostic only: it never
// substitutes for the pipeline's own DialectUnsupported error, it just
// gives a clearer message before that error is reached.
type CapabilityLevel int

const (
	CapabilityNone CapabilityLevel = iota
	CapabilityPartial
	CapabilityFull
)

func (c CapabilityLevel) String() string {
	switch c {
	case CapabilityFull:
		return "full"
	case CapabilityPartial:
		return "partial"
	default:
		return "none"
	}
}

// DetectDebuggerCapabilities probes whether dialect's debugger binary is
// resolvable on PATH and, for lldb, whether a SOS plugin is installed
// where dotnet-sos conventionally places it.
func DetectDebuggerCapabilities(dialect model.Dialect, debuggerPath string) map[string]bool {
	caps := make(map[string]bool)

	bin := debuggerPath
	if bin == "" {
		bin = defaultBinary(dialect)
	}
	_, err := exec.LookPath(bin)
	caps["debugger_on_path"] = err == nil

	if dialect == model.DialectLLDB {
		caps["sos_plugin"] = sosPluginResolvable()
	}
	return caps
}

// CapabilityTier collapses the probe results into the level the caller
// should report: none (debugger missing), partial (debugger present but
// no managed-runtime plugin for it, so runtime-reader enrichment will come
// up empty),
// full.
func CapabilityTier(dialect model.Dialect, caps map[string]bool) CapabilityLevel {
	if !caps["debugger_on_path"] {
		return CapabilityNone
	}
	if dialect == model.DialectLLDB && !caps["sos_plugin"] {
		return CapabilityPartial
	}
	return CapabilityFull
}

func defaultBinary(dialect model.Dialect) string {
	if dialect == model.DialectWinDbg {
		return "cdb"
	}
	return "lldb"
}

// sosPluginResolvable looks for libsosplugin at the path dotnet-sos
// installs it to; its absence just means managed-runtime enrichment will
// find nothing to enrich, not that analysis itself is impossible.
func sosPluginResolvable() bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	for _, name := range []string{"libsosplugin.so", "libsosplugin.dylib"} {
		if _, err := os.Stat(filepath.Join(home, ".dotnet", "sos", name)); err == nil {
			return true
		}
	}
	return false
}
