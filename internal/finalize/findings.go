package finalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// computeFindings emits the fixed set of deterministic, stably-IDed
// findings.
func computeFindings(report *model.Report) {
	if f := sigstopSnapshotFinding(report); f != nil {
		report.Findings = append(report.Findings, *f)
	}
	if f := nativeSymbolsMissingFinding(report); f != nil {
		report.Findings = append(report.Findings, *f)
	}
	if f := deadlockDetectedFinding(report); f != nil {
		report.Findings = append(report.Findings, *f)
	}
	if f := highTimerCountFinding(report); f != nil {
		report.Findings = append(report.Findings, *f)
	}
	if f := lohPressureFinding(report); f != nil {
		report.Findings = append(report.Findings, *f)
	}
	for _, f := range securityFindings(report) {
		report.Findings = append(report.Findings, f)
	}
}

// securityFindings mirrors report.Security.Vulnerabilities into Findings so
// a stack-overrun-class vulnerability shows up in the one ranked list the
// investigator and callers read, alongside the memory/synchronization
// findings above.
func securityFindings(report *model.Report) []model.Finding {
	if report.Security == nil {
		return nil
	}
	var out []model.Finding
	for i, v := range report.Security.Vulnerabilities {
		confidence := 0.95
		if v.Severity != "Critical" {
			confidence = 0.8
		}
		out = append(out, model.Finding{
			ID:         fmt.Sprintf("security.vulnerability.%d", i),
			Title:      v.Title,
			Category:   "security",
			Severity:   v.Severity,
			Confidence: confidence,
			Summary:    v.Detail,
			NextActions: []string{"review the exception record for the CWE referenced in this finding"},
		})
	}
	return out
}

// sortFindingsByConfidence enforces the (findings ordered by confidence
// descending) testable property; ties keep their emission order.
func sortFindingsByConfidence(report *model.Report) {
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Confidence > report.Findings[j].Confidence
	})
}

func sigstopSnapshotFinding(report *model.Report) *model.Finding {
	if !captureIsSigstopSnapshot(report) {
		return nil
	}
	return &model.Finding{
		ID:         "capture.sigstop.snapshot",
		Title:      "Dump captured via SIGSTOP snapshot",
		Category:   "capture",
		Severity:   "Info",
		Confidence: 0.9,
		Summary:    "At least one thread's state contains SIGSTOP, indicating the dump was captured by stopping a live process rather than from an unhandled fault.",
	}
}

func nativeSymbolsMissingFinding(report *model.Report) *model.Finding {
	if report.Symbols == nil || report.Symbols.NativeMissingCount == 0 {
		return nil
	}
	var evidence []string
	missing := make(map[string]bool)
	for _, m := range report.Modules {
		if !m.HasSymbols && !strings.HasPrefix(m.Name, "[") {
			missing[m.Name] = true
		}
	}
	if report.ThreadsInfo != nil {
	outer:
		for _, t := range report.ThreadsInfo.Threads {
			for _, f := range t.CallStack {
				if f.IsManaged || !missing[f.Module] {
					continue
				}
				if f.SourceFile != "" {
					continue
				}
				evidence = append(evidence, fmt.Sprintf("%s!%s", f.Module, f.Function))
				if len(evidence) == 5 {
					break outer
				}
			}
		}
	}
	return &model.Finding{
		ID:         "symbols.native.missing",
		Title:      "Native modules missing symbols",
		Category:   "symbols",
		Severity:   "Low",
		Confidence: 0.7,
		Summary:    fmt.Sprintf("%d native module(s) have no loaded symbols.", report.Symbols.NativeMissingCount),
		Evidence:   evidence,
	}
}

func deadlockDetectedFinding(report *model.Report) *model.Finding {
	if report.Timeline == nil || len(report.Timeline.Deadlocks) == 0 {
		return nil
	}
	var threadEvidence []string
	for _, d := range report.Timeline.Deadlocks {
		threadEvidence = append(threadEvidence, strings.Join(d.ThreadIDs, " -> "))
	}
	return &model.Finding{
		ID:         "threads.deadlock.detected",
		Title:      "Potential deadlock detected",
		Category:   "synchronization",
		Severity:   "High",
		Confidence: 0.6,
		Summary:    fmt.Sprintf("%d potential deadlock cycle(s) detected from the wait graph or lock-primitive heuristic.", len(report.Timeline.Deadlocks)),
		Evidence:   threadEvidence,
		NextActions: []string{
			"inspect the owning threads of each cycle for held locks that are never released",
		},
	}
}

func highTimerCountFinding(report *model.Report) *model.Finding {
	if report.Memory == nil || report.Memory.CombinedHeapAnalysis == nil {
		return nil
	}
	var count int64
	for _, ts := range report.Memory.CombinedHeapAnalysis.TypesByCount {
		if strings.Contains(ts.TypeName, "Timer") {
			count += ts.Count
		}
	}
	if count <= 50 {
		return nil
	}
	return &model.Finding{
		ID:         "timers.high.count",
		Title:      "High timer instance count",
		Category:   "memory",
		Severity:   "Medium",
		Confidence: 0.5,
		Summary:    fmt.Sprintf("%d timer instances found on the managed heap, which may indicate a timer leak.", count),
		NextActions: []string{
			"verify every System.Threading.Timer is disposed on the code paths that create it",
		},
	}
}

func lohPressureFinding(report *model.Report) *model.Finding {
	if report.Memory == nil || report.Memory.GcSummary == nil {
		return nil
	}
	total := report.Memory.GcSummary.TotalHeapBytes
	if total == 0 {
		return nil
	}
	var loh uint64
	for _, s := range report.Memory.GcSummary.Segments {
		if s.Kind == "Large" {
			loh += s.Size
		}
	}
	ratio := float64(loh) / float64(total)
	if ratio < 0.3 {
		return nil
	}
	return &model.Finding{
		ID:         "memory.loh.pressure",
		Title:      "Large object heap pressure",
		Category:   "memory",
		Severity:   "Medium",
		Confidence: 0.5,
		Summary:    fmt.Sprintf("The large object heap accounts for %.0f%% of the managed heap.", ratio*100),
		NextActions: []string{
			"review the large-object samples for avoidable large allocations",
		},
	}
}
