// Package compare diffs two finalized crash reports, highlighting whether
// they share a signature and which findings/root causes appeared,
// disappeared, or persisted between them.
package compare

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// Result is the comparison between a baseline and a current report.
type Result struct {
	BaselineDumpPath string `json:"baselineDumpPath"`
	CurrentDumpPath  string `json:"currentDumpPath"`

	SameSignature bool   `json:"sameSignature"`
	BaselineHash  string `json:"baselineHash,omitempty"`
	CurrentHash   string `json:"currentHash,omitempty"`

	FindingsAdded   []model.Finding `json:"findingsAdded,omitempty"`
	FindingsRemoved []model.Finding `json:"findingsRemoved,omitempty"`
	FindingsCommon  []model.Finding `json:"findingsCommon,omitempty"`

	RootCauseShifted bool   `json:"rootCauseShifted"`
	BaselineTopCause string `json:"baselineTopCause,omitempty"`
	CurrentTopCause  string `json:"currentTopCause,omitempty"`
}

// LoadReport reads and parses a JSON report file, the same artifact the
// finalizer produces as crashlens's sole durable output.
func LoadReport(path string) (*model.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compare: read %s: %w", path, err)
	}
	var report model.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("compare: parse %s: %w", path, err)
	}
	return &report, nil
}

// Compare computes the diff between baseline and current. Both reports
// must already be finalized.
func Compare(baseline, current *model.Report) *Result {
	r := &Result{
		BaselineDumpPath: baseline.DumpPath,
		CurrentDumpPath:  current.DumpPath,
	}

	if baseline.Signature != nil {
		r.BaselineHash = baseline.Signature.Hash
	}
	if current.Signature != nil {
		r.CurrentHash = current.Signature.Hash
	}
	r.SameSignature = r.BaselineHash != "" && r.BaselineHash == r.CurrentHash

	r.FindingsAdded, r.FindingsRemoved, r.FindingsCommon = diffFindings(baseline.Findings, current.Findings)

	r.BaselineTopCause = topRootCauseLabel(baseline.RootCause)
	r.CurrentTopCause = topRootCauseLabel(current.RootCause)
	r.RootCauseShifted = r.BaselineTopCause != r.CurrentTopCause

	return r
}

func topRootCauseLabel(hyps []model.RootCause) string {
	if len(hyps) == 0 {
		return ""
	}
	return hyps[0].Label
}

// diffFindings partitions current's findings against baseline's by ID,
// then sorts each partition by ID.
func diffFindings(baseline, current []model.Finding) (added, removed, common []model.Finding) {
	inBaseline := make(map[string]model.Finding, len(baseline))
	for _, f := range baseline {
		inBaseline[f.ID] = f
	}
	inCurrent := make(map[string]bool, len(current))

	for _, f := range current {
		inCurrent[f.ID] = true
		if _, ok := inBaseline[f.ID]; ok {
			common = append(common, f)
		} else {
			added = append(added, f)
		}
	}
	for _, f := range baseline {
		if !inCurrent[f.ID] {
			removed = append(removed, f)
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	sort.Slice(common, func(i, j int) bool { return common[i].ID < common[j].ID })
	return
}

// FormatResult renders r as a short human-readable summary: the signature
// line, then the root cause, then new findings before resolved ones.
func FormatResult(r *Result) string {
	var sb strings.Builder

	sb.WriteString("=== Crash Report Comparison ===\n")
	fmt.Fprintf(&sb, "Baseline: %s\n", r.BaselineDumpPath)
	fmt.Fprintf(&sb, "Current:  %s\n\n", r.CurrentDumpPath)

	if r.SameSignature {
		sb.WriteString("Signature: unchanged (same crash)\n")
	} else {
		sb.WriteString("Signature: different\n")
	}

	if r.RootCauseShifted {
		fmt.Fprintf(&sb, "Root cause shifted: %q -> %q\n", r.BaselineTopCause, r.CurrentTopCause)
	} else if r.CurrentTopCause != "" {
		fmt.Fprintf(&sb, "Root cause unchanged: %q\n", r.CurrentTopCause)
	}

	if len(r.FindingsAdded) > 0 {
		sb.WriteString("\nNew findings:\n")
		for _, f := range r.FindingsAdded {
			fmt.Fprintf(&sb, "  [%s] %s: %s\n", f.Severity, f.ID, f.Title)
		}
	}
	if len(r.FindingsRemoved) > 0 {
		sb.WriteString("\nResolved findings:\n")
		for _, f := range r.FindingsRemoved {
			fmt.Fprintf(&sb, "  [%s] %s: %s\n", f.Severity, f.ID, f.Title)
		}
	}

	return sb.String()
}
