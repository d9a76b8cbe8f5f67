package compare

import (
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

func TestCompareDetectsSameSignature(t *testing.T) {
	baseline := &model.Report{Signature: &model.Signature{Hash: "sha256:abc"}}
	current := &model.Report{Signature: &model.Signature{Hash: "sha256:abc"}}

	r := Compare(baseline, current)
	if !r.SameSignature {
		t.Error("expected SameSignature true for identical hashes")
	}
}

func TestCompareDetectsDifferentSignature(t *testing.T) {
	baseline := &model.Report{Signature: &model.Signature{Hash: "sha256:abc"}}
	current := &model.Report{Signature: &model.Signature{Hash: "sha256:def"}}

	r := Compare(baseline, current)
	if r.SameSignature {
		t.Error("expected SameSignature false for different hashes")
	}
}

func TestCompareDiffsFindings(t *testing.T) {
	baseline := &model.Report{Findings: []model.Finding{
		{ID: "memory.heap.leak.heuristic", Title: "Leak"},
		{ID: "symbols.native.missing", Title: "Missing symbols"},
	}}
	current := &model.Report{Findings: []model.Finding{
		{ID: "symbols.native.missing", Title: "Missing symbols"},
		{ID: "threads.deadlock.detected", Title: "Deadlock"},
	}}

	r := Compare(baseline, current)

	if len(r.FindingsAdded) != 1 || r.FindingsAdded[0].ID != "threads.deadlock.detected" {
		t.Fatalf("findings added = %+v", r.FindingsAdded)
	}
	if len(r.FindingsRemoved) != 1 || r.FindingsRemoved[0].ID != "memory.heap.leak.heuristic" {
		t.Fatalf("findings removed = %+v", r.FindingsRemoved)
	}
	if len(r.FindingsCommon) != 1 || r.FindingsCommon[0].ID != "symbols.native.missing" {
		t.Fatalf("findings common = %+v", r.FindingsCommon)
	}
}

func TestCompareDetectsRootCauseShift(t *testing.T) {
	baseline := &model.Report{RootCause: []model.RootCause{{Label: "native signal: SIGSEGV", Confidence: 0.8}}}
	current := &model.Report{RootCause: []model.RootCause{{Label: "potential deadlock", Confidence: 0.6}}}

	r := Compare(baseline, current)
	if !r.RootCauseShifted {
		t.Error("expected root cause shift to be detected")
	}
	if r.BaselineTopCause != "native signal: SIGSEGV" || r.CurrentTopCause != "potential deadlock" {
		t.Fatalf("unexpected top causes: %q -> %q", r.BaselineTopCause, r.CurrentTopCause)
	}
}
