package finalize

import (
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

func TestHighTimerCountFindingFiresAboveThreshold(t *testing.T) {
	report := &model.Report{
		Memory: &model.MemorySection{
			CombinedHeapAnalysis: &model.CombinedHeapAnalysis{
				TypesByCount: []model.TypeStat{
					{TypeName: "System.Threading.Timer", Count: 51},
				},
			},
		},
	}
	f := highTimerCountFinding(report)
	if f == nil {
		t.Fatal("expected a finding")
	}
	if f.ID != "timers.high.count" {
		t.Errorf("ID = %q", f.ID)
	}
}

func TestHighTimerCountFindingSkipsAtThreshold(t *testing.T) {
	report := &model.Report{
		Memory: &model.MemorySection{
			CombinedHeapAnalysis: &model.CombinedHeapAnalysis{
				TypesByCount: []model.TypeStat{
					{TypeName: "System.Threading.Timer", Count: 50},
				},
			},
		},
	}
	if f := highTimerCountFinding(report); f != nil {
		t.Fatalf("expected no finding, got %+v", f)
	}
}

func TestHighTimerCountFindingNilWithoutHeapAnalysis(t *testing.T) {
	if f := highTimerCountFinding(&model.Report{}); f != nil {
		t.Fatalf("expected no finding, got %+v", f)
	}
}

func TestLohPressureFindingFiresAboveRatio(t *testing.T) {
	report := &model.Report{
		Memory: &model.MemorySection{
			GcSummary: &model.GcSummary{
				TotalHeapBytes: 1000,
				Segments: []model.HeapSegmentSample{
					{Kind: "Gen2", Size: 600},
					{Kind: "Large", Size: 400},
				},
			},
		},
	}
	f := lohPressureFinding(report)
	if f == nil {
		t.Fatal("expected a finding")
	}
	if f.ID != "memory.loh.pressure" {
		t.Errorf("ID = %q", f.ID)
	}
}

func TestLohPressureFindingSkipsBelowRatio(t *testing.T) {
	report := &model.Report{
		Memory: &model.MemorySection{
			GcSummary: &model.GcSummary{
				TotalHeapBytes: 1000,
				Segments: []model.HeapSegmentSample{
					{Kind: "Gen2", Size: 900},
					{Kind: "Large", Size: 100},
				},
			},
		},
	}
	if f := lohPressureFinding(report); f != nil {
		t.Fatalf("expected no finding, got %+v", f)
	}
}

func TestLohPressureFindingNilWithoutGcSummary(t *testing.T) {
	if f := lohPressureFinding(&model.Report{}); f != nil {
		t.Fatalf("expected no finding, got %+v", f)
	}
}
