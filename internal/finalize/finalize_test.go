package finalize

import (
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

func sampleReport() *model.Report {
	return &model.Report{
		Dialect: model.DialectLLDB,
		Environment: &model.Environment{
			Platform: model.Platform{OS: "Linux"},
			Runtime:  ".NET 8.0",
		},
		Exception: &model.Exception{Signal: "SIGSEGV", CanonicalName: "EXC_BAD_ACCESS"},
		ThreadsInfo: &model.ThreadsInfo{
			Threads: []model.ThreadInfo{
				{
					ThreadID:   "1 (tid: 0x1)",
					IsFaulting: true,
					CallStack: []model.StackFrame{
						{FrameNumber: 9, Function: ""},
						{FrameNumber: 2, Function: "[Runtime]"},
						{FrameNumber: 7, Module: "a.out", Function: "crash_handler"},
						{FrameNumber: 1, Module: "a.out", Function: "main"},
					},
				},
				{
					ThreadID: "2 (tid: 0x2)",
					CallStack: []model.StackFrame{
						{FrameNumber: 0, Module: "libfoo.so", Function: "worker_loop"},
					},
				},
			},
		},
		Modules: []model.Module{
			{Name: "a.out", HasSymbols: true},
			{Name: "libfoo.so", HasSymbols: false},
		},
	}
}

func TestFinalizeRenumbersFramesSequentially(t *testing.T) {
	r := sampleReport()
	Finalize(r)

	stack := r.ThreadsInfo.Threads[0].CallStack
	for i, f := range stack {
		if f.FrameNumber != i {
			t.Errorf("frame %d has FrameNumber %d, want %d", i, f.FrameNumber, i)
		}
	}
}

func TestFinalizeSkipsGlueFramesForTopFrame(t *testing.T) {
	r := sampleReport()
	Finalize(r)

	sel, ok := r.StackSelection.PerThread["1 (tid: 0x1)"]
	if !ok {
		t.Fatal("missing selection for thread 1")
	}
	if sel.SelectedIndex != 2 {
		t.Fatalf("selected index = %d, want 2 (crash_handler)", sel.SelectedIndex)
	}
	if len(sel.SkippedFrames) != 2 {
		t.Fatalf("expected 2 skipped frames, got %d: %+v", len(sel.SkippedFrames), sel.SkippedFrames)
	}
	if sel.SkippedFrames[0].Reason != "empty-function" {
		t.Errorf("skip reason 0 = %q", sel.SkippedFrames[0].Reason)
	}
	if sel.SkippedFrames[1].Reason != "runtime-glue" {
		t.Errorf("skip reason 1 = %q", sel.SkippedFrames[1].Reason)
	}
	if r.ThreadsInfo.Threads[0].TopFunction != "a.out!crash_handler" {
		t.Errorf("top function = %q", r.ThreadsInfo.Threads[0].TopFunction)
	}
}

func TestFinalizeSignatureIsDeterministic(t *testing.T) {
	r1 := sampleReport()
	Finalize(r1)
	r2 := sampleReport()
	Finalize(r2)

	if r1.Signature.Hash != r2.Signature.Hash {
		t.Errorf("signature hash not deterministic: %s vs %s", r1.Signature.Hash, r2.Signature.Hash)
	}
	if r1.Signature.Kind != model.SignatureCrash {
		t.Errorf("signature kind = %s, want crash", r1.Signature.Kind)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	r := sampleReport()
	Finalize(r)
	firstHash := r.Signature.Hash
	Finalize(r)
	if r.Signature.Hash != firstHash {
		t.Error("second Finalize call mutated an already-finalized report")
	}
}

func TestFinalizeNativeSymbolsMissingFinding(t *testing.T) {
	r := sampleReport()
	Finalize(r)

	found := false
	for _, f := range r.Findings {
		if f.ID == "symbols.native.missing" {
			found = true
		}
	}
	if !found {
		t.Error("expected symbols.native.missing finding given libfoo.so has no symbols")
	}
}

func TestFinalizeRootCauseOrderedByConfidenceThenLabel(t *testing.T) {
	r := sampleReport()
	Finalize(r)

	if len(r.RootCause) < 2 {
		t.Fatalf("expected at least 2 root cause hypotheses, got %d", len(r.RootCause))
	}
	for i := 1; i < len(r.RootCause); i++ {
		prev, cur := r.RootCause[i-1], r.RootCause[i]
		if prev.Confidence < cur.Confidence {
			t.Fatalf("root causes not ordered by confidence desc: %+v then %+v", prev, cur)
		}
		if prev.Confidence == cur.Confidence && prev.Label > cur.Label {
			t.Fatalf("equal-confidence root causes not ordered by label: %+v then %+v", prev, cur)
		}
	}
}
