package investigate

import (
	"context"
	"strings"
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/facade"
	"github.com/nikolaivetrov/crashlens/internal/model"
)

type fakeSession struct{}

func (fakeSession) Execute(ctx context.Context, command string) (string, error) { return "ok", nil }
func (fakeSession) Close() error                                                { return nil }

func newOpenFacade() *facade.Facade {
	f := facade.New(model.DialectLLDB)
	f.Open(fakeSession{})
	return f
}

func sampleInvestigateReport() *model.Report {
	return &model.Report{
		ThreadsInfo: &model.ThreadsInfo{
			Threads: []model.ThreadInfo{
				{
					ThreadID:        "1 (tid: 0x100)",
					OSThreadID:      "0x100",
					ManagedThreadID: 7,
					CallStack:       []model.StackFrame{{Function: "main"}},
				},
			},
		},
	}
}

// scriptedTransport replays a fixed sequence of responses, one per call to
// Sample, and reports fixed capability flags.
type scriptedTransport struct {
	responses []Response
	calls     int
	sampling  bool
	toolUse   bool
}

func (t *scriptedTransport) Sample(ctx context.Context, req Request) (*Response, error) {
	if t.calls >= len(t.responses) {
		return &Response{Content: []ContentBlock{{Type: "text", Text: "done"}}}, nil
	}
	r := t.responses[t.calls]
	t.calls++
	return &r, nil
}

func (t *scriptedTransport) IsSamplingSupported() bool { return t.sampling }
func (t *scriptedTransport) IsToolUseSupported() bool  { return t.toolUse }

func TestRunReturnsLowConfidenceWhenToolUseUnsupported(t *testing.T) {
	transport := &scriptedTransport{sampling: true, toolUse: false}
	orch := New(DefaultConfig(), transport, newOpenFacade(), nil, sampleInvestigateReport())

	result := orch.Run(context.Background(), "investigate this crash")
	if result.Confidence != "low" {
		t.Fatalf("confidence = %q, want low", result.Confidence)
	}
}

func TestRunTerminatesOnAnalysisComplete(t *testing.T) {
	transport := &scriptedTransport{
		sampling: true, toolUse: true,
		responses: []Response{
			{Content: []ContentBlock{{
				Type: "tool_use", ID: "call-1", Name: "analysis_complete",
				Input: map[string]interface{}{
					"root_cause": "null pointer dereference in main",
					"confidence": "high",
				},
			}}},
		},
	}
	orch := New(DefaultConfig(), transport, newOpenFacade(), nil, sampleInvestigateReport())

	result := orch.Run(context.Background(), "investigate this crash")
	if result.RootCause != "null pointer dereference in main" {
		t.Fatalf("root cause = %q", result.RootCause)
	}
	if result.Confidence != "high" {
		t.Fatalf("confidence = %q, want high", result.Confidence)
	}
	if result.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", result.Iterations)
	}
}

func TestRunStopsAtToolCallBudget(t *testing.T) {
	toolCall := ContentBlock{Type: "tool_use", Name: "exec", Input: map[string]interface{}{"command": "thread list"}}
	responses := []Response{
		{Content: []ContentBlock{withID(toolCall, "c1")}},
		{Content: []ContentBlock{withID(toolCall, "c2")}},
		{Content: []ContentBlock{withID(toolCall, "c3")}},
	}
	transport := &scriptedTransport{sampling: true, toolUse: true, responses: responses}

	cfg := DefaultConfig()
	cfg.MaxToolCalls = 2
	orch := New(cfg, transport, newOpenFacade(), nil, sampleInvestigateReport())

	result := orch.Run(context.Background(), "investigate this crash")
	if result.Confidence != "low" {
		t.Fatalf("confidence = %q, want low", result.Confidence)
	}
	if len(result.CommandsExecuted) != 2 {
		t.Fatalf("commands executed = %d, want 2", len(result.CommandsExecuted))
	}
}

func TestGetThreadStackResolvesByManagedThreadID(t *testing.T) {
	backend := &toolBackend{report: sampleInvestigateReport(), f: newOpenFacade()}
	out, isError := backend.getThreadStack(map[string]interface{}{"thread_id": "7"})
	if isError {
		t.Fatalf("unexpected error: %s", out)
	}
	if out == "" {
		t.Fatal("expected non-empty call stack JSON")
	}
}

func TestInspectWithoutReaderReturnsSOSHint(t *testing.T) {
	backend := &toolBackend{report: sampleInvestigateReport(), f: newOpenFacade()}
	out, isError := backend.inspect(context.Background(), map[string]interface{}{"address": "0x1000"})
	if isError {
		t.Fatalf("unexpected error: %s", out)
	}
	if !strings.Contains(out, "\"hint\"") {
		t.Fatalf("expected SOS fallback hint, got %s", out)
	}
}

func withID(b ContentBlock, id string) ContentBlock {
	b.ID = id
	return b
}
