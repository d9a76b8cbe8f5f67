package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/facade"
	"github.com/nikolaivetrov/crashlens/internal/model"
)

type fakeSession struct {
	outputs map[string]string
}

func (f *fakeSession) Execute(ctx context.Context, command string) (string, error) {
	return f.outputs[command], nil
}

func (f *fakeSession) Close() error { return nil }

func TestRunLLDBPopulatesThreadsModulesAndPlatform(t *testing.T) {
	outputs := map[string]string{
		"thread list": "* thread #1: tid = 0x1111, 0x0000000000401234 a.out`main, stop reason = signal SIGSEGV\n",
		"bt all": "* thread #1: tid = 0x1111, stop reason = signal SIGSEGV\n" +
			"    frame #0: 0x0000000000401234 a.out`process_request at handler.c:42\n",
		"image list": "[  0] 11111111-2222-3333-4444-555555555555 0x0000555500000000 /app/a.out\n" +
			"[  1] 66666666-7777-8888-9999-aaaaaaaaaaaa 0x0000ffff88000000 /lib/ld-musl-aarch64.so.1\n",
		"memory region --all":      "[0x0000ffffee000000-0x0000ffffef000000) rw- [stack]\n",
		"!heap -s":                 "",
		"!heap -stat -h 0":         "",
	}
	f := facade.New(model.DialectLLDB)
	f.Open(&fakeSession{outputs: outputs})

	p := New(f, nil, nil)
	report := model.NewReport("/dumps/crash.core", model.DialectLLDB)

	if err := p.Run(context.Background(), report); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.ThreadsInfo.Threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(report.ThreadsInfo.Threads))
	}
	if len(report.Modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(report.Modules))
	}
	if report.Environment.Platform.LibcType != "musl" {
		t.Errorf("libc type = %q, want musl", report.Environment.Platform.LibcType)
	}
	if report.Environment.Platform.Architecture != "arm64" {
		t.Errorf("architecture = %q, want arm64", report.Environment.Platform.Architecture)
	}
	frames := report.ThreadsInfo.Threads[0].CallStack
	if len(frames) != 1 || frames[0].Function != "process_request" {
		t.Fatalf("unexpected call stack: %+v", frames)
	}
	if len(report.RawCommands) == 0 {
		t.Error("expected raw commands to be recorded")
	}
}

func TestRunLLDBDeadlockHeuristicNeedsTwoWaiters(t *testing.T) {
	outputs := map[string]string{
		"thread list": "thread #1: tid = 0x1, stop reason = none\n",
		"bt all": "thread #1\n    frame #0: 0x1 a`f1 [inlined] pthread_mutex_lock\n" +
			"thread #2\n    frame #0: 0x2 a`f2 [inlined] pthread_mutex_lock\n",
		"image list":           "[  0] 11111111-2222-3333-4444-555555555555 0x0000555500000000 /app/a.out\n",
		"memory region --all":  "",
	}
	f := facade.New(model.DialectLLDB)
	f.Open(&fakeSession{outputs: outputs})
	p := New(f, nil, nil)
	report := model.NewReport("/dumps/hang.core", model.DialectLLDB)

	if err := p.Run(context.Background(), report); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Synchronization == nil || len(report.Synchronization.PotentialDeadlocks) != 1 {
		t.Fatalf("expected one potential deadlock recorded, got %+v", report.Synchronization)
	}
}

func rawCommandOutput(report *model.Report, command string) string {
	for _, c := range report.RawCommands {
		if c.Command == command {
			return c.Output
		}
	}
	return ""
}

func TestRunRedactsSensitiveEnvInRawCommandText(t *testing.T) {
	outputs := map[string]string{
		"thread list":         "thread #1: tid = 0x1, stop reason = none\n",
		"bt all":              "frame #0: 0x1 a`f1 (argv=\"AWS_SECRET_ACCESS_KEY=shh\")\n",
		"image list":          "",
		"memory region --all": "",
	}
	f := facade.New(model.DialectLLDB)
	f.Open(&fakeSession{outputs: outputs})
	p := New(f, nil, nil)
	report := model.NewReport("/dumps/crash.core", model.DialectLLDB)

	if err := p.Run(context.Background(), report); err != nil {
		t.Fatalf("Run: %v", err)
	}

	btOut := rawCommandOutput(report, "bt all")
	if !strings.Contains(btOut, `"AWS_SECRET_ACCESS_KEY=<redacted>"`) {
		t.Fatalf("expected redacted output, got %q", btOut)
	}
}

func TestRunSkipRedactionLeavesRawCommandTextIntact(t *testing.T) {
	outputs := map[string]string{
		"thread list":         "thread #1: tid = 0x1, stop reason = none\n",
		"bt all":              "frame #0: 0x1 a`f1 (argv=\"AWS_SECRET_ACCESS_KEY=shh\")\n",
		"image list":          "",
		"memory region --all": "",
	}
	f := facade.New(model.DialectLLDB)
	f.Open(&fakeSession{outputs: outputs})
	p := New(f, nil, nil)
	p.SkipRedaction = true
	report := model.NewReport("/dumps/crash.core", model.DialectLLDB)

	if err := p.Run(context.Background(), report); err != nil {
		t.Fatalf("Run: %v", err)
	}

	btOut := rawCommandOutput(report, "bt all")
	if !strings.Contains(btOut, "AWS_SECRET_ACCESS_KEY=shh") {
		t.Fatalf("expected raw output unmodified, got %q", btOut)
	}
}
