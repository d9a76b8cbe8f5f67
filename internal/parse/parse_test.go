package parse

import (
	"strings"
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

func TestParseThreadListLLDBFaultingMarker(t *testing.T) {
	raw := "* thread #1: tid = 0x1111, 0x0000000000401234 a.out`main, stop reason = signal SIGSEGV\n" +
		"  thread #2: tid = 0x2222, 0x0000000000401290 a.out`worker, stop reason = signal 0\n"

	report := &model.Report{}
	ParseThreadList(model.DialectLLDB, raw, report)

	if len(report.ThreadsInfo.Threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(report.ThreadsInfo.Threads))
	}
	if !report.ThreadsInfo.Threads[0].IsFaulting {
		t.Error("thread 1 should be faulting")
	}
	if report.ThreadsInfo.Threads[1].IsFaulting {
		t.Error("thread 2 (signal 0) should not be faulting")
	}
	if !strings.HasPrefix(report.ThreadsInfo.Threads[0].ThreadID, "1 (tid:") {
		t.Errorf("thread id = %q", report.ThreadsInfo.Threads[0].ThreadID)
	}
}

func TestParseBacktracesLLDBNativeFrame(t *testing.T) {
	threadsRaw := "* thread #1: tid = 0x1111, stop reason = signal SIGSEGV\n"
	btRaw := "* thread #1: tid = 0x1111, stop reason = signal SIGSEGV\n" +
		"    frame #0: 0x0000000000001000 libfoo.so`handler + 10\n"

	report := &model.Report{}
	ParseThreadList(model.DialectLLDB, threadsRaw, report)
	ParseBacktraces(model.DialectLLDB, btRaw, report)

	frames := report.ThreadsInfo.Threads[0].CallStack
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Module != "libfoo.so" {
		t.Errorf("module = %q", frames[0].Module)
	}
	if frames[0].Function != "handler" {
		t.Errorf("function = %q", frames[0].Function)
	}
}

func TestParsePlatformMuslArm64(t *testing.T) {
	modulesRaw := "[  0] 0123 0x0000000000400000 /lib/ld-musl-aarch64.so.1\n" +
		"[  1] 4567 0x0000000000500000 /usr/bin/myapp\n"

	report := &model.Report{}
	ParsePlatform(model.DialectLLDB, modulesRaw, report)

	p := report.Environment.Platform
	if p.OS != "Linux" || p.LibcType != "musl" || p.Architecture != "arm64" || p.PointerSize != 64 {
		t.Errorf("platform = %+v", p)
	}
}

func TestRedactEnvironment(t *testing.T) {
	in := []string{"PATH=/bin", "DD_API_KEY=abc123", "GITHUB_TOKEN=xyz"}
	out, filtered := RedactEnvironment(in)

	want := []string{"DD_API_KEY=<redacted>", "GITHUB_TOKEN=<redacted>", "PATH=/bin"}
	if len(out) != len(want) {
		t.Fatalf("got %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %q, want %q", i, out[i], want[i])
		}
	}
	if !filtered {
		t.Error("expected sensitive_data_filtered = true")
	}
}

func TestRedactEnvironmentPreservesNonSensitive(t *testing.T) {
	in := []string{"HOME=/root", "LANG=en_US.UTF-8"}
	out, filtered := RedactEnvironment(in)
	if filtered {
		t.Error("expected no redaction")
	}
	for i, v := range in {
		found := false
		for _, o := range out {
			if o == v {
				found = true
			}
		}
		if !found {
			t.Errorf("value %q lost, out=%v, idx=%d", v, out, i)
		}
	}
}

func TestParseExceptionStackBufferOverrun(t *testing.T) {
	raw := "FAULTING_IP: \nmymod!vuln+0x10\n" +
		"EXCEPTION_RECORD: ffffffff\n" +
		"EXCEPTION_CODE: (NTSTATUS) 0xc0000409 - STATUS_STACK_BUFFER_OVERRUN\n"

	report := &model.Report{}
	ParseException(raw, report)

	if report.Exception == nil {
		t.Fatal("expected exception to be populated")
	}
	if report.Exception.Code != "0xc0000409" {
		t.Errorf("code = %q", report.Exception.Code)
	}
	if report.Exception.CanonicalName != "STATUS_STACK_BUFFER_OVERRUN" {
		t.Errorf("canonical name = %q", report.Exception.CanonicalName)
	}
}
