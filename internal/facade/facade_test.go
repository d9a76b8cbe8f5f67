package facade

import (
	"context"
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

type fakeSession struct {
	calls   int
	outputs map[string]string
}

func (f *fakeSession) Execute(ctx context.Context, command string) (string, error) {
	f.calls++
	return f.outputs[command], nil
}

func (f *fakeSession) Close() error { return nil }

func TestExecuteCachesOutput(t *testing.T) {
	s := &fakeSession{outputs: map[string]string{"thread list": "thread #1"}}
	f := New(model.DialectLLDB)
	f.Open(s)

	for i := 0; i < 3; i++ {
		out, err := f.Execute(context.Background(), "thread list")
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if out != "thread #1" {
			t.Errorf("out = %q", out)
		}
	}
	if s.calls != 1 {
		t.Errorf("expected 1 underlying call, got %d", s.calls)
	}
}

func TestExecuteRejectsNotOpen(t *testing.T) {
	f := New(model.DialectLLDB)
	if _, err := f.Execute(context.Background(), "thread list"); err == nil {
		t.Error("expected ErrDumpNotOpen")
	}
}

func TestCheckSafeRejectsUnsafeCommands(t *testing.T) {
	cases := []string{
		".shell rm -rf /",
		"thread list; .shell echo hi",
		"bt all | command script import foo",
		"platform shell ls",
		"script print(1)",
		"thread list\nscript print(1)",
	}
	for _, c := range cases {
		if err := CheckSafe(c); err == nil {
			t.Errorf("CheckSafe(%q) = nil, want error", c)
		}
	}
}

func TestCheckSafeAllowsOrdinaryCommands(t *testing.T) {
	cases := []string{
		"thread list",
		"bt all",
		"image list",
		"!analyze -v",
		"dumpheap -stat",
	}
	for _, c := range cases {
		if err := CheckSafe(c); err != nil {
			t.Errorf("CheckSafe(%q) = %v, want nil", c, err)
		}
	}
}
