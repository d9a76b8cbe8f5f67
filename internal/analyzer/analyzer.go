// Package analyzer wires the facade, crash pipeline and finalizer together
// into the one operation every crashlens entrypoint needs: open a dump,
// run the fixed command program, finalize the report, close the session.
// cmd/crashlens and internal/mcp both call into it so the two surfaces
// never drift.
package analyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nikolaivetrov/crashlens/internal/facade"
	"github.com/nikolaivetrov/crashlens/internal/finalize"
	"github.com/nikolaivetrov/crashlens/internal/model"
	"github.com/nikolaivetrov/crashlens/internal/pipeline"
	"github.com/nikolaivetrov/crashlens/internal/runtimereader"
)

// DumpTimeout bounds a single analyze run; a hung debugger process should
// not hang its caller forever.
const DumpTimeout = 5 * time.Minute

// DetectDialect guesses the dialect from the dump's extension: .dmp for
// WinDbg, anything else (.core, .core.gz, no extension) for lldb.
func DetectDialect(dumpPath string) model.Dialect {
	if strings.EqualFold(filepath.Ext(dumpPath), ".dmp") {
		return model.DialectWinDbg
	}
	return model.DialectLLDB
}

// OpenFacade spawns the dialect's debugger pointed at dumpPath and returns
// a Facade bound to the resulting session. debuggerPath overrides the
// binary looked up on PATH ("lldb" or "cdb").
func OpenFacade(ctx context.Context, dialect model.Dialect, debuggerPath, dumpPath string) (*facade.Facade, error) {
	var bin string
	var args []string
	switch dialect {
	case model.DialectWinDbg:
		bin = debuggerPath
		if bin == "" {
			bin = "cdb"
		}
		args = []string{"-z", dumpPath}
	case model.DialectLLDB:
		bin = debuggerPath
		if bin == "" {
			bin = "lldb"
		}
		args = []string{"--core", dumpPath, "--batch", "-o", "version"}
	default:
		return nil, fmt.Errorf("analyzer: unknown dialect %q", dialect)
	}

	session, err := facade.OpenProcessSession(ctx, bin, args...)
	if err != nil {
		return nil, fmt.Errorf("analyzer: open %s: %w", bin, err)
	}
	f := facade.New(dialect)
	f.Open(session)
	return f, nil
}

// QuitCommand is the dialect's clean-shutdown command, sent before Close
// tears down the session's pipes.
func QuitCommand(dialect model.Dialect) string {
	if dialect == model.DialectWinDbg {
		return "q"
	}
	return "quit"
}

// CloseFacade sends the dialect's quit command and releases the session,
// swallowing errors from either step: by the time the caller wants to
// close, the report has already been produced and a shutdown failure
// shouldn't invalidate it.
func CloseFacade(ctx context.Context, f *facade.Facade, dialect model.Dialect) {
	_, _ = f.Execute(ctx, QuitCommand(dialect))
	_ = f.Close()
}

// NewReader builds a runtimereader.Reader over f's memory, suitable both
// for the crash pipeline's managed-module enrichment step and for the
// investigator's inspect tool.
func NewReader(f *facade.Facade, dialect model.Dialect) (*pipeline.MemoryAccessor, *runtimereader.Reader) {
	mem := pipeline.NewMemoryAccessor(f, string(dialect))
	return mem, runtimereader.NewReader(mem)
}

// Analyze opens dumpPath with dialect (DetectDialect's guess if dialect is
// empty), runs the fixed command program, finalizes the resulting report
// and closes the session before returning. redact gates the parser's
// sensitive-environment-variable and raw-command-text filter; callers
// should default it to true and only pass false for an explicit
// --no-redact opt-out.
func Analyze(ctx context.Context, dumpPath string, dialect model.Dialect, debuggerPath string, redact bool) (*model.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, DumpTimeout)
	defer cancel()

	if dialect == "" {
		dialect = DetectDialect(dumpPath)
	}

	f, err := OpenFacade(ctx, dialect, debuggerPath, dumpPath)
	if err != nil {
		return nil, err
	}
	defer CloseFacade(ctx, f, dialect)

	mem, reader := NewReader(f, dialect)
	report := model.NewReport(dumpPath, dialect)
	p := pipeline.New(f, mem, reader)
	p.SkipRedaction = !redact
	if err := p.Run(ctx, report); err != nil {
		return nil, err
	}

	finalize.Finalize(report)
	return report, nil
}
