package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/facade"
	"github.com/nikolaivetrov/crashlens/internal/model"
	"github.com/nikolaivetrov/crashlens/internal/parse"
	"github.com/nikolaivetrov/crashlens/internal/runtimereader"
)

// Pipeline drives the fixed per-dialect command program over an opened
// facade, routes each response to the matching output parser, and derives
// the heap-leak and deadlock heuristics the finalizer later turns into
// findings and root-cause hypotheses.
type Pipeline struct {
	Facade  *facade.Facade
	Mem     *MemoryAccessor
	Runtime *runtimereader.Reader

	// SkipRedaction disables the sensitive-environment-variable filter. Off
	// by default: a dump is handed over untouched only when an operator
	// explicitly opts out via --no-redact.
	SkipRedaction bool
}

// New constructs a Pipeline. mem and rt may be nil; when rt is nil the
// managed-runtime enrichment step is skipped.
func New(f *facade.Facade, mem *MemoryAccessor, rt *runtimereader.Reader) *Pipeline {
	return &Pipeline{Facade: f, Mem: mem, Runtime: rt}
}

// Run executes the fixed command program for report.Dialect, recording
// every command/output pair and populating every section this package owns.
func (p *Pipeline) Run(ctx context.Context, report *model.Report) error {
	switch report.Dialect {
	case model.DialectWinDbg:
		return p.runWinDbg(ctx, report)
	case model.DialectLLDB:
		return p.runLLDB(ctx, report)
	default:
		return fmt.Errorf("pipeline: unknown dialect %q", report.Dialect)
	}
}

func (p *Pipeline) exec(ctx context.Context, report *model.Report, command string) (string, error) {
	out, err := p.Facade.Execute(ctx, command)
	if err != nil {
		return "", fmt.Errorf("pipeline: %s: %w", command, err)
	}
	if !p.SkipRedaction {
		out = parse.RedactRawCommandText(out)
	}
	report.RecordRawCommand(command, out)
	return out, nil
}

func (p *Pipeline) runWinDbg(ctx context.Context, report *model.Report) error {
	analyze, err := p.exec(ctx, report, "!analyze -v")
	if err != nil {
		return err
	}
	parse.ParseException(analyze, report)

	threads, err := p.exec(ctx, report, "~")
	if err != nil {
		return err
	}
	parse.ParseThreadList(model.DialectWinDbg, threads, report)

	backtraces, err := p.exec(ctx, report, "~*k")
	if err != nil {
		return err
	}
	parse.ParseBacktraces(model.DialectWinDbg, backtraces, report)

	modules, err := p.exec(ctx, report, "lm")
	if err != nil {
		return err
	}
	parse.ParseModules(model.DialectWinDbg, modules, report)
	parse.ParsePlatform(model.DialectWinDbg, modules, report)

	var arch string
	if report.Environment != nil {
		arch = report.Environment.Platform.Architecture
	}
	parse.ParseSecurity(analyze, arch, report)

	heapSummary, err := p.exec(ctx, report, "!heap -s")
	if err != nil {
		return err
	}
	heapStat, err := p.exec(ctx, report, "!heap -stat -h 0")
	if err != nil {
		return err
	}
	p.applyLeakHeuristic(report, parseWinDbgHeapBytes(heapSummary, heapStat))

	locks, err := p.exec(ctx, report, "!locks")
	if err != nil {
		return err
	}
	runaway, err := p.exec(ctx, report, "!runaway")
	if err != nil {
		return err
	}
	p.applyWinDbgDeadlockHeuristic(report, locks, runaway)

	if report.Environment != nil && report.Environment.Platform.PointerSize > 0 && p.Mem != nil {
		mr := newMemoryReaderAdapter(p.Mem, modules, "windbg")
		parse.ExtractProcessInfo(ctx, backtraces, report.Environment.Platform.PointerSize, mr, !p.SkipRedaction, report)
	}

	if p.Runtime != nil {
		p.enrichManagedModules(ctx, report)
	}
	return nil
}

func (p *Pipeline) runLLDB(ctx context.Context, report *model.Report) error {
	threads, err := p.exec(ctx, report, "thread list")
	if err != nil {
		return err
	}
	parse.ParseThreadList(model.DialectLLDB, threads, report)

	backtraces, err := p.exec(ctx, report, "bt all")
	if err != nil {
		return err
	}
	parse.ParseBacktraces(model.DialectLLDB, backtraces, report)

	images, err := p.exec(ctx, report, "image list")
	if err != nil {
		return err
	}
	parse.ParseModules(model.DialectLLDB, images, report)
	parse.ParsePlatform(model.DialectLLDB, images, report)

	regions, err := p.exec(ctx, report, "memory region --all")
	if err != nil {
		return err
	}
	p.applyLeakHeuristic(report, parseLLDBRegionHeapBytes(regions))
	p.applyLLDBDeadlockHeuristic(report, backtraces)

	if report.Environment != nil && p.Mem != nil {
		mr := newMemoryReaderAdapter(p.Mem, regions, "lldb")
		pointerSize := report.Environment.Platform.PointerSize
		if pointerSize == 0 {
			pointerSize = 64
		}
		parse.ExtractProcessInfo(ctx, backtraces, pointerSize, mr, !p.SkipRedaction, report)
	}

	if p.Runtime != nil {
		p.enrichManagedModules(ctx, report)
	}
	return nil
}

// memoryReaderAdapter implements parse.MemoryReader over a MemoryAccessor
// plus a fixed region-listing snapshot already captured this run.
type memoryReaderAdapter struct {
	mem     *MemoryAccessor
	finder  boundRegionFinder
}

func newMemoryReaderAdapter(mem *MemoryAccessor, regionsText, dialect string) *memoryReaderAdapter {
	return &memoryReaderAdapter{mem: mem, finder: boundRegionFinder{regionsText: regionsText, dialect: dialect}}
}

func (a *memoryReaderAdapter) ReadPointer(ctx context.Context, addr uint64, pointerSize int) (uint64, error) {
	return a.mem.ReadPointer(ctx, addr, pointerSize)
}
func (a *memoryReaderAdapter) ReadCString(ctx context.Context, addr uint64, maxLen int) (string, error) {
	return a.mem.ReadCString(ctx, addr, maxLen)
}
func (a *memoryReaderAdapter) FindHighStackRegion(ctx context.Context) (uint64, uint64, bool) {
	return a.finder.find(ctx)
}
func (a *memoryReaderAdapter) ReadBytes(ctx context.Context, addr uint64, length int) ([]byte, error) {
	return a.mem.ReadBytes(ctx, addr, length)
}

// applyLeakHeuristic applies the fixed severity thresholds over the total
// heap byte count observed from the dialect-specific leak probe.
func (p *Pipeline) applyLeakHeuristic(report *model.Report, totalHeapBytes uint64) {
	if totalHeapBytes == 0 {
		return
	}
	const gib = 1024 * 1024 * 1024
	const mib = 1024 * 1024
	severity := "Normal"
	var recommendation string
	switch {
	case totalHeapBytes > 2*gib:
		severity = "High"
		recommendation = "heap usage exceeds 2 GiB; capture a follow-up dump after a GC and compare generation sizes"
	case totalHeapBytes > 500*mib:
		severity = "Elevated"
		recommendation = "heap usage exceeds 500 MiB; review large-object and string duplicate samples for growth"
	}
	if report.Memory == nil {
		report.Memory = &model.MemorySection{}
	}
	if report.Memory.GcSummary == nil {
		report.Memory.GcSummary = &model.GcSummary{}
	}
	report.Memory.GcSummary.TotalHeapBytes = totalHeapBytes
	if severity == "Normal" {
		return
	}
	report.Findings = append(report.Findings, model.Finding{
		ID:         "memory.heap.leak.heuristic",
		Title:      "Elevated heap usage",
		Category:   "memory",
		Severity:   severity,
		Confidence: 0.5,
		Summary:    fmt.Sprintf("Total heap usage of %d bytes triggered a %s severity leak heuristic.", totalHeapBytes, severity),
		NextActions: []string{recommendation},
	})
}

var windbgHeapTotalRe = regexp.MustCompile(`(?i)total\s+size\s*:?\s*([0-9a-fx]+)`)

func parseWinDbgHeapBytes(summary, stat string) uint64 {
	for _, text := range []string{summary, stat} {
		if m := windbgHeapTotalRe.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(m[1]), "0x"), 16, 64); err == nil {
				return v
			}
		}
	}
	return 0
}

func parseLLDBRegionHeapBytes(regionsText string) uint64 {
	var total uint64
	for _, r := range parseRegions(regionsText, "lldb") {
		if r.Writable {
			total += r.Size
		}
	}
	return total
}

var waitPrimitiveTokens = []string{"pthread_mutex", "psynch_mutex", "semaphore_wait", "os_unfair_lock"}

// applyLLDBDeadlockHeuristic scans per-thread backtraces for wait
// primitives. Two or more distinct threads blocked on one ⇒ detected.
func (p *Pipeline) applyLLDBDeadlockHeuristic(report *model.Report, backtraces string) {
	waitingThreads := countDistinctThreadsMatchingAny(backtraces, waitPrimitiveTokens)
	p.recordDeadlockHeuristic(report, waitingThreads)
}

var windbgLockOwnerRe = regexp.MustCompile(`(?im)^\s*Thread\s+([0-9a-fx]+)\s+waiting`)

func (p *Pipeline) applyWinDbgDeadlockHeuristic(report *model.Report, locks, runaway string) {
	waiting := len(windbgLockOwnerRe.FindAllString(locks, -1))
	p.recordDeadlockHeuristic(report, waiting)
}

func (p *Pipeline) recordDeadlockHeuristic(report *model.Report, waitingThreads int) {
	if waitingThreads == 0 {
		return
	}
	if report.Synchronization == nil {
		report.Synchronization = &model.SyncSection{}
	}
	if waitingThreads >= 2 {
		report.Synchronization.PotentialDeadlocks = append(report.Synchronization.PotentialDeadlocks,
			"Potential Deadlock")
		return
	}
	report.Findings = append(report.Findings, model.Finding{
		ID:         "threads.deadlock.advisory",
		Title:      "Single thread blocked on a lock primitive",
		Category:   "synchronization",
		Severity:   "Low",
		Confidence: 0.3,
		Summary:    "Exactly one thread is blocked on a lock primitive; this alone does not indicate a deadlock.",
	})
}

// countDistinctThreadsMatchingAny splits raw per-thread backtrace text on
// LLDB's "thread #" section markers and counts sections containing any of
// tokens.
func countDistinctThreadsMatchingAny(raw string, tokens []string) int {
	sections := threadSectionRe.Split(raw, -1)
	count := 0
	for _, sec := range sections {
		for _, tok := range tokens {
			if strings.Contains(sec, tok) {
				count++
				break
			}
		}
	}
	return count
}

var threadSectionRe = regexp.MustCompile(`(?m)^\s*\*?\s*thread #\d+`)

func (p *Pipeline) enrichManagedModules(ctx context.Context, report *model.Report) {
	var managed []runtimereader.ManagedModule
	for _, mod := range report.Modules {
		if !mod.IsPEFile || mod.MetadataLength == 0 {
			continue
		}
		base, _ := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(mod.BaseAddress), "0x"), 16, 64)
		managed = append(managed, runtimereader.ManagedModule{
			Name:            mod.Name,
			FullPath:        mod.FullPath,
			Base:            base,
			Size:            mod.Size,
			IsDynamic:       mod.IsDynamic,
			IsPEFile:        mod.IsPEFile,
			MetadataAddress: mod.MetadataAddress,
			MetadataLength:  mod.MetadataLength,
		})
	}
	if len(managed) == 0 {
		return
	}
	runtimereader.EnrichModules(ctx, p.Runtime, managed, report)
	p.walkManagedHeap(ctx, report)
}

// walkManagedHeap drives the combined heap pass through SOS once a managed
// runtime has been confirmed present. Its result supersedes the
// native-heap leak heuristic's GcSummary.TotalHeapBytes estimate: for a
// managed dump, the SOS-derived per-segment generation/type/task/string
// breakdown is authoritative, and the native `!heap`/`memory region` probe
// is left to stand only for dumps with no managed runtime at all.
func (p *Pipeline) walkManagedHeap(ctx context.Context, report *model.Report) {
	source := runtimereader.NewSOSHeapSource(p.Facade, report.Dialect)
	gc, analysis, err := runtimereader.CombinedHeapWalk(ctx, source, runtimereader.DefaultHeapConfig())
	if err != nil {
		return
	}
	if report.Memory == nil {
		report.Memory = &model.MemorySection{}
	}
	report.Memory.GcSummary = gc
	report.Memory.CombinedHeapAnalysis = analysis
}
