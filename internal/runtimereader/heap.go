package runtimereader

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// Segment is one heap segment as enumerated from the managed runtime.
type Segment struct {
	Address uint64
	Size    uint64
	Kind    string // Gen0, Gen1, Gen2, Large, Pinned, Frozen
}

// HeapObject is one object instance encountered while walking a segment.
type HeapObject struct {
	Address  uint64
	TypeName string
	Size     uint64
	IsFree   bool
}

// HeapSource is the abstraction the combined heap pass walks. SOSHeapSource
// is the production implementation, driving the SOS extension through a
// facade; tests use an in-memory fake.
type HeapSource interface {
	Segments(ctx context.Context) ([]Segment, error)
	Objects(ctx context.Context, seg Segment) ([]HeapObject, error)
	TaskState(ctx context.Context, obj HeapObject) (flags int32, ok bool)
	FaultException(ctx context.Context, obj HeapObject) (excType, excMessage string, ok bool)
	StateMachineState(ctx context.Context, obj HeapObject) (state int, ok bool)
	StringValue(ctx context.Context, obj HeapObject) (value string, ok bool)
}

// HeapConfig bounds the combined heap pass.
type HeapConfig struct {
	TimeBudgetMs           int
	TopN                   int
	MaxStringSample        int
	MaxLargeObjectSamples  int
	MaxStateMachineSamples int
}

// DefaultHeapConfig returns the fixed heap-walk tunables.
func DefaultHeapConfig() HeapConfig {
	return HeapConfig{
		TimeBudgetMs:           30000,
		TopN:                   20,
		MaxStringSample:        200,
		MaxLargeObjectSamples:  50,
		MaxStateMachineSamples: 100,
	}
}

const (
	taskRanToCompletion int32 = 0x1000000
	taskFaulted         int32 = 0x200000
	taskCanceled        int32 = 0x400000
)

// accumulator is the private, per-worker state merged deterministically on
// the coordinator after join.
type accumulator struct {
	typeCounts    map[string]int64
	typeBytes     map[string]uint64
	typeLargest   map[string]uint64
	segments      []model.HeapSegmentSample
	largeObjects  []model.LargeObjectSample
	faultedTasks  []model.FaultedTask
	stateMachines []model.StateMachineSample
	stringCounts  map[string]int
	stringSize    map[string]uint64
	stringHist    model.StringLengthHistogram
	taskStats     model.TaskStats
	freeBytes     uint64
	usedBytes     uint64
}

func newAccumulator() *accumulator {
	return &accumulator{
		typeCounts:   map[string]int64{},
		typeBytes:    map[string]uint64{},
		typeLargest:  map[string]uint64{},
		stringCounts: map[string]int{},
		stringSize:   map[string]uint64{},
	}
}

// CombinedHeapWalk performs the single-pass heap analysis, sharding
// segments across a worker pool of size = logical CPUs. Each worker owns
// private accumulator maps; merges are deterministic because keys are
// sorted ascending before iteration.
func CombinedHeapWalk(ctx context.Context, source HeapSource, cfg HeapConfig) (*model.GcSummary, *model.CombinedHeapAnalysis, error) {
	segments, err := source.Segments(ctx)
	if err != nil {
		return nil, nil, err
	}

	gc := &model.GcSummary{}
	var aborted int32

	deadline := time.Now().Add(time.Duration(cfg.TimeBudgetMs) * time.Millisecond)
	workerCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(segments) && len(segments) > 0 {
		workers = len(segments)
	}

	jobs := make(chan Segment)
	results := make([]*accumulator, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		acc := newAccumulator()
		results[w] = acc
		wg.Add(1)
		go func(acc *accumulator) {
			defer wg.Done()
			for seg := range jobs {
				if atomic.LoadInt32(&aborted) != 0 {
					continue
				}
				acc.segments = append(acc.segments, model.HeapSegmentSample{
					Address: hexAddr(seg.Address), Size: seg.Size, Kind: seg.Kind,
				})
				if workerCtx.Err() != nil {
					atomic.StoreInt32(&aborted, 1)
					continue
				}
				objs, err := source.Objects(workerCtx, seg)
				if err != nil {
					continue
				}
				walkSegment(workerCtx, source, objs, acc, cfg, &aborted)
			}
		}(acc)
	}

	for _, seg := range segments {
		jobs <- seg
	}
	close(jobs)
	wg.Wait()

	merged := mergeAccumulators(results)
	chanalysis := finalizeHeapAnalysis(merged, cfg)
	chanalysis.WasAborted = atomic.LoadInt32(&aborted) != 0

	gc.Segments = merged.segments
	sort.SliceStable(gc.Segments, func(i, j int) bool { return gc.Segments[i].Address < gc.Segments[j].Address })
	gc.TotalHeapBytes = merged.usedBytes + merged.freeBytes
	return gc, chanalysis, nil
}

func walkSegment(ctx context.Context, source HeapSource, objs []HeapObject, acc *accumulator, cfg HeapConfig, aborted *int32) {
	for _, obj := range objs {
		if ctx.Err() != nil {
			atomic.StoreInt32(aborted, 1)
			return
		}
		if obj.IsFree {
			acc.freeBytes += obj.Size
			continue
		}
		acc.usedBytes += obj.Size
		acc.typeCounts[obj.TypeName]++
		acc.typeBytes[obj.TypeName] += obj.Size
		if obj.Size > acc.typeLargest[obj.TypeName] {
			acc.typeLargest[obj.TypeName] = obj.Size
		}

		if obj.Size >= 85000 && len(acc.largeObjects) < cfg.MaxLargeObjectSamples {
			acc.largeObjects = append(acc.largeObjects, model.LargeObjectSample{
				TypeName: obj.TypeName, Address: hexAddr(obj.Address), Size: obj.Size, Generation: "Large",
			})
		}

		classifyTask(ctx, source, obj, acc, cfg)
		classifyStateMachine(ctx, source, obj, acc, cfg)
		classifyString(ctx, source, obj, acc, cfg)
	}
}

func classifyTask(ctx context.Context, source HeapSource, obj HeapObject, acc *accumulator, cfg HeapConfig) {
	if !isTaskType(obj.TypeName) {
		return
	}
	flags, ok := source.TaskState(ctx, obj)
	if !ok {
		acc.taskStats.Pending++
		return
	}
	switch {
	case flags&taskRanToCompletion != 0:
		acc.taskStats.RanToCompletion++
	case flags&taskFaulted != 0:
		acc.taskStats.Faulted++
		if len(acc.faultedTasks) < 50 {
			excType, excMessage, ok := source.FaultException(ctx, obj)
			ft := model.FaultedTask{Address: hexAddr(obj.Address)}
			if ok {
				ft.ExceptionType = excType
				ft.ExceptionMessage = excMessage
			}
			acc.faultedTasks = append(acc.faultedTasks, ft)
		}
	case flags&taskCanceled != 0:
		acc.taskStats.Canceled++
	default:
		acc.taskStats.Pending++
	}
}

func isTaskType(typeName string) bool {
	if typeName == "System.Threading.Tasks.Task" {
		return true
	}
	return strings.HasPrefix(typeName, "System.Threading.Tasks.Task`1<") && strings.HasSuffix(typeName, ">")
}

func classifyStateMachine(ctx context.Context, source HeapSource, obj HeapObject, acc *accumulator, cfg HeapConfig) {
	if !strings.Contains(obj.TypeName, "+<") || !strings.Contains(obj.TypeName, ">d__") {
		return
	}
	if len(acc.stateMachines) >= cfg.MaxStateMachineSamples {
		return
	}
	state, ok := source.StateMachineState(ctx, obj)
	acc.stateMachines = append(acc.stateMachines, model.StateMachineSample{
		Address: hexAddr(obj.Address), TypeName: obj.TypeName, State: state, StateRead: ok,
	})
}

func classifyString(ctx context.Context, source HeapSource, obj HeapObject, acc *accumulator, cfg HeapConfig) {
	if obj.TypeName != "System.String" {
		return
	}
	value, ok := source.StringValue(ctx, obj)
	if !ok {
		return
	}
	switch l := len(value); {
	case l == 0:
		acc.stringHist.Empty++
	case l <= 10:
		acc.stringHist.Short++
	case l <= 100:
		acc.stringHist.Medium++
	case l <= 1000:
		acc.stringHist.Long++
	default:
		acc.stringHist.VeryLong++
	}
	acc.stringCounts[value]++
	acc.stringSize[value] = obj.Size
}

func mergeAccumulators(parts []*accumulator) *accumulator {
	merged := newAccumulator()
	for _, p := range parts {
		for _, k := range sortedKeys(p.typeCounts) {
			merged.typeCounts[k] += p.typeCounts[k]
			merged.typeBytes[k] += p.typeBytes[k]
			if p.typeLargest[k] > merged.typeLargest[k] {
				merged.typeLargest[k] = p.typeLargest[k]
			}
		}
		merged.segments = append(merged.segments, p.segments...)
		merged.largeObjects = append(merged.largeObjects, p.largeObjects...)
		merged.faultedTasks = append(merged.faultedTasks, p.faultedTasks...)
		merged.stateMachines = append(merged.stateMachines, p.stateMachines...)
		for _, k := range sortedKeys(p.stringCounts) {
			merged.stringCounts[k] += p.stringCounts[k]
			merged.stringSize[k] = p.stringSize[k]
		}
		merged.stringHist.Empty += p.stringHist.Empty
		merged.stringHist.Short += p.stringHist.Short
		merged.stringHist.Medium += p.stringHist.Medium
		merged.stringHist.Long += p.stringHist.Long
		merged.stringHist.VeryLong += p.stringHist.VeryLong
		merged.taskStats.RanToCompletion += p.taskStats.RanToCompletion
		merged.taskStats.Faulted += p.taskStats.Faulted
		merged.taskStats.Canceled += p.taskStats.Canceled
		merged.taskStats.Pending += p.taskStats.Pending
		merged.freeBytes += p.freeBytes
		merged.usedBytes += p.usedBytes
	}
	sort.SliceStable(merged.largeObjects, func(i, j int) bool {
		if merged.largeObjects[i].Size != merged.largeObjects[j].Size {
			return merged.largeObjects[i].Size > merged.largeObjects[j].Size
		}
		return merged.largeObjects[i].Address < merged.largeObjects[j].Address
	})
	sort.SliceStable(merged.faultedTasks, func(i, j int) bool {
		return merged.faultedTasks[i].Address < merged.faultedTasks[j].Address
	})
	sort.SliceStable(merged.stateMachines, func(i, j int) bool {
		return merged.stateMachines[i].Address < merged.stateMachines[j].Address
	})
	if len(merged.largeObjects) > 50 {
		merged.largeObjects = merged.largeObjects[:50]
	}
	if len(merged.faultedTasks) > 50 {
		merged.faultedTasks = merged.faultedTasks[:50]
	}
	if len(merged.stateMachines) > 100 {
		merged.stateMachines = merged.stateMachines[:100]
	}
	merged.taskStats.FaultedSamples = merged.faultedTasks
	return merged
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func finalizeHeapAnalysis(acc *accumulator, cfg HeapConfig) *model.CombinedHeapAnalysis {
	total := acc.usedBytes
	types := make([]model.TypeStat, 0, len(acc.typeCounts))
	for _, name := range sortedKeys(acc.typeCounts) {
		count := acc.typeCounts[name]
		bytes := acc.typeBytes[name]
		pct := 0.0
		if total > 0 {
			pct = float64(bytes) / float64(total) * 100
		}
		avg := 0.0
		if count > 0 {
			avg = float64(bytes) / float64(count)
		}
		types = append(types, model.TypeStat{
			TypeName: name, Count: count, TotalSize: bytes,
			AverageSize: avg, LargestInstance: acc.typeLargest[name],
			PercentageOfTotal: pct,
		})
	}

	bySize := append([]model.TypeStat(nil), types...)
	sort.SliceStable(bySize, func(i, j int) bool {
		if bySize[i].TotalSize != bySize[j].TotalSize {
			return bySize[i].TotalSize > bySize[j].TotalSize
		}
		return bySize[i].TypeName < bySize[j].TypeName
	})
	byCount := append([]model.TypeStat(nil), types...)
	sort.SliceStable(byCount, func(i, j int) bool {
		if byCount[i].Count != byCount[j].Count {
			return byCount[i].Count > byCount[j].Count
		}
		return byCount[i].TypeName < byCount[j].TypeName
	})
	if len(bySize) > cfg.TopN {
		bySize = bySize[:cfg.TopN]
	}
	if len(byCount) > cfg.TopN {
		byCount = byCount[:cfg.TopN]
	}

	duplicates := buildStringDuplicates(acc, cfg)

	fragmentation := 0.0
	if acc.freeBytes+acc.usedBytes > 0 {
		fragmentation = float64(acc.freeBytes) / float64(acc.freeBytes+acc.usedBytes)
	}

	return &model.CombinedHeapAnalysis{
		TypesBySize:        bySize,
		TypesByCount:       byCount,
		LargeObjects:       acc.largeObjects,
		TaskStats:          acc.taskStats,
		StateMachines:      acc.stateMachines,
		StringHistogram:    acc.stringHist,
		StringDuplicates:   duplicates,
		FreeBytes:          acc.freeBytes,
		UsedBytes:          acc.usedBytes,
		FragmentationRatio: fragmentation,
	}
}

func buildStringDuplicates(acc *accumulator, cfg HeapConfig) []model.StringDuplicate {
	var dups []model.StringDuplicate
	for _, value := range sortedKeys(acc.stringCounts) {
		count := acc.stringCounts[value]
		if count < 2 {
			continue
		}
		size := acc.stringSize[value]
		wasted := size * uint64(count-1)
		dups = append(dups, model.StringDuplicate{
			Value:           escapeControlChars(value),
			Count:           count,
			SizePerInstance: size,
			WastedBytes:     wasted,
			Suggestion:      suggestionFor(value),
		})
	}
	sort.SliceStable(dups, func(i, j int) bool {
		if dups[i].WastedBytes != dups[j].WastedBytes {
			return dups[i].WastedBytes > dups[j].WastedBytes
		}
		return dups[i].Value < dups[j].Value
	})
	if cfg.MaxStringSample > 0 && len(dups) > cfg.MaxStringSample {
		dups = dups[:cfg.MaxStringSample]
	}
	return dups
}

func suggestionFor(value string) string {
	switch {
	case value == "":
		return "use string.Empty / a canonical empty-string instance"
	case strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://"):
		return "cache this URL prefix instead of allocating it repeatedly"
	case len(value) <= 64:
		return "intern this string"
	default:
		return "pool or reuse buffers producing this string"
	}
}

func escapeControlChars(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				sb.WriteString("\\x")
				sb.WriteByte("0123456789abcdef"[r>>4])
				sb.WriteByte("0123456789abcdef"[r&0xF])
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

func hexAddr(addr uint64) string {
	const hexdigits = "0123456789abcdef"
	if addr == 0 {
		return "0x0"
	}
	var buf [18]byte
	i := len(buf)
	for addr > 0 {
		i--
		buf[i] = hexdigits[addr&0xF]
		addr >>= 4
	}
	return "0x" + string(buf[i:])
}
