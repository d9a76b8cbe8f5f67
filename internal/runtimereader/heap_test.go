package runtimereader

import (
	"context"
	"testing"
)

type fakeHeapSource struct {
	segments  []Segment
	objects   map[uint64][]HeapObject
	taskFlags map[uint64]int32
	faultExc  map[uint64][2]string
	smState   map[uint64]int
	strings   map[uint64]string
}

func (f *fakeHeapSource) Segments(ctx context.Context) ([]Segment, error) { return f.segments, nil }

func (f *fakeHeapSource) Objects(ctx context.Context, seg Segment) ([]HeapObject, error) {
	return f.objects[seg.Address], nil
}

func (f *fakeHeapSource) TaskState(ctx context.Context, obj HeapObject) (int32, bool) {
	v, ok := f.taskFlags[obj.Address]
	return v, ok
}

func (f *fakeHeapSource) FaultException(ctx context.Context, obj HeapObject) (string, string, bool) {
	v, ok := f.faultExc[obj.Address]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

func (f *fakeHeapSource) StateMachineState(ctx context.Context, obj HeapObject) (int, bool) {
	v, ok := f.smState[obj.Address]
	return v, ok
}

func (f *fakeHeapSource) StringValue(ctx context.Context, obj HeapObject) (string, bool) {
	v, ok := f.strings[obj.Address]
	return v, ok
}

func TestCombinedHeapWalkAggregatesTypeStats(t *testing.T) {
	src := &fakeHeapSource{
		segments: []Segment{{Address: 0x1000, Size: 4096, Kind: "Gen0"}},
		objects: map[uint64][]HeapObject{
			0x1000: {
				{Address: 0x1010, TypeName: "MyApp.Widget", Size: 100},
				{Address: 0x1080, TypeName: "MyApp.Widget", Size: 100},
				{Address: 0x10F0, TypeName: "MyApp.Gadget", Size: 40},
				{Address: 0x1120, Size: 64, IsFree: true},
			},
		},
	}

	gc, analysis, err := CombinedHeapWalk(context.Background(), src, DefaultHeapConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gc.Segments) != 1 {
		t.Fatalf("expected 1 segment sample, got %d", len(gc.Segments))
	}
	if analysis.UsedBytes != 240 {
		t.Fatalf("expected used bytes 240, got %d", analysis.UsedBytes)
	}
	if analysis.FreeBytes != 64 {
		t.Fatalf("expected free bytes 64, got %d", analysis.FreeBytes)
	}
	if len(analysis.TypesBySize) != 2 {
		t.Fatalf("expected 2 distinct types, got %d", len(analysis.TypesBySize))
	}
	if analysis.TypesBySize[0].TypeName != "MyApp.Widget" {
		t.Fatalf("expected MyApp.Widget to rank first by size, got %s", analysis.TypesBySize[0].TypeName)
	}
	if analysis.TypesBySize[0].Count != 2 {
		t.Fatalf("expected count 2 for MyApp.Widget, got %d", analysis.TypesBySize[0].Count)
	}
}

func TestCombinedHeapWalkFragmentationRatio(t *testing.T) {
	src := &fakeHeapSource{
		segments: []Segment{{Address: 0x2000, Size: 1000, Kind: "Gen2"}},
		objects: map[uint64][]HeapObject{
			0x2000: {
				{Address: 0x2010, TypeName: "T", Size: 300},
				{Address: 0x2100, Size: 700, IsFree: true},
			},
		},
	}
	_, analysis, err := CombinedHeapWalk(context.Background(), src, DefaultHeapConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := analysis.FreeBytes+analysis.UsedBytes, uint64(1000); got != want {
		t.Fatalf("free+used should equal heap total: got %d want %d", got, want)
	}
	if analysis.FragmentationRatio != 0.7 {
		t.Fatalf("expected fragmentation ratio 0.7, got %f", analysis.FragmentationRatio)
	}
}

func TestCombinedHeapWalkFaultedTasks(t *testing.T) {
	src := &fakeHeapSource{
		segments: []Segment{{Address: 0x3000, Size: 256, Kind: "Gen2"}},
		objects: map[uint64][]HeapObject{
			0x3000: {
				{Address: 0x3010, TypeName: "System.Threading.Tasks.Task`1<System.Int32>", Size: 80},
			},
		},
		taskFlags: map[uint64]int32{0x3010: taskFaulted},
		faultExc: map[uint64][2]string{
			0x3010: {"System.InvalidOperationException", "boom"},
		},
	}
	_, analysis, err := CombinedHeapWalk(context.Background(), src, DefaultHeapConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.TaskStats.Faulted != 1 {
		t.Fatalf("expected 1 faulted task, got %d", analysis.TaskStats.Faulted)
	}
	if len(analysis.TaskStats.FaultedSamples) != 1 {
		t.Fatalf("expected 1 faulted sample, got %d", len(analysis.TaskStats.FaultedSamples))
	}
	if analysis.TaskStats.FaultedSamples[0].ExceptionType != "System.InvalidOperationException" {
		t.Fatalf("unexpected exception type: %s", analysis.TaskStats.FaultedSamples[0].ExceptionType)
	}
}

func TestCombinedHeapWalkStringDuplicates(t *testing.T) {
	src := &fakeHeapSource{
		segments: []Segment{{Address: 0x4000, Size: 256, Kind: "Gen0"}},
		objects: map[uint64][]HeapObject{
			0x4000: {
				{Address: 0x4010, TypeName: "System.String", Size: 48},
				{Address: 0x4050, TypeName: "System.String", Size: 48},
				{Address: 0x4090, TypeName: "System.String", Size: 48},
			},
		},
		strings: map[uint64]string{
			0x4010: "hello",
			0x4050: "hello",
			0x4090: "world",
		},
	}
	_, analysis, err := CombinedHeapWalk(context.Background(), src, DefaultHeapConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.StringDuplicates) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(analysis.StringDuplicates))
	}
	dup := analysis.StringDuplicates[0]
	if dup.Value != "hello" || dup.Count != 2 {
		t.Fatalf("unexpected duplicate group: %+v", dup)
	}
	if dup.WastedBytes != 48 {
		t.Fatalf("expected wasted bytes 48, got %d", dup.WastedBytes)
	}
}
