package runtimereader

import (
	"context"
	"testing"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

type scriptedExecutor struct {
	responses map[string]string
	commands  []string
}

func (e *scriptedExecutor) Execute(ctx context.Context, command string) (string, error) {
	e.commands = append(e.commands, command)
	return e.responses[command], nil
}

func TestSOSHeapSourceSegmentsClassifiesKinds(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"!eeheap -gc": "Number of GC Heaps: 1\n" +
			"generation 0 starts at 0x02c51018\n" +
			" segment     begin allocated     size\n" +
			"02c50000  02c51000  02d84018  0x133018(1257496)\n" +
			"03000000  03001000  03002000  0x1000(4096)\n" +
			"Large object heap starts at 0x03c51000\n" +
			" segment     begin allocated     size\n" +
			"03c50000  03c51000  03c6c730  0x1b730(112432)\n" +
			"Pinned object heap starts at 0x04c51000\n" +
			" segment     begin allocated     size\n" +
			"04c50000  04c51000  04c52000  0x1000(4096)\n",
	}}
	source := NewSOSHeapSource(exec, model.DialectWinDbg)

	segs, err := source.Segments(context.Background())
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 4 {
		t.Fatalf("got %d segments, want 4", len(segs))
	}
	want := []string{"Gen0", "Gen2", "Large", "Pinned"}
	for i, k := range want {
		if segs[i].Kind != k {
			t.Errorf("segment %d kind = %q, want %q", i, segs[i].Kind, k)
		}
	}
	if segs[0].Address != 0x02c50000 || segs[0].Size != 1257496 {
		t.Errorf("segment 0 = %+v", segs[0])
	}
}

func TestSOSHeapSourceObjectsResolvesTypeNamesAndFree(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"!dumpheap -stat": "      MT    Count    TotalSize Class Name\n" +
			"6f631100        2          240 System.Object\n" +
			"6f631200        1           24 Free\n" +
			"Total 3 objects\n",
		"!dumpheap 0x1000 0x2000": " Address       MT     Size\n" +
			"00001000 6f631100       24\n" +
			"00001020 6f631100       24\n" +
			"00001040 6f631200       24     Free\n",
	}}
	source := NewSOSHeapSource(exec, model.DialectWinDbg)

	objs, err := source.Objects(context.Background(), Segment{Address: 0x1000, Size: 0x1000})
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("got %d objects, want 3", len(objs))
	}
	if objs[0].TypeName != "System.Object" || objs[0].IsFree {
		t.Errorf("object 0 = %+v", objs[0])
	}
	if !objs[2].IsFree {
		t.Errorf("object 2 should be free: %+v", objs[2])
	}
}

func TestSOSHeapSourceObjectsLLDBUsesSOSPrefix(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"sos dumpheap -stat":      "",
		"sos dumpheap 0x0 0x1000": "",
	}}
	source := NewSOSHeapSource(exec, model.DialectLLDB)
	if _, err := source.Objects(context.Background(), Segment{Address: 0, Size: 0x1000}); err != nil {
		t.Fatalf("Objects: %v", err)
	}
	for _, want := range []string{"sos dumpheap -stat", "sos dumpheap 0x0 0x1000"} {
		found := false
		for _, got := range exec.commands {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected command %q, got %v", want, exec.commands)
		}
	}
}

func TestSOSHeapSourceTaskStateParsesStateFlags(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"!dumpobj 0x1000": "Name:        System.Threading.Tasks.Task\n" +
			"MethodTable: 6f631100\n" +
			"Fields:\n" +
			"      MT    Field   Offset                 Type VT     Attr            Value Name\n" +
			"6f631100  4000123        8         System.Int32  1 instance          16777216 m_stateFlags\n",
	}}
	source := NewSOSHeapSource(exec, model.DialectWinDbg)

	flags, ok := source.TaskState(context.Background(), HeapObject{Address: 0x1000})
	if !ok {
		t.Fatal("expected ok")
	}
	if flags != 0x1000000 {
		t.Errorf("flags = %#x, want 0x1000000", flags)
	}
}

func TestSOSHeapSourceStateMachineStateParsesCompilerGeneratedField(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"!dumpobj 0x2000": "Name:        MyApp.Worker+<RunAsync>d__3\n" +
			"Fields:\n" +
			"      MT    Field   Offset                 Type VT     Attr            Value Name\n" +
			"6f631300  4000200        8         System.Int32  1 instance               -1 <>1__state\n",
	}}
	source := NewSOSHeapSource(exec, model.DialectWinDbg)

	state, ok := source.StateMachineState(context.Background(), HeapObject{Address: 0x2000})
	if !ok {
		t.Fatal("expected ok")
	}
	if state != -1 {
		t.Errorf("state = %d, want -1", state)
	}
}

func TestSOSHeapSourceStringValueParsesStringLine(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"!dumpobj 0x3000": "Name:        System.String\n" +
			"Fields:\n" +
			"String:          hello world\n",
	}}
	source := NewSOSHeapSource(exec, model.DialectWinDbg)

	value, ok := source.StringValue(context.Background(), HeapObject{Address: 0x3000})
	if !ok {
		t.Fatal("expected ok")
	}
	if value != "hello world" {
		t.Errorf("value = %q", value)
	}
}

func TestSOSHeapSourceFaultExceptionResolvesReference(t *testing.T) {
	exec := &scriptedExecutor{responses: map[string]string{
		"!dumpobj 0x4000": "Name:        System.Threading.Tasks.Task\n" +
			"Fields:\n" +
			"      MT    Field   Offset                 Type VT     Attr            Value Name\n" +
			"6f631400  4000300        8 System.AggregateException  0 instance         0x5000 m_exception\n",
		"!dumpobj 0x5000": "Name:        System.AggregateException\n" +
			"Fields:\n" +
			"      MT    Field   Offset                 Type VT     Attr            Value Name\n" +
			"6f631500  4000301        8         System.String  0 instance         0x6000 _message\n",
		"!dumpobj 0x6000": "Name:        System.String\n" +
			"Fields:\n" +
			"String:          a faulted task blew up\n",
	}}
	source := NewSOSHeapSource(exec, model.DialectWinDbg)

	excType, excMessage, ok := source.FaultException(context.Background(), HeapObject{Address: 0x4000})
	if !ok {
		t.Fatal("expected ok")
	}
	if excType != "System.AggregateException" {
		t.Errorf("excType = %q", excType)
	}
	if excMessage != "a faulted task blew up" {
		t.Errorf("excMessage = %q", excMessage)
	}
}
