package runtimereader

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// CommandExecutor is the narrow seam SOSHeapSource needs from the debugger
// facade: send one already-safety-checked command, get back its raw text
// output. facade.Facade satisfies this directly.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// SOSHeapSource implements HeapSource by driving the SOS managed-runtime
// extension through an already-open facade and scraping its fixed-format
// text output, the same way every parser in this repository scrapes native
// debugger output -- just against SOS's `!`-prefixed (WinDbg) or
// `sos `-prefixed (LLDB) commands instead of native ones.
type SOSHeapSource struct {
	exec    CommandExecutor
	dialect model.Dialect

	typeNames   map[string]string // method-table hex (lowercase, no 0x) -> class name
	statsLoaded bool
}

// NewSOSHeapSource builds a HeapSource that walks the managed heap through
// exec. It is safe to use once exec's underlying dump is open.
func NewSOSHeapSource(exec CommandExecutor, dialect model.Dialect) *SOSHeapSource {
	return &SOSHeapSource{exec: exec, dialect: dialect, typeNames: map[string]string{}}
}

// sosCommand builds the dialect-appropriate form of an SOS command: WinDbg
// SOS commands are prefixed `!`, the LLDB SOS plugin takes the same verbs
// prefixed `sos `.
func (s *SOSHeapSource) sosCommand(verb string) string {
	if s.dialect == model.DialectLLDB {
		return "sos " + verb
	}
	return "!" + verb
}

func (s *SOSHeapSource) run(ctx context.Context, verb string) (string, error) {
	return s.exec.Execute(ctx, s.sosCommand(verb))
}

// The heading regexes below match the section headings eeheap prints
// before each group of segments; segmentRowRe matches one segment's
// "begin allocated size" row.
var (
	largeHeapHeadingRe  = regexp.MustCompile(`(?i)large object heap`)
	pinnedHeapHeadingRe = regexp.MustCompile(`(?i)pinned object heap`)
	frozenHeapHeadingRe = regexp.MustCompile(`(?i)frozen object heap`)
	segmentRowRe        = regexp.MustCompile(`(?i)^\s*(?:0x)?([0-9a-f]{4,16})\s+(?:0x)?[0-9a-f]{4,16}\s+(?:0x)?[0-9a-f]{4,16}\s+(?:0x)?[0-9a-f]+\((\d+)\)\s*$`)
)

// Segments runs `eeheap -gc` and parses the segment table it prints per
// heap kind: the small-object-heap section (ephemeral segment first, the
// rest Gen2), then Large/Pinned/Frozen object heap sections.
func (s *SOSHeapSource) Segments(ctx context.Context) ([]Segment, error) {
	out, err := s.run(ctx, "eeheap -gc")
	if err != nil {
		return nil, fmt.Errorf("runtimereader: eeheap -gc: %w", err)
	}

	kind := "Gen0" // first small-object-heap segment is the ephemeral one
	var segs []Segment
	for _, line := range strings.Split(out, "\n") {
		switch {
		case largeHeapHeadingRe.MatchString(line):
			kind = "Large"
			continue
		case pinnedHeapHeadingRe.MatchString(line):
			kind = "Pinned"
			continue
		case frozenHeapHeadingRe.MatchString(line):
			kind = "Frozen"
			continue
		}
		m := segmentRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, Segment{Address: addr, Size: size, Kind: kind})
		if kind == "Gen0" {
			kind = "Gen2" // only the first segment of the small-object heap is ephemeral
		}
	}
	return segs, nil
}

var dumpHeapStatRe = regexp.MustCompile(`(?i)^\s*([0-9a-f]{6,16})\s+(\d+)\s+(\d+)\s+(\S.*?)\s*$`)

// loadTypeNames runs `dumpheap -stat` once and indexes every method table
// seen by its class name, so per-object rows (which carry only an MT
// pointer) can be resolved to a type name without a dumpobj round trip.
func (s *SOSHeapSource) loadTypeNames(ctx context.Context) {
	if s.statsLoaded {
		return
	}
	s.statsLoaded = true
	out, err := s.run(ctx, "dumpheap -stat")
	if err != nil {
		return
	}
	for _, line := range strings.Split(out, "\n") {
		m := dumpHeapStatRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		s.typeNames[strings.ToLower(m[1])] = m[4]
	}
}

var dumpHeapObjectRowRe = regexp.MustCompile(`(?i)^\s*(?:0x)?([0-9a-f]{6,16})\s+(?:0x)?([0-9a-f]{6,16})\s+(\d+)\s*(Free)?\s*$`)

// Objects runs `dumpheap <start> <end>` over seg's address range and
// resolves each row's method table against the stat-table index built by
// loadTypeNames.
func (s *SOSHeapSource) Objects(ctx context.Context, seg Segment) ([]HeapObject, error) {
	s.loadTypeNames(ctx)

	verb := fmt.Sprintf("dumpheap %s %s", hexAddr(seg.Address), hexAddr(seg.Address+seg.Size))
	out, err := s.run(ctx, verb)
	if err != nil {
		return nil, fmt.Errorf("runtimereader: dumpheap: %w", err)
	}

	var objs []HeapObject
	for _, line := range strings.Split(out, "\n") {
		m := dumpHeapObjectRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(m[3], 10, 64)
		if err != nil {
			continue
		}
		mt := strings.ToLower(m[2])
		typeName := s.typeNames[mt]
		isFree := m[4] != "" || typeName == "Free"
		if typeName == "" {
			typeName = "Unknown"
		}
		objs = append(objs, HeapObject{Address: addr, TypeName: typeName, Size: size, IsFree: isFree})
	}
	return objs, nil
}

// dumpObjFieldValue scans a `dumpobj` Fields table for a row whose Name
// column matches field (exact match or, for compiler-generated names like
// "<>1__state", a suffix match) and returns its Value column. dumpobj's
// Fields rows are whitespace-separated with Value second-to-last and Name
// last, which holds regardless of how many VT/Attr columns are present.
func dumpObjFieldValue(text, field string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[len(fields)-1]
		if name != field && !strings.HasSuffix(name, field) {
			continue
		}
		return fields[len(fields)-2], true
	}
	return "", false
}

var dumpObjTypeLineRe = regexp.MustCompile(`(?im)^Name:\s*(\S.*?)\s*$`)
var dumpObjStringLineRe = regexp.MustCompile(`(?im)^String:\s*(.*)$`)

// parseSOSInt32 parses a dumpobj Value column: pointer-ish fields print
// hex with a "0x" prefix, plain integers print decimal.
func parseSOSInt32(raw string) (int32, bool) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(strings.ToLower(raw), "0x"); ok {
		if v, err := strconv.ParseInt(rest, 16, 64); err == nil {
			return int32(v), true
		}
		return 0, false
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return int32(v), true
	}
	return 0, false
}

// TaskState dumps obj and reads System.Threading.Tasks.Task's m_stateFlags
// field.
func (s *SOSHeapSource) TaskState(ctx context.Context, obj HeapObject) (int32, bool) {
	out, err := s.run(ctx, "dumpobj "+hexAddr(obj.Address))
	if err != nil {
		return 0, false
	}
	raw, ok := dumpObjFieldValue(out, "m_stateFlags")
	if !ok {
		return 0, false
	}
	return parseSOSInt32(raw)
}

// FaultException dumps obj looking for a field whose value is an exception
// reference (named m_exception, or any field typed as an Exception in the
// Fields table), then dumps that reference for its type name and message.
func (s *SOSHeapSource) FaultException(ctx context.Context, obj HeapObject) (excType, excMessage string, ok bool) {
	out, err := s.run(ctx, "dumpobj "+hexAddr(obj.Address))
	if err != nil {
		return "", "", false
	}
	addrHex, found := dumpObjFieldValue(out, "m_exception")
	if !found {
		found = false
		for _, line := range strings.Split(out, "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			if strings.Contains(strings.Join(fields, " "), "Exception") {
				addrHex = fields[len(fields)-2]
				found = true
				break
			}
		}
	}
	if !found || addrHex == "" || addrHex == "0x0" {
		return "", "", false
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(addrHex), "0x"), 16, 64)
	if err != nil || addr == 0 {
		return "", "", false
	}

	excOut, err := s.run(ctx, "dumpobj "+hexAddr(addr))
	if err != nil {
		return "", "", false
	}
	if m := dumpObjTypeLineRe.FindStringSubmatch(excOut); m != nil {
		excType = m[1]
	}
	excMessage = s.resolveMessageField(ctx, excOut)
	if excType == "" {
		return "", "", false
	}
	return excType, excMessage, true
}

// resolveMessageField reads an Exception object's message field, which is
// itself a System.String reference (field `_message` on modern runtimes,
// `m_message` on older ones, both matched by dumpObjFieldValue's suffix
// rule): the field's raw value is the string object's address, so it
// takes one further dumpobj hop to read its actual text.
func (s *SOSHeapSource) resolveMessageField(ctx context.Context, excOut string) string {
	raw, ok := dumpObjFieldValue(excOut, "_message")
	if !ok || raw == "" || raw == "0x0" {
		return ""
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
	if err != nil || addr == 0 {
		return ""
	}
	value, ok := s.StringValue(ctx, HeapObject{Address: addr})
	if !ok {
		return ""
	}
	return value
}

// StateMachineState reads the compiler-generated `<>1__state` field every
// async state machine carries.
func (s *SOSHeapSource) StateMachineState(ctx context.Context, obj HeapObject) (int, bool) {
	out, err := s.run(ctx, "dumpobj "+hexAddr(obj.Address))
	if err != nil {
		return 0, false
	}
	raw, ok := dumpObjFieldValue(out, "<>1__state")
	if !ok {
		return 0, false
	}
	v, ok := parseSOSInt32(raw)
	return int(v), ok
}

// StringValue dumps obj and reads the "String:" line SOS prints after a
// System.String object's Fields table.
func (s *SOSHeapSource) StringValue(ctx context.Context, obj HeapObject) (string, bool) {
	out, err := s.run(ctx, "dumpobj "+hexAddr(obj.Address))
	if err != nil {
		return "", false
	}
	m := dumpObjStringLineRe.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}
