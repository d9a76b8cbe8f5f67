// Package parse implements dialect-specific, regex-driven extractors that
// turn a debugger's raw text output into the typed entities owned by
// a model.Report. Every text parser here is a pure function of
// (Dialect, string, *Report); ExtractProcessInfo additionally reads dump
// memory through a MemoryReader. Parse failures are swallowed, never fatal,
// and leave the corresponding field empty.
package parse

import (
	"regexp"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

var (
	lldbThreadRe = regexp.MustCompile(
		`(?m)^\s*(\*?)\s*thread\s*#(\d+):\s*tid\s*=\s*(0x[0-9a-fA-F]+|\d+)(.*)$`)
	windbgThreadRe = regexp.MustCompile(
		`(?m)^\s*(\.|\#)?\s*(\d+)\s+Id:\s*([0-9a-fA-F]+)\.([0-9a-fA-F]+)\s+Suspend:\s*(\d+)\s+Teb:\s*(0x[0-9a-fA-F]+)\s+(.+?)(?:\s+"(.*)")?\s*$`)

	faultingStopReasonRe = regexp.MustCompile(`(?i)SIG(ABRT|SEGV|BUS|FPE|ILL|TRAP|KILL)`)
)

// ParseThreadList parses `thread list` (LLDB) or `~` (WinDbg) and
// populates report.ThreadsInfo.Threads. Existing call stacks (if a
// backtrace was already parsed) are preserved by matching on ThreadID.
func ParseThreadList(dialect model.Dialect, raw string, report *model.Report) {
	if report.ThreadsInfo == nil {
		report.ThreadsInfo = &model.ThreadsInfo{}
	}

	var parsed []model.ThreadInfo
	switch dialect {
	case model.DialectLLDB:
		parsed = parseLLDBThreadList(raw)
	case model.DialectWinDbg:
		parsed = parseWinDbgThreadList(raw)
	}
	if parsed == nil {
		return
	}

	existing := make(map[string]model.ThreadInfo, len(report.ThreadsInfo.Threads))
	for _, t := range report.ThreadsInfo.Threads {
		existing[t.ThreadID] = t
	}
	for i, t := range parsed {
		if prev, ok := existing[t.ThreadID]; ok {
			parsed[i].CallStack = prev.CallStack
		}
	}
	report.ThreadsInfo.Threads = parsed
}

func parseLLDBThreadList(raw string) []model.ThreadInfo {
	matches := lldbThreadRe.FindAllStringSubmatch(raw, -1)
	if matches == nil {
		return nil
	}
	threads := make([]model.ThreadInfo, 0, len(matches))
	for _, m := range matches {
		marker, idx, tid, rest := m[1], m[2], m[3], m[4]
		t := model.ThreadInfo{
			ThreadID:   idx + " (tid: " + tid + ")",
			OSThreadID: tid,
		}
		t.State = strings.TrimSpace(rest)
		t.IsFaulting = marker == "*" || isFaultingStopReason(rest)
		threads = append(threads, t)
	}
	return threads
}

func parseWinDbgThreadList(raw string) []model.ThreadInfo {
	matches := windbgThreadRe.FindAllStringSubmatch(raw, -1)
	if matches == nil {
		return nil
	}
	threads := make([]model.ThreadInfo, 0, len(matches))
	for _, m := range matches {
		marker, idx, pid, tid, state := m[1], m[2], m[3], m[4], m[6]
		t := model.ThreadInfo{
			ThreadID:   idx,
			OSThreadID: "0x" + strings.ToLower(tid),
			State:      strings.TrimSpace(m[7]),
		}
		_ = pid
		_ = state
		t.IsFaulting = marker == "." || marker == "#" || isFaultingStopReason(m[7])
		threads = append(threads, t)
	}
	return threads
}

// isFaultingStopReason reports whether a stop-reason/state string implies
// the owning thread is the faulting one. `signal 0` is explicitly not
// faulting.
func isFaultingStopReason(reason string) bool {
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "signal 0") && !faultingStopReasonRe.MatchString(reason) {
		return false
	}
	if faultingStopReasonRe.MatchString(reason) {
		return true
	}
	if strings.Contains(lower, "exception") {
		return true
	}
	if strings.Contains(strings.ToUpper(reason), "EXC_") {
		return true
	}
	return false
}
