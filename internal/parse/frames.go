package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

var (
	// lldbHeaderRe matches the thread header a `bt all` section starts
	// with, reusing the same shape as the `thread list` line.
	lldbHeaderRe = regexp.MustCompile(
		`(?m)^\s*(\*?)\s*thread\s*#(\d+):\s*tid\s*=\s*(0x[0-9a-fA-F]+|\d+)`)

	lldbFrameRe = regexp.MustCompile(
		"^\\s*[*\\s]*frame\\s*#(\\d+):\\s*(0x[0-9a-fA-F]+)\\s+(\\S+)`(.+?)(?:\\s+\\+\\s+\\d+)?(?:\\s+at\\s+(.+))?$")

	// lldbBareLibRe matches frames for modules with no resolved symbol,
	// e.g. "libfoo.so.1 + 64" (decimal offset).
	lldbBareLibRe = regexp.MustCompile(
		`^\s*[*\s]*frame\s*#(\d+):\s*(0x[0-9a-fA-F]+)\s+(\S+)\s+\+\s+(\d+)\s*$`)

	windbgHeaderRe = regexp.MustCompile(`(?m)^\s*(\.|\#)?\s*(\d+)\s+Id:\s*([0-9a-fA-F]+)\.([0-9a-fA-F]+)`)

	windbgFrameRe = regexp.MustCompile(
		`^\s*([0-9a-fA-F]+)\s+([0-9a-fA-F]+`+"`"+`[0-9a-fA-F]+)\s+([0-9a-fA-F]+`+"`"+`[0-9a-fA-F]+)\s+(\S+)!(\S+?)(?:\+0x([0-9a-fA-F]+))?(?:\s+\[(.+)\])?\s*$`)
)

// ParseBacktraces parses `bt all` (LLDB) or `~*k` (WinDbg) and assigns
// frames to the owning thread by (1) exact id match, (2) hex-tid match,
// (3) positional index.
func ParseBacktraces(dialect model.Dialect, raw string, report *model.Report) {
	if report.ThreadsInfo == nil {
		report.ThreadsInfo = &model.ThreadsInfo{}
	}

	var sections []frameSection
	switch dialect {
	case model.DialectLLDB:
		sections = splitLLDBSections(raw)
	case model.DialectWinDbg:
		sections = splitWinDbgSections(raw)
	}
	if sections == nil {
		return
	}

	byID := make(map[string]int, len(report.ThreadsInfo.Threads))
	byHexTid := make(map[string]int, len(report.ThreadsInfo.Threads))
	for i, t := range report.ThreadsInfo.Threads {
		byID[t.ThreadID] = i
		byHexTid[strings.ToLower(t.OSThreadID)] = i
	}

	for pos, sec := range sections {
		idx, ok := resolveThreadIndex(sec, report, byID, byHexTid, pos)
		if !ok {
			continue
		}
		report.ThreadsInfo.Threads[idx].CallStack = sec.frames
	}
}

type frameSection struct {
	threadID string
	hexTid   string
	frames   []model.StackFrame
}

func resolveThreadIndex(sec frameSection, report *model.Report, byID, byHexTid map[string]int, pos int) (int, bool) {
	if sec.threadID != "" {
		if idx, ok := byID[sec.threadID]; ok {
			return idx, true
		}
	}
	if sec.hexTid != "" {
		if idx, ok := byHexTid[strings.ToLower(sec.hexTid)]; ok {
			return idx, true
		}
	}
	if pos < len(report.ThreadsInfo.Threads) {
		return pos, true
	}
	return 0, false
}

func splitLLDBSections(raw string) []frameSection {
	headers := lldbHeaderRe.FindAllStringSubmatchIndex(raw, -1)
	if headers == nil {
		return nil
	}
	sections := make([]frameSection, 0, len(headers))
	for i, h := range headers {
		start := h[1]
		end := len(raw)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := raw[start:end]
		m := lldbHeaderRe.FindStringSubmatch(raw[h[0]:h[1]])
		sec := frameSection{
			threadID: m[2] + " (tid: " + m[3] + ")",
			hexTid:   m[3],
			frames:   parseLLDBFrames(body),
		}
		sections = append(sections, sec)
	}
	return sections
}

func parseLLDBFrames(body string) []model.StackFrame {
	var frames []model.StackFrame
	for _, line := range strings.Split(body, "\n") {
		if m := lldbFrameRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			frame := model.StackFrame{
				FrameNumber:        num,
				InstructionPointer: strings.ToLower(m[2]),
				Module:             m[3],
				Function:           strings.TrimSpace(m[4]),
			}
			if src := strings.TrimSpace(m[5]); src != "" {
				if fileLine, ok := splitFileLine(src); ok {
					frame.SourceFile = fileLine.file
					frame.LineNumber = fileLine.line
				}
			}
			frames = append(frames, frame)
			continue
		}
		if m := lldbBareLibRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			frames = append(frames, model.StackFrame{
				FrameNumber:        num,
				InstructionPointer: strings.ToLower(m[2]),
				Module:             m[3],
				Function:           "[Native Code @ " + strings.ToLower(m[2]) + "]",
			})
		}
	}
	return frames
}

func splitWinDbgSections(raw string) []frameSection {
	headers := windbgHeaderRe.FindAllStringSubmatchIndex(raw, -1)
	if headers == nil {
		return nil
	}
	sections := make([]frameSection, 0, len(headers))
	for i, h := range headers {
		start := h[1]
		end := len(raw)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := raw[start:end]
		m := windbgHeaderRe.FindStringSubmatch(raw[h[0]:h[1]])
		sec := frameSection{
			threadID: m[2],
			hexTid:   "0x" + strings.ToLower(m[4]),
			frames:   parseWinDbgFrames(body),
		}
		sections = append(sections, sec)
	}
	return sections
}

func parseWinDbgFrames(body string) []model.StackFrame {
	var frames []model.StackFrame
	n := 0
	for _, line := range strings.Split(body, "\n") {
		m := windbgFrameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		frame := model.StackFrame{
			FrameNumber:        n,
			InstructionPointer: strings.ToLower(stripBacktick(m[3])),
			Module:             m[4],
			Function:           m[5],
		}
		if src := strings.TrimSpace(m[7]); src != "" {
			if fileLine, ok := splitFileLine(src); ok {
				frame.SourceFile = fileLine.file
				frame.LineNumber = fileLine.line
			}
		}
		frames = append(frames, frame)
		n++
	}
	return frames
}

func stripBacktick(s string) string {
	return strings.ReplaceAll(s, "`", "")
}

type fileLineResult struct {
	file string
	line int
}

var fileAtLineRe = regexp.MustCompile(`^(.+?)\s*@\s*(\d+)$|^(.+):(\d+)$`)

// splitFileLine splits a "file @ line" or "file:line" source reference.
func splitFileLine(src string) (fileLineResult, bool) {
	m := fileAtLineRe.FindStringSubmatch(src)
	if m == nil {
		return fileLineResult{}, false
	}
	if m[1] != "" {
		line, _ := strconv.Atoi(m[2])
		return fileLineResult{file: m[1], line: line}, true
	}
	line, _ := strconv.Atoi(m[4])
	return fileLineResult{file: m[3], line: line}, true
}
