package parse

import (
	"regexp"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

var (
	lldbImageRe = regexp.MustCompile(
		`(?m)^\s*\[\s*\d+\]\s+([0-9A-Fa-f-]+)\s+(0x[0-9a-fA-F]+)\s+(\S.*)$`)

	windbgModuleRe = regexp.MustCompile(
		`(?m)^\s*([0-9a-f\x60]+)\s+([0-9a-f\x60]+)\s+(\S+)\s*(?:\((.*?)\))?\s*(.*)$`)

	debugInfoNameRe = regexp.MustCompile(`(?i)\.debug$|\.dbg$|/debug/`)
	symbolStatusRe  = regexp.MustCompile(`(?i)pdb|symbols|private`)
)

// ParseModules parses `image list` (LLDB) or `lm` (WinDbg) into
// report.Modules.
func ParseModules(dialect model.Dialect, raw string, report *model.Report) {
	switch dialect {
	case model.DialectLLDB:
		report.Modules = append(report.Modules, parseLLDBModules(raw)...)
	case model.DialectWinDbg:
		report.Modules = append(report.Modules, parseWinDbgModules(raw)...)
	}
}

func parseLLDBModules(raw string) []model.Module {
	lines := strings.Split(raw, "\n")
	matches := lldbImageRe.FindAllStringSubmatchIndex(raw, -1)
	if matches == nil {
		return nil
	}
	var modules []model.Module
	lineOf := make([]int, 0, len(lines))
	offset := 0
	for _, l := range lines {
		lineOf = append(lineOf, offset)
		offset += len(l) + 1
	}
	for _, idxs := range matches {
		m := lldbImageRe.FindStringSubmatch(raw[idxs[0]:idxs[1]])
		fullPath := strings.TrimSpace(m[3])
		mod := model.Module{
			Name:        baseName(fullPath),
			FullPath:    fullPath,
			BaseAddress: strings.ToLower(m[2]),
		}
		if strings.Contains(fullPath, ".dSYM") {
			mod.HasSymbols = true
		}
		// Check the following line for a co-located debug-info path.
		lineStart := idxs[0]
		curLine := 0
		for i, lo := range lineOf {
			if lo > lineStart {
				break
			}
			curLine = i
		}
		if curLine+1 < len(lines) {
			next := lines[curLine+1]
			if debugInfoNameRe.MatchString(next) {
				mod.HasSymbols = true
			}
		}
		modules = append(modules, mod)
	}
	return modules
}

func parseWinDbgModules(raw string) []model.Module {
	var modules []model.Module
	for _, line := range strings.Split(raw, "\n") {
		m := windbgModuleRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[3]
		if name == "" || strings.EqualFold(name, "start") {
			continue
		}
		mod := model.Module{
			Name:        name,
			BaseAddress: "0x" + strings.ToLower(stripBacktick(m[1])),
			FullPath:    strings.TrimSpace(m[5]),
		}
		status := m[4]
		if symbolStatusRe.MatchString(status) {
			mod.HasSymbols = true
		}
		modules = append(modules, mod)
	}
	return modules
}

func baseName(path string) string {
	path = strings.TrimRight(path, "/\\")
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[i+1:]
	}
	return path
}
