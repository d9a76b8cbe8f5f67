package parse

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// MemoryReader is the subset of the runtime reader's raw-memory access the
// process-info extractor needs: dereferencing a pointer-sized value, reading a
// NUL-terminated C string, and finding the candidate high stack region for
// the scan fallback. Implementations typically sit on top of the managed
// runtime reader's memory image.
type MemoryReader interface {
	ReadPointer(ctx context.Context, addr uint64, pointerSize int) (uint64, error)
	ReadCString(ctx context.Context, addr uint64, maxLen int) (string, error)
	FindHighStackRegion(ctx context.Context) (addr uint64, size uint64, ok bool)
	ReadBytes(ctx context.Context, addr uint64, length int) ([]byte, error)
}

var entryFrameRe = regexp.MustCompile(
	"(?:dotnet`main|`main|corehost_main|hostfxr_main|exe_start|`_main)\\(argc=(\\d+),\\s*argv=(0x[0-9a-fA-F]+)\\)")

const maxCStringLen = 32768

func userSpaceCeiling(pointerSize int) uint64 {
	if pointerSize == 32 {
		return 0xbfffffff
	}
	return 0x0000ffffffffffff
}

// ExtractProcessInfo recovers argv/envp either from the located entry
// frame (preferred) or, failing that, a stack-region scan. mr may be nil,
// in which case only the scan-independent fields (none, currently) apply
// and the function is a no-op. redact gates whether sensitively-named
// environment variables are replaced before being attached to the report.
func ExtractProcessInfo(ctx context.Context, btAllRaw string, pointerSize int, mr MemoryReader, redact bool, report *model.Report) {
	if mr == nil {
		return
	}

	pi := &model.ProcessInfo{}
	if extractFromEntryFrame(ctx, btAllRaw, pointerSize, mr, pi) {
		finishProcessInfo(pi, redact, report)
		return
	}
	if extractFromStackScan(ctx, pointerSize, mr, pi) {
		finishProcessInfo(pi, redact, report)
	}
}

func finishProcessInfo(pi *model.ProcessInfo, redact bool, report *model.Report) {
	if redact {
		redactedEnv, filtered := RedactEnvironment(pi.EnvironmentVariables)
		pi.EnvironmentVariables = redactedEnv
		pi.SensitiveDataFiltered = filtered
	} else {
		sort.Strings(pi.EnvironmentVariables)
	}
	report.ProcessInfo = pi
	if report.Environment == nil {
		report.Environment = &model.Environment{}
	}
	report.Environment.ProcessInfo = pi
}

func extractFromEntryFrame(ctx context.Context, raw string, pointerSize int, mr MemoryReader, pi *model.ProcessInfo) bool {
	m := entryFrameRe.FindStringSubmatch(raw)
	if m == nil {
		return false
	}
	argc, err := strconv.Atoi(m[1])
	if err != nil || argc <= 0 {
		return false
	}
	argvAddr, err := strconv.ParseUint(strings.TrimPrefix(m[2], "0x"), 16, 64)
	if err != nil {
		return false
	}
	pi.Argc = argc
	pi.ArgvAddress = strings.ToLower(m[2])

	ceiling := userSpaceCeiling(pointerSize)
	width := pointerSize / 8
	if width == 0 {
		width = 8
	}

	var argv, envp []string
	inEnv := false
	nullCount := 0
	addr := argvAddr
	for i := 0; i < argc*4+4096 && nullCount < 2; i++ {
		ptr, err := mr.ReadPointer(ctx, addr, pointerSize)
		if err != nil {
			break
		}
		addr += uint64(width)
		if ptr == 0 {
			nullCount++
			if nullCount == 1 {
				inEnv = true
			}
			continue
		}
		if ptr < 0x1000 || ptr > ceiling {
			continue
		}
		s, err := mr.ReadCString(ctx, ptr, maxCStringLen)
		if err != nil || s == "" {
			continue
		}
		if !inEnv {
			argv = append(argv, s)
		} else {
			envp = append(envp, s)
		}
	}

	if len(argv) > 0 && looksLikeExecutable(argv[0]) {
		pi.Arguments = argv
	} else if len(argv) > 0 {
		pi.Arguments = argv
	}
	pi.EnvironmentVariables = envp
	return true
}

func looksLikeExecutable(s string) bool {
	if strings.ContainsAny(s, "/\\") {
		return true
	}
	if len(s) == 0 || !isAlpha(rune(s[0])) {
		return false
	}
	alnum := 0
	for _, r := range s {
		if isAlnum(r) {
			alnum++
		}
	}
	return float64(alnum)/float64(len([]rune(s))) >= 0.6
}

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isAlnum(r rune) bool {
	return isAlpha(r) || (r >= '0' && r <= '9')
}

var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// extractFromStackScan is the fallback path: locate a high-address rw-
// region sized [64KiB, 16MiB], read its final <=8KiB, decode NUL-terminated
// ASCII runs that are >=80% printable, and classify each as an env var iff
// the text before its first '=' looks like an identifier.
func extractFromStackScan(ctx context.Context, pointerSize int, mr MemoryReader, pi *model.ProcessInfo) bool {
	addr, size, ok := mr.FindHighStackRegion(ctx)
	if !ok || size < 64*1024 || size > 16*1024*1024 {
		return false
	}

	readLen := size
	if readLen > 8*1024 {
		readLen = 8 * 1024
	}
	start := addr + size - readLen
	data, err := mr.ReadBytes(ctx, start, int(readLen))
	if err != nil {
		return false
	}

	var argv, envp []string
	for _, run := range splitNullTerminatedASCII(data) {
		if !isMostlyPrintable(run, 0.8) {
			continue
		}
		key, _, found := strings.Cut(run, "=")
		if found && envKeyRe.MatchString(key) {
			envp = append(envp, run)
			continue
		}
		if len(argv) == 0 && looksLikeExecutable(run) {
			argv = append(argv, run)
		}
	}

	if len(argv) == 0 && len(envp) == 0 {
		return false
	}
	pi.Arguments = argv
	pi.EnvironmentVariables = envp
	return true
}

func splitNullTerminatedASCII(data []byte) []string {
	var runs []string
	var cur strings.Builder
	for _, b := range data {
		if b == 0 {
			if cur.Len() > 0 {
				runs = append(runs, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteByte(b)
	}
	if cur.Len() > 0 {
		runs = append(runs, cur.String())
	}
	return runs
}

func isMostlyPrintable(s string, threshold float64) bool {
	if len(s) == 0 {
		return false
	}
	printable := 0
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			printable++
		}
	}
	return float64(printable)/float64(len([]rune(s))) >= threshold
}
