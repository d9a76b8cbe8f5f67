// Package pipeline implements the fixed per-dialect command program that
// drives the facade, feeds each response through the matching parsers, and
// derives the heap-leak and deadlock heuristics that seed the finalizer's
// findings.
package pipeline

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/facade"
)

// MemoryAccessor implements runtimereader.MemoryImage, and the byte,
// pointer and C-string reads behind parse.MemoryReader (memoryReaderAdapter
// adds the region lookup), over a facade.Facade, the way a real debugger
// session exposes raw bytes only through a memory-dump command whose text
// output must be decoded back into bytes.
type MemoryAccessor struct {
	f       *facade.Facade
	dialect string
}

// NewMemoryAccessor binds a MemoryAccessor to an opened facade. dialect is
// "lldb" or "windbg", matching facade.Dialect().
func NewMemoryAccessor(f *facade.Facade, dialect string) *MemoryAccessor {
	return &MemoryAccessor{f: f, dialect: dialect}
}

var lldbMemoryLineRe = regexp.MustCompile(`^0x[0-9a-fA-F]+:\s*([0-9a-fA-F ]+)`)
var windbgMemoryLineRe = regexp.MustCompile("^[0-9a-fA-F]+`?[0-9a-fA-F]*\\s+([0-9a-fA-F]{2}(?:[-\\s][0-9a-fA-F]{2})*)")

// ReadBytes reads length bytes starting at addr, issuing a dialect-specific
// memory-dump command through the facade and decoding its hex-dump output.
func (m *MemoryAccessor) ReadBytes(ctx context.Context, addr uint64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	var command string
	switch m.dialect {
	case "windbg":
		command = fmt.Sprintf("db 0x%x L%x", addr, length)
	default:
		command = fmt.Sprintf("memory read --format x --size 1 --count %d 0x%x", length, addr)
	}
	out, err := m.f.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	return decodeHexDump(out, m.dialect, length)
}

func decodeHexDump(text, dialect string, want int) ([]byte, error) {
	lineRe := lldbMemoryLineRe
	if dialect == "windbg" {
		lineRe = windbgMemoryLineRe
	}
	var out []byte
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() && len(out) < want {
		m := lineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		for _, tok := range strings.Fields(strings.ReplaceAll(m[1], "-", " ")) {
			if len(out) >= want {
				break
			}
			b, err := strconv.ParseUint(tok, 16, 8)
			if err != nil {
				continue
			}
			out = append(out, byte(b))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pipeline: no bytes decoded from memory dump")
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}

// ReadPointer reads a little-endian pointer-sized value.
func (m *MemoryAccessor) ReadPointer(ctx context.Context, addr uint64, pointerSize int) (uint64, error) {
	width := pointerSize / 8
	if width != 4 && width != 8 {
		width = 8
	}
	data, err := m.ReadBytes(ctx, addr, width)
	if err != nil {
		return 0, err
	}
	if width == 4 {
		return uint64(binary.LittleEndian.Uint32(data)), nil
	}
	return binary.LittleEndian.Uint64(data), nil
}

// ReadCString reads a NUL-terminated string, at most maxLen bytes, in small
// chunks to avoid over-reading past a mapped page.
func (m *MemoryAccessor) ReadCString(ctx context.Context, addr uint64, maxLen int) (string, error) {
	const chunk = 256
	var sb strings.Builder
	for read := 0; read < maxLen; read += chunk {
		n := chunk
		if read+n > maxLen {
			n = maxLen - read
		}
		data, err := m.ReadBytes(ctx, addr+uint64(read), n)
		if err != nil {
			if read == 0 {
				return "", err
			}
			break
		}
		if idx := indexByte(data, 0); idx >= 0 {
			sb.Write(data[:idx])
			return sb.String(), nil
		}
		sb.Write(data)
	}
	return sb.String(), nil
}

func indexByte(data []byte, b byte) int {
	for i, v := range data {
		if v == b {
			return i
		}
	}
	return -1
}

// region is one parsed memory-map entry.
type region struct {
	Address  uint64
	Size     uint64
	Writable bool
}

var lldbRegionRe = regexp.MustCompile(`(?m)^\[0x([0-9a-fA-F]+)-0x([0-9a-fA-F]+)\)\s+([rwx-]+)`)
var windbgRegionRe = regexp.MustCompile(
	"(?m)BaseAddress:\\s*([0-9a-fA-F]+`?[0-9a-fA-F]*)\\s+RegionSize:\\s*([0-9a-fA-F]+`?[0-9a-fA-F]*)\\s+.*Protect:\\s*(\\S+)")

func parseRegions(text, dialect string) []region {
	var out []region
	if dialect == "windbg" {
		for _, m := range windbgRegionRe.FindAllStringSubmatch(text, -1) {
			addr := parseMaybeTicked(m[1])
			size := parseMaybeTicked(m[2])
			out = append(out, region{Address: addr, Size: size, Writable: strings.Contains(m[3], "READWRITE")})
		}
		return out
	}
	for _, m := range lldbRegionRe.FindAllStringSubmatch(text, -1) {
		lo, _ := strconv.ParseUint(m[1], 16, 64)
		hi, _ := strconv.ParseUint(m[2], 16, 64)
		out = append(out, region{Address: lo, Size: hi - lo, Writable: strings.Contains(m[3], "w")})
	}
	return out
}

func parseMaybeTicked(s string) uint64 {
	s = strings.ReplaceAll(s, "`", "")
	v, _ := strconv.ParseUint(s, 16, 64)
	return v
}

// FindHighStackRegion scans regionsText (the output of the memory-map
// command already captured by the pipeline) for the highest-addressed
// writable region sized within [64KiB, 16MiB], the fallback candidate for
// a stack-region scan.
func FindHighStackRegion(regionsText, dialect string) (addr uint64, size uint64, ok bool) {
	var best region
	for _, r := range parseRegions(regionsText, dialect) {
		if !r.Writable || r.Size < 64*1024 || r.Size > 16*1024*1024 {
			continue
		}
		if r.Address > best.Address {
			best = r
		}
	}
	if best.Address == 0 {
		return 0, 0, false
	}
	return best.Address, best.Size, true
}

// boundRegionFinder adapts a fixed regions snapshot to parse.MemoryReader's
// FindHighStackRegion signature.
type boundRegionFinder struct {
	regionsText string
	dialect     string
}

func (b boundRegionFinder) find(ctx context.Context) (uint64, uint64, bool) {
	return FindHighStackRegion(b.regionsText, b.dialect)
}
