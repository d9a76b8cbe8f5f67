package runtimereader

import (
	"context"
	"fmt"
	"log"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// maxMetadataSize is the 50 MiB cap on a single module's metadata under
// which this reader will attempt to parse it at all.
const maxMetadataSize = 50 * 1024 * 1024

// MemoryImage is the passive, read-only view of dump memory the runtime
// reader operates over.
type MemoryImage interface {
	ReadBytes(ctx context.Context, addr uint64, length int) ([]byte, error)
}

// ManagedModule is one module the managed-runtime reader has located,
// ready to be enriched with its ECMA-335 metadata.
type ManagedModule struct {
	Name            string
	FullPath        string
	Base            uint64
	Size            uint64
	IsDynamic       bool
	IsPEFile        bool
	MetadataAddress uint64
	MetadataLength  uint64
}

// Reader is the managed-runtime metadata reader: EnrichModule writes the
// decoded metadata into the model.Module it is handed, and EnrichModules
// applies that to a Report's module list.
type Reader struct {
	mem MemoryImage
}

// NewReader binds a Reader to a memory image.
func NewReader(mem MemoryImage) *Reader {
	return &Reader{mem: mem}
}

// EnrichModule reads mm's metadata directory (skipping anything over the
// 50 MiB cap), parses it, and fills target's AssemblyVersion and
// Attributes. Any failure here is logged at debug level and the module is
// left un-enriched rather than failing the
// pipeline.
func (r *Reader) EnrichModule(ctx context.Context, mm ManagedModule, target *model.Module) {
	if !mm.IsPEFile || mm.MetadataLength == 0 {
		return
	}
	if mm.MetadataLength > maxMetadataSize {
		log.Printf("debug: runtimereader: skipping %s: metadata length %d exceeds cap", mm.Name, mm.MetadataLength)
		return
	}

	data, err := r.mem.ReadBytes(ctx, mm.MetadataAddress, int(mm.MetadataLength))
	if err != nil {
		log.Printf("debug: runtimereader: skipping %s: %v", mm.Name, err)
		return
	}

	image, err := ParseMetadataImage(data)
	if err != nil {
		log.Printf("debug: runtimereader: skipping %s: %v", mm.Name, err)
		return
	}

	target.AssemblyVersion = image.AssemblyVersion()
	for _, ab := range image.AssemblyCustomAttributes() {
		attrs := DecodeAssemblyAttribute(ab.TypeName, ab.Blob)
		target.Attributes = append(target.Attributes, attrs...)
	}
}

// InspectedObject is a best-effort, shallow dereference of a managed object
// address: its method-table pointer and a chain of further method-table
// pointers found at the same offset in whatever it points to, up to
// maxDepth hops. Resolving the actual field layout needs the type's
// metadata, which this reader does not index by address; deeper inspection
// is left to an SOS-backed debugger extension.
type InspectedObject struct {
	Address          string   `json:"address"`
	MethodTable      string   `json:"methodTable,omitempty"`
	FollowedPointers []string `json:"followedPointers,omitempty"`
}

// Inspect dereferences addr as a managed object: its first pointer-sized
// field is treated as a method-table pointer, and up to maxDepth-1 further
// hops are attempted by re-reading 8 bytes at each resolved address.
func (r *Reader) Inspect(ctx context.Context, addr uint64, maxDepth int) (*InspectedObject, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > 5 {
		maxDepth = 5
	}
	obj := &InspectedObject{Address: fmt.Sprintf("0x%x", addr)}

	cur := addr
	for hop := 0; hop < maxDepth; hop++ {
		raw, err := r.mem.ReadBytes(ctx, cur, 8)
		if err != nil || len(raw) < 8 {
			break
		}
		var ptr uint64
		for i := 7; i >= 0; i-- {
			ptr = ptr<<8 | uint64(raw[i])
		}
		if hop == 0 {
			obj.MethodTable = fmt.Sprintf("0x%x", ptr)
		} else {
			obj.FollowedPointers = append(obj.FollowedPointers, fmt.Sprintf("0x%x", ptr))
		}
		if ptr == 0 {
			break
		}
		cur = ptr
	}
	return obj, nil
}

// EnrichModules is a convenience wrapper applying EnrichModule to every
// matching pair of located module and report module, matched by name.
func EnrichModules(ctx context.Context, reader *Reader, managed []ManagedModule, report *model.Report) {
	byName := make(map[string]*model.Module, len(report.Modules))
	for i := range report.Modules {
		byName[report.Modules[i].Name] = &report.Modules[i]
	}
	for _, mm := range managed {
		target, ok := byName[mm.Name]
		if !ok {
			target = &model.Module{Name: mm.Name}
			report.Modules = append(report.Modules, *target)
			target = &report.Modules[len(report.Modules)-1]
		}
		target.FullPath = mm.FullPath
		target.BaseAddress = fmt.Sprintf("0x%x", mm.Base)
		target.Size = mm.Size
		target.IsDynamic = mm.IsDynamic
		target.IsPEFile = mm.IsPEFile
		target.MetadataAddress = mm.MetadataAddress
		target.MetadataLength = mm.MetadataLength
		reader.EnrichModule(ctx, mm, target)
	}
}
