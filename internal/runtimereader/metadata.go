package runtimereader

import (
	"encoding/binary"
	"fmt"
)

// MetadataImage is a parsed ECMA-335 metadata root: stream locations plus
// the decoded #~ table stream, ready for targeted row lookups.
type MetadataImage struct {
	data        []byte
	strings     []byte
	blob        []byte
	guid        []byte
	tableData   []byte
	rowCounts   map[int]uint32
	strIdxSize  int
	guidIdxSize int
	blobIdxSize int
	rowOffsets  map[int]int // byte offset of each present table's first row within tableData
	rowSizes    map[int]int
}

const metadataSignature = 0x424A5342

// ParseMetadataImage parses the ECMA-335 metadata root found at the start
// of data (the bytes of a module's metadata directory, already capped by
// the caller at the 50 MiB limit).
func ParseMetadataImage(data []byte) (*MetadataImage, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("runtimereader: metadata root too short")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != metadataSignature {
		return nil, fmt.Errorf("runtimereader: bad metadata signature")
	}
	versionLength := binary.LittleEndian.Uint32(data[12:16])
	offset := 16 + int(versionLength)
	if offset+4 > len(data) {
		return nil, fmt.Errorf("runtimereader: truncated metadata root")
	}
	offset += 2 // flags
	numStreams := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
	offset += 2

	mi := &MetadataImage{data: data, rowCounts: map[int]uint32{}}
	var tablesOffset, tablesSize uint32

	for i := 0; i < numStreams; i++ {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("runtimereader: truncated stream header")
		}
		streamOffset := binary.LittleEndian.Uint32(data[offset : offset+4])
		streamSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8
		nameStart := offset
		nameEnd := nameStart
		for nameEnd < len(data) && data[nameEnd] != 0 {
			nameEnd++
		}
		name := string(data[nameStart:nameEnd])
		offset = alignUp4(nameEnd + 1)

		if int(streamOffset)+int(streamSize) > len(data) {
			continue
		}
		streamBytes := data[streamOffset : streamOffset+streamSize]
		switch name {
		case "#Strings":
			mi.strings = streamBytes
		case "#Blob":
			mi.blob = streamBytes
		case "#GUID":
			mi.guid = streamBytes
		case "#~", "#-":
			tablesOffset, tablesSize = streamOffset, streamSize
		}
	}

	if tablesSize == 0 {
		return nil, fmt.Errorf("runtimereader: no #~ stream present")
	}
	mi.tableData = data[tablesOffset : tablesOffset+tablesSize]
	if err := mi.parseTablesHeader(); err != nil {
		return nil, err
	}
	return mi, nil
}

func alignUp4(n int) int {
	return (n + 3) &^ 3
}

func (mi *MetadataImage) parseTablesHeader() error {
	d := mi.tableData
	if len(d) < 24 {
		return fmt.Errorf("runtimereader: #~ stream too short")
	}
	heapSizes := d[6]
	mi.strIdxSize = 2
	if heapSizes&0x01 != 0 {
		mi.strIdxSize = 4
	}
	mi.guidIdxSize = 2
	if heapSizes&0x02 != 0 {
		mi.guidIdxSize = 4
	}
	mi.blobIdxSize = 2
	if heapSizes&0x04 != 0 {
		mi.blobIdxSize = 4
	}

	valid := binary.LittleEndian.Uint64(d[8:16])
	offset := 24

	present := make([]int, 0, 32)
	for table := 0; table < 64; table++ {
		if valid&(1<<uint(table)) == 0 {
			continue
		}
		if offset+4 > len(d) {
			return fmt.Errorf("runtimereader: truncated row-count list")
		}
		count := binary.LittleEndian.Uint32(d[offset : offset+4])
		offset += 4
		mi.rowCounts[table] = count
		present = append(present, table)
	}

	mi.rowSizes = make(map[int]int, len(present))
	for _, table := range present {
		mi.rowSizes[table] = mi.computeRowSize(table)
	}

	mi.rowOffsets = make(map[int]int, len(present))
	for _, table := range present {
		if offset > len(d) {
			return fmt.Errorf("runtimereader: table stream overrun")
		}
		mi.rowOffsets[table] = offset
		offset += mi.rowSizes[table] * int(mi.rowCounts[table])
	}
	return nil
}

func (mi *MetadataImage) computeRowSize(table int) int {
	cols, ok := tableSchema[table]
	if !ok {
		return 0
	}
	size := 0
	for _, col := range cols {
		size += mi.columnSize(col)
	}
	return size
}

func (mi *MetadataImage) columnSize(col column) int {
	switch col.kind {
	case colFixed2:
		return 2
	case colFixed4:
		return 4
	case colString:
		return mi.strIdxSize
	case colGUID:
		return mi.guidIdxSize
	case colBlob:
		return mi.blobIdxSize
	case colSimple:
		if mi.rowCounts[col.table] < 0x10000 {
			return 2
		}
		return 4
	case colCoded:
		tables := codedIndexTables[col.coded]
		tagBits := codedIndexTagBits(col.coded)
		maxRows := uint32(0)
		for _, t := range tables {
			if mi.rowCounts[t] > maxRows {
				maxRows = mi.rowCounts[t]
			}
		}
		if maxRows < (uint32(1) << (16 - tagBits)) {
			return 2
		}
		return 4
	}
	return 0
}

// Row returns the raw bytes of the 1-indexed row rid in table, or nil if
// out of range.
func (mi *MetadataImage) Row(table int, rid uint32) []byte {
	if rid == 0 || rid > mi.rowCounts[table] {
		return nil
	}
	size := mi.rowSizes[table]
	base, ok := mi.rowOffsets[table]
	if !ok || size == 0 {
		return nil
	}
	start := base + int(rid-1)*size
	end := start + size
	if end > len(mi.tableData) {
		return nil
	}
	return mi.tableData[start:end]
}

// RowCount returns the number of rows present in table.
func (mi *MetadataImage) RowCount(table int) uint32 { return mi.rowCounts[table] }

func (mi *MetadataImage) readCol(row []byte, cols []column, idx int) (uint32, int) {
	offset := 0
	for i := 0; i < idx; i++ {
		offset += mi.columnSize(cols[i])
	}
	size := mi.columnSize(cols[idx])
	if offset+size > len(row) {
		return 0, 0
	}
	var v uint32
	if size == 2 {
		v = uint32(binary.LittleEndian.Uint16(row[offset : offset+2]))
	} else {
		v = binary.LittleEndian.Uint32(row[offset : offset+4])
	}
	return v, offset
}

// String resolves an index into the #Strings heap.
func (mi *MetadataImage) String(index uint32) string {
	if mi.strings == nil || int(index) >= len(mi.strings) {
		return ""
	}
	end := int(index)
	for end < len(mi.strings) && mi.strings[end] != 0 {
		end++
	}
	return string(mi.strings[index:end])
}

// Blob resolves an index into the #Blob heap, returning the length-prefixed
// payload bytes (header stripped).
func (mi *MetadataImage) Blob(index uint32) []byte {
	if mi.blob == nil || int(index) >= len(mi.blob) {
		return nil
	}
	length, headerLen, isNull, err := ReadCompressedLength(mi.blob[index:])
	if err != nil || isNull {
		return nil
	}
	start := int(index) + headerLen
	end := start + length
	if end > len(mi.blob) {
		return nil
	}
	return mi.blob[start:end]
}

// decodeCoded splits a coded-index column value into (table, rid).
func decodeCoded(value uint32, kind codedIndexKind) (table int, rid uint32) {
	tagBits := codedIndexTagBits(kind)
	mask := uint32(1)<<tagBits - 1
	tag := value & mask
	rid = value >> tagBits
	tables := codedIndexTables[kind]
	if int(tag) >= len(tables) {
		return 0, 0
	}
	return tables[tag], rid
}

// ModuleName returns the single Module table row's Name string, if present.
func (mi *MetadataImage) ModuleName() string {
	row := mi.Row(tableModule, 1)
	if row == nil {
		return ""
	}
	cols := tableSchema[tableModule]
	v, _ := mi.readCol(row, cols, 1)
	return mi.String(v)
}

// AssemblyVersion returns "major.minor.build.revision" from the single
// Assembly table row, if present.
func (mi *MetadataImage) AssemblyVersion() string {
	row := mi.Row(tableAssembly, 1)
	if row == nil {
		return ""
	}
	cols := tableSchema[tableAssembly]
	major, _ := mi.readCol(row, cols, 1)
	minor, _ := mi.readCol(row, cols, 2)
	build, _ := mi.readCol(row, cols, 3)
	revision, _ := mi.readCol(row, cols, 4)
	return fmt.Sprintf("%d.%d.%d.%d", major, minor, build, revision)
}

// typeRefFullName builds "Namespace.Name" for a TypeRef row.
func (mi *MetadataImage) typeRefFullName(rid uint32) string {
	row := mi.Row(tableTypeRef, rid)
	if row == nil {
		return ""
	}
	cols := tableSchema[tableTypeRef]
	nameIdx, _ := mi.readCol(row, cols, 1)
	nsIdx, _ := mi.readCol(row, cols, 2)
	ns := mi.String(nsIdx)
	name := mi.String(nameIdx)
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// memberRefOwnerTypeName resolves a MemberRef row's Class coded index to a
// type's fully-qualified name, supporting the common TypeRef case used by
// assembly-level attribute constructors referencing BCL types.
func (mi *MetadataImage) memberRefOwnerTypeName(rid uint32) string {
	row := mi.Row(tableMemberRef, rid)
	if row == nil {
		return ""
	}
	cols := tableSchema[tableMemberRef]
	classVal, _ := mi.readCol(row, cols, 0)
	table, classRid := decodeCoded(classVal, codedMemberRefParent)
	if table == tableTypeRef {
		return mi.typeRefFullName(classRid)
	}
	return ""
}

// AssemblyCustomAttributes walks the CustomAttribute table and decodes every
// row whose Parent resolves to the single Assembly row (rid 1). Each
// attribute's type name is resolved via its
// constructor's owning type (MemberRef -> TypeRef, the common case for
// externally-defined attribute types); MethodDef-owned (assembly-local)
// attribute constructors are skipped, as resolving them would require a
// full TypeDef method-range scan this reader does not perform.
func (mi *MetadataImage) AssemblyCustomAttributes() []AttributeBlob {
	var out []AttributeBlob
	cols := tableSchema[tableCustomAttribute]
	count := mi.RowCount(tableCustomAttribute)
	for rid := uint32(1); rid <= count; rid++ {
		row := mi.Row(tableCustomAttribute, rid)
		if row == nil {
			continue
		}
		parentVal, _ := mi.readCol(row, cols, 0)
		parentTable, parentRid := decodeCoded(parentVal, codedHasCustomAttribute)
		if parentTable != tableAssembly || parentRid != 1 {
			continue
		}

		typeVal, _ := mi.readCol(row, cols, 1)
		ctorTable, ctorRid := decodeCoded(typeVal, codedCustomAttributeType)
		var typeName string
		if ctorTable == tableMemberRef {
			typeName = mi.memberRefOwnerTypeName(ctorRid)
		}
		if typeName == "" {
			continue
		}

		blobVal, _ := mi.readCol(row, cols, 2)
		blob := mi.Blob(blobVal)
		if blob == nil {
			continue
		}
		out = append(out, AttributeBlob{TypeName: typeName, Blob: blob})
	}
	return out
}

// AttributeBlob pairs a resolved attribute type name with its raw value
// blob, ready for DecodeAssemblyAttribute.
type AttributeBlob struct {
	TypeName string
	Blob     []byte
}
