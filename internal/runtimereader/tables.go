package runtimereader

// Metadata table indices (ECMA-335 II.22), the subset this reader needs to
// either fully decode or skip over when walking the #~ stream.
const (
	tableModule                 = 0x00
	tableTypeRef                = 0x01
	tableTypeDef                = 0x02
	tableField                  = 0x04
	tableMethodDef              = 0x06
	tableParam                  = 0x08
	tableInterfaceImpl          = 0x09
	tableMemberRef              = 0x0A
	tableConstant               = 0x0B
	tableCustomAttribute        = 0x0C
	tableFieldMarshal           = 0x0D
	tableDeclSecurity           = 0x0E
	tableClassLayout            = 0x0F
	tableFieldLayout            = 0x10
	tableStandAloneSig          = 0x11
	tableEventMap               = 0x12
	tableEvent                  = 0x14
	tablePropertyMap            = 0x15
	tableProperty               = 0x17
	tableMethodSemantics        = 0x18
	tableMethodImpl             = 0x19
	tableModuleRef              = 0x1A
	tableTypeSpec               = 0x1B
	tableImplMap                = 0x1C
	tableFieldRVA               = 0x1D
	tableAssembly               = 0x20
	tableAssemblyProcessor      = 0x21
	tableAssemblyOS             = 0x22
	tableAssemblyRef            = 0x23
	tableAssemblyRefProcessor   = 0x24
	tableAssemblyRefOS          = 0x25
	tableFile                   = 0x26
	tableExportedType           = 0x27
	tableManifestResource       = 0x28
	tableNestedClass            = 0x29
	tableGenericParam           = 0x2A
	tableMethodSpec             = 0x2B
	tableGenericParamConstraint = 0x2C
)

// columnKind describes one column in a table row.
type columnKind int

const (
	colFixed2 columnKind = iota
	colFixed4
	colString
	colGUID
	colBlob
	colSimple // a simple index into a single other table
	colCoded  // a coded index across multiple tables
)

type column struct {
	kind  columnKind
	table int // for colSimple: the referenced table
	coded codedIndexKind
}

type codedIndexKind int

const (
	codedTypeDefOrRef codedIndexKind = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
)

// codedIndexTables lists, in tag order, the tables each coded index kind
// may point into. The tag bit width is log2(len(tables)) rounded up.
var codedIndexTables = map[codedIndexKind][]int{
	codedTypeDefOrRef:        {tableTypeDef, tableTypeRef, tableTypeSpec},
	codedHasConstant:         {tableField, tableParam, tableProperty},
	codedHasCustomAttribute: {
		tableMethodDef, tableField, tableTypeRef, tableTypeDef, tableParam,
		tableInterfaceImpl, tableMemberRef, tableModule, tableDeclSecurity,
		tableProperty, tableEvent, tableStandAloneSig, tableModuleRef,
		tableTypeSpec, tableAssembly, tableAssemblyRef, tableFile,
		tableExportedType, tableManifestResource, tableGenericParam,
		tableGenericParamConstraint, tableMethodSpec,
	},
	codedHasFieldMarshal:     {tableField, tableParam},
	codedHasDeclSecurity:     {tableTypeDef, tableMethodDef, tableAssembly},
	codedMemberRefParent:     {tableTypeDef, tableTypeRef, tableModuleRef, tableMethodDef, tableTypeSpec},
	codedHasSemantics:        {tableEvent, tableProperty},
	codedMethodDefOrRef:      {tableMethodDef, tableMemberRef},
	codedMemberForwarded:     {tableField, tableMethodDef},
	codedImplementation:      {tableFile, tableAssemblyRef, tableExportedType},
	codedCustomAttributeType: {0, 0, tableMethodDef, tableMemberRef, 0},
	codedResolutionScope:     {tableModule, tableModuleRef, tableAssemblyRef, tableTypeRef},
	codedTypeOrMethodDef:     {tableTypeDef, tableMethodDef},
}

// tableSchema gives the column layout for every table this reader may
// need to skip or decode. Tables not listed here are assumed absent from
// the dialect of metadata this reader targets and are skipped using a
// best-effort zero-column (unsupported) schema — malformed-metadata
// handling takes over at that point.
var tableSchema = map[int][]column{
	tableModule: {
		{kind: colFixed2}, {kind: colString}, {kind: colGUID}, {kind: colGUID}, {kind: colGUID},
	},
	tableTypeRef: {
		{kind: colCoded, coded: codedResolutionScope}, {kind: colString}, {kind: colString},
	},
	tableTypeDef: {
		{kind: colFixed4}, {kind: colString}, {kind: colString},
		{kind: colCoded, coded: codedTypeDefOrRef},
		{kind: colSimple, table: tableField}, {kind: colSimple, table: tableMethodDef},
	},
	tableField: {
		{kind: colFixed2}, {kind: colString}, {kind: colBlob},
	},
	tableMethodDef: {
		{kind: colFixed4}, {kind: colFixed2}, {kind: colFixed2}, {kind: colString}, {kind: colBlob},
		{kind: colSimple, table: tableParam},
	},
	tableParam: {
		{kind: colFixed2}, {kind: colFixed2}, {kind: colString},
	},
	tableInterfaceImpl: {
		{kind: colSimple, table: tableTypeDef}, {kind: colCoded, coded: codedTypeDefOrRef},
	},
	tableMemberRef: {
		{kind: colCoded, coded: codedMemberRefParent}, {kind: colString}, {kind: colBlob},
	},
	tableConstant: {
		{kind: colFixed2}, {kind: colCoded, coded: codedHasConstant}, {kind: colBlob},
	},
	tableCustomAttribute: {
		{kind: colCoded, coded: codedHasCustomAttribute}, {kind: colCoded, coded: codedCustomAttributeType}, {kind: colBlob},
	},
	tableFieldMarshal: {
		{kind: colCoded, coded: codedHasFieldMarshal}, {kind: colBlob},
	},
	tableDeclSecurity: {
		{kind: colFixed2}, {kind: colCoded, coded: codedHasDeclSecurity}, {kind: colBlob},
	},
	tableClassLayout: {
		{kind: colFixed2}, {kind: colFixed4}, {kind: colSimple, table: tableTypeDef},
	},
	tableFieldLayout: {
		{kind: colFixed4}, {kind: colSimple, table: tableField},
	},
	tableStandAloneSig: {
		{kind: colBlob},
	},
	tableEventMap: {
		{kind: colSimple, table: tableTypeDef}, {kind: colSimple, table: tableEvent},
	},
	tableEvent: {
		{kind: colFixed2}, {kind: colString}, {kind: colCoded, coded: codedTypeDefOrRef},
	},
	tablePropertyMap: {
		{kind: colSimple, table: tableTypeDef}, {kind: colSimple, table: tableProperty},
	},
	tableProperty: {
		{kind: colFixed2}, {kind: colString}, {kind: colBlob},
	},
	tableMethodSemantics: {
		{kind: colFixed2}, {kind: colSimple, table: tableMethodDef}, {kind: colCoded, coded: codedHasSemantics},
	},
	tableMethodImpl: {
		{kind: colSimple, table: tableTypeDef}, {kind: colCoded, coded: codedMethodDefOrRef}, {kind: colCoded, coded: codedMethodDefOrRef},
	},
	tableModuleRef: {
		{kind: colString},
	},
	tableTypeSpec: {
		{kind: colBlob},
	},
	tableImplMap: {
		{kind: colFixed2}, {kind: colCoded, coded: codedMemberForwarded}, {kind: colString}, {kind: colSimple, table: tableModuleRef},
	},
	tableFieldRVA: {
		{kind: colFixed4}, {kind: colSimple, table: tableField},
	},
	tableAssembly: {
		{kind: colFixed4}, {kind: colFixed2}, {kind: colFixed2}, {kind: colFixed2}, {kind: colFixed2},
		{kind: colFixed4}, {kind: colBlob}, {kind: colString}, {kind: colString},
	},
	tableAssemblyProcessor: {
		{kind: colFixed4},
	},
	tableAssemblyOS: {
		{kind: colFixed4}, {kind: colFixed4}, {kind: colFixed4},
	},
	tableAssemblyRef: {
		{kind: colFixed2}, {kind: colFixed2}, {kind: colFixed2}, {kind: colFixed2},
		{kind: colFixed4}, {kind: colBlob}, {kind: colString}, {kind: colString}, {kind: colBlob},
	},
	tableAssemblyRefProcessor: {
		{kind: colFixed4}, {kind: colSimple, table: tableAssemblyRef},
	},
	tableAssemblyRefOS: {
		{kind: colFixed4}, {kind: colFixed4}, {kind: colFixed4}, {kind: colSimple, table: tableAssemblyRef},
	},
	tableFile: {
		{kind: colFixed4}, {kind: colString}, {kind: colBlob},
	},
	tableExportedType: {
		{kind: colFixed4}, {kind: colFixed4}, {kind: colString}, {kind: colString}, {kind: colCoded, coded: codedImplementation},
	},
	tableManifestResource: {
		{kind: colFixed4}, {kind: colFixed4}, {kind: colString}, {kind: colCoded, coded: codedImplementation},
	},
	tableNestedClass: {
		{kind: colSimple, table: tableTypeDef}, {kind: colSimple, table: tableTypeDef},
	},
	tableGenericParam: {
		{kind: colFixed2}, {kind: colFixed2}, {kind: colCoded, coded: codedTypeOrMethodDef}, {kind: colString},
	},
	tableMethodSpec: {
		{kind: colCoded, coded: codedMethodDefOrRef}, {kind: colBlob},
	},
	tableGenericParamConstraint: {
		{kind: colSimple, table: tableGenericParam}, {kind: colCoded, coded: codedTypeDefOrRef},
	},
}

// codedIndexTagBits returns the number of tag bits a coded index kind uses.
func codedIndexTagBits(kind codedIndexKind) uint {
	n := len(codedIndexTables[kind])
	bits := uint(0)
	for (1 << bits) < n {
		bits++
	}
	return bits
}
