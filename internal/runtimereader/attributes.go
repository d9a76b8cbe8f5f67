package runtimereader

import (
	"strconv"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// DebuggableAttribute flag bits (System.Diagnostics.DebuggableAttribute).
const (
	debuggableDefault                         int32 = 1
	debuggableIgnoreSymbolStoreSequencePoints int32 = 2
	debuggableEnableEditAndContinue           int32 = 4
	debuggableDisableOptimizations            int32 = 256
)

// compilationRelaxationsNoStringInterning is the CompilationRelaxations
// flag value that maps to "NoStringInterning".
const compilationRelaxationsNoStringInterning int32 = 8

// DecodeAssemblyAttribute routes a raw custom-attribute blob, given its
// constructor's attribute type name, to the mandatory handler for that
// type, falling back to generic string decoding for anything unrecognized.
// It never returns an error: malformed or unsupported attributes simply
// decode to fewer (or zero) AssemblyAttribute entries.
func DecodeAssemblyAttribute(typeName string, blob []byte) []model.AssemblyAttribute {
	switch typeName {
	case "System.Reflection.AssemblyMetadataAttribute":
		return decodeAssemblyMetadata(blob)
	case "System.Diagnostics.DebuggableAttribute":
		return decodeDebuggable(blob)
	case "System.Runtime.CompilerServices.RuntimeCompatibilityAttribute":
		return decodeRuntimeCompatibility(typeName, blob)
	case "System.Runtime.CompilerServices.CompilationRelaxationsAttribute":
		return decodeCompilationRelaxations(blob)
	case "System.Runtime.Versioning.TargetFrameworkAttribute":
		return decodeTargetFramework(blob)
	case "System.CLSCompliantAttribute", "System.Runtime.InteropServices.ComVisibleAttribute",
		"System.Reflection.AssemblyDelaySignAttribute":
		return decodeBoolAttribute(typeName, blob)
	case "System.Reflection.AssemblyKeyFileAttribute",
		"System.Reflection.AssemblyKeyNameAttribute",
		"System.Reflection.AssemblyProductAttribute",
		"System.Reflection.AssemblyCompanyAttribute",
		"System.Reflection.AssemblyCopyrightAttribute",
		"System.Reflection.AssemblyCultureAttribute",
		"System.Reflection.AssemblyConfigurationAttribute":
		return decodeStringAttribute(typeName, blob)
	default:
		return decodeGenericAttribute(typeName, blob)
	}
}

func decodeAssemblyMetadata(blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeString, ElementTypeString})
	if err != nil || len(dec.Positional) < 2 {
		return nil
	}
	return []model.AssemblyAttribute{{
		Type:  "System.Reflection.AssemblyMetadataAttribute",
		Key:   SanitizeDecodedValue(dec.Positional[0].StrValue),
		Value: SanitizeDecodedValue(dec.Positional[1].StrValue),
	}}
}

func decodeDebuggable(blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeI4})
	if err != nil || len(dec.Positional) < 1 {
		return nil
	}
	flags := dec.Positional[0].I4Value
	var names []string
	if flags&debuggableDisableOptimizations != 0 {
		names = append(names, "DisableOptimizations")
	}
	if flags&debuggableIgnoreSymbolStoreSequencePoints != 0 {
		names = append(names, "IgnoreSymbolStoreSequencePoints")
	}
	if flags&debuggableEnableEditAndContinue != 0 {
		names = append(names, "EnableEditAndContinue")
	}
	if len(names) == 0 {
		names = append(names, "Default")
	}
	attrs := make([]model.AssemblyAttribute, 0, len(names))
	for _, n := range names {
		attrs = append(attrs, model.AssemblyAttribute{
			Type:  "System.Diagnostics.DebuggableAttribute",
			Value: n,
		})
	}
	return attrs
}

func decodeRuntimeCompatibility(typeName string, blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, nil)
	if err != nil {
		return nil
	}
	attrs := make([]model.AssemblyAttribute, 0, len(dec.Named))
	for _, arg := range dec.Named {
		attrs = append(attrs, model.AssemblyAttribute{
			Type:  typeName,
			Key:   arg.Name,
			Value: namedArgDisplayValue(arg),
		})
	}
	return attrs
}

func decodeCompilationRelaxations(blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeI4})
	if err != nil || len(dec.Positional) < 1 {
		return nil
	}
	value := strconv.Itoa(int(dec.Positional[0].I4Value))
	if dec.Positional[0].I4Value == compilationRelaxationsNoStringInterning {
		value = "NoStringInterning"
	}
	return []model.AssemblyAttribute{{
		Type:  "System.Runtime.CompilerServices.CompilationRelaxationsAttribute",
		Value: value,
	}}
}

func decodeTargetFramework(blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeString})
	if err != nil || len(dec.Positional) < 1 {
		return nil
	}
	attrs := []model.AssemblyAttribute{{
		Type:  "System.Runtime.Versioning.TargetFrameworkAttribute",
		Value: SanitizeDecodedValue(dec.Positional[0].StrValue),
	}}
	for _, arg := range dec.Named {
		if arg.Name == "FrameworkDisplayName" {
			attrs = append(attrs, model.AssemblyAttribute{
				Type:  "System.Runtime.Versioning.TargetFrameworkAttribute",
				Key:   "FrameworkDisplayName",
				Value: SanitizeDecodedValue(arg.StrValue),
			})
		}
	}
	return attrs
}

func decodeBoolAttribute(typeName string, blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeBoolean})
	if err != nil || len(dec.Positional) < 1 {
		return nil
	}
	return []model.AssemblyAttribute{{
		Type:  typeName,
		Value: strconv.FormatBool(dec.Positional[0].BoolValue),
	}}
}

func decodeStringAttribute(typeName string, blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeString})
	if err != nil || len(dec.Positional) < 1 {
		return nil
	}
	return []model.AssemblyAttribute{{
		Type:  typeName,
		Value: SanitizeDecodedValue(dec.Positional[0].StrValue),
	}}
}

// decodeGenericAttribute attempts a best-effort string decode for an
// unrecognized attribute type: it treats the blob as a single positional
// string argument, discarding the result on any failure.
func decodeGenericAttribute(typeName string, blob []byte) []model.AssemblyAttribute {
	dec, err := DecodeCustomAttributeBlob(blob, []CorElementType{ElementTypeString})
	if err != nil || len(dec.Positional) < 1 {
		return nil
	}
	return []model.AssemblyAttribute{{
		Type:  typeName,
		Value: SanitizeDecodedValue(dec.Positional[0].StrValue),
	}}
}

func namedArgDisplayValue(arg CustomAttributeArg) string {
	switch arg.ElemType {
	case ElementTypeBoolean:
		return strconv.FormatBool(arg.BoolValue)
	case ElementTypeI4:
		return strconv.Itoa(int(arg.I4Value))
	case ElementTypeString:
		return SanitizeDecodedValue(arg.StrValue)
	default:
		return ""
	}
}
