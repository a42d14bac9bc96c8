package wire

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// InvokableAlias is the compound 4-tuple that globally identifies the
// generated type carrying one RPC method's argument payload:
// ("inv", "GrainReference", interfaceTypeName, methodHash8).
type InvokableAlias struct {
	InterfaceTypeName string
	MethodHash8       string
}

// String renders the canonical compound alias form used as the map key
// in the RPC session manifest (interfaceTypeId, methodSelector) ->
// invokableAlias.
func (a InvokableAlias) String() string {
	return fmt.Sprintf("inv:GrainReference:%s:%s", a.InterfaceTypeName, a.MethodHash8)
}

// MethodHash8 computes the lowercase-hex first 32 bits of a stable
// 64-bit FNV-1a hash over methodName and the canonical fully-qualified
// parameter type names, joined by NUL bytes. Both peers must compute
// this identically given the same method signature; the canonical
// parameter type name strings (e.g. "System.Int32", "System.String")
// must match bit-for-bit.
func MethodHash8(methodName string, paramTypeNames ...string) string {
	h := fnv.New64a()
	h.Write([]byte(methodName))
	for _, p := range paramTypeNames {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	sum := h.Sum64()
	top32 := uint32(sum >> 32)
	return fmt.Sprintf("%08x", top32)
}

// NewInvokableAlias builds the compound alias for a method signature.
func NewInvokableAlias(interfaceTypeName, methodName string, paramTypeNames ...string) InvokableAlias {
	return InvokableAlias{
		InterfaceTypeName: interfaceTypeName,
		MethodHash8:       MethodHash8(methodName, paramTypeNames...),
	}
}

// MethodSelector identifies a method structurally: by name and ordered
// parameter type names, not by any generator-assigned identity. Two
// selectors from independently generated proxies are equal iff their
// canonical string forms match.
type MethodSelector struct {
	Name       string
	ParamTypes []string
}

// Canonical renders the structural selector as a stable string, usable
// as a map key, matching regardless of which code generator produced
// the calling or serving side.
func (s MethodSelector) Canonical() string {
	return s.Name + "(" + strings.Join(s.ParamTypes, ",") + ")"
}
