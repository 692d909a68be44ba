package compiler

import (
	"fmt"
	"strings"
)

// TypeKind tags a TypeFrame.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeInt
	TypeBool
	TypePtr
	TypePtrTo
	TypeGeneric
)

// TypeFrame is the checker's type of one stack slot.
type TypeFrame struct {
	Kind  TypeKind
	Elem  *TypeFrame // pointee of TypePtrTo
	Label string     // name of TypeGeneric
	Loc   Location   // where the value was produced
}

func UnknownType(loc Location) TypeFrame { return TypeFrame{Kind: TypeUnknown, Loc: loc} }
func IntType(loc Location) TypeFrame     { return TypeFrame{Kind: TypeInt, Loc: loc} }
func BoolType(loc Location) TypeFrame    { return TypeFrame{Kind: TypeBool, Loc: loc} }
func PtrType(loc Location) TypeFrame     { return TypeFrame{Kind: TypePtr, Loc: loc} }

func PtrToType(elem TypeFrame, loc Location) TypeFrame {
	return TypeFrame{Kind: TypePtrTo, Elem: &elem, Loc: loc}
}

func GenericType(label string, loc Location) TypeFrame {
	return TypeFrame{Kind: TypeGeneric, Label: label, Loc: loc}
}

// at returns a copy of t produced at loc.
func (t TypeFrame) at(loc Location) TypeFrame {
	t.Loc = loc
	return t
}

func (t TypeFrame) String() string {
	switch t.Kind {
	case TypeUnknown:
		return "unknown"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypePtr:
		return "ptr"
	case TypePtrTo:
		return "ptr-to " + t.Elem.String()
	case TypeGeneric:
		return t.Label
	}
	return fmt.Sprintf("TypeFrame(%d)", int(t.Kind))
}

// IsConcrete reports whether t contains no unknown or generic parts.
func (t TypeFrame) IsConcrete() bool {
	switch t.Kind {
	case TypeUnknown, TypeGeneric:
		return false
	case TypePtrTo:
		return t.Elem.IsConcrete()
	}
	return true
}

// isPointer reports whether t is an untyped or typed pointer.
func (t TypeFrame) isPointer() bool {
	return t.Kind == TypePtr || t.Kind == TypePtrTo
}

// sameType is structural equality with Unknown as a wildcard. Generics
// compare by label.
func sameType(a, b TypeFrame) bool {
	if a.Kind == TypeUnknown || b.Kind == TypeUnknown {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TypePtrTo:
		return sameType(*a.Elem, *b.Elem)
	case TypeGeneric:
		return a.Label == b.Label
	}
	return true
}

// sameStack compares two stacks slot by slot.
func sameStack(a, b []TypeFrame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameType(a[i], b[i]) {
			return false
		}
	}
	return true
}

func formatTypes(types []TypeFrame) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

func (s *Signature) String() string {
	if s == nil {
		return "<none>"
	}
	ins, outs := formatTypes(s.Ins), formatTypes(s.Outs)
	switch {
	case ins == "" && outs == "":
		return "--"
	case outs == "":
		return ":: " + ins
	case ins == "":
		return "-> " + outs
	}
	return ":: " + ins + " -> " + outs
}

// isConcrete reports whether every slot of the signature is concrete.
func (s *Signature) isConcrete() bool {
	for _, t := range s.Ins {
		if !t.IsConcrete() {
			return false
		}
	}
	for _, t := range s.Outs {
		if !t.IsConcrete() {
			return false
		}
	}
	return true
}
