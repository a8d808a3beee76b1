// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import "strings"

// TypeExprKind is the syntactic shape of a type expression.
type TypeExprKind int

const (
	TypePath TypeExprKind = iota
	TypeReference
	TypeSlice
	TypeArray
	TypeTuple
	TypeFn
	TypeNever
	TypeInfer
	TypePointer
	TypeTraitObject
	TypeImplTrait
	TypeParen
	TypeMacro
	TypeUnknown
)

// TypeExpr is a lowered type expression.
//
// Only the fields relevant to Kind are set:
//
//	TypePath        Segments, Global, QSelf, QTrait
//	TypeReference   Elem, Lifetime, IsMutable
//	TypeSlice       Elem
//	TypeArray       Elem, Len
//	TypeTuple       Elems (empty for the unit type)
//	TypeFn          Inputs, Output, IsUnsafe, IsExtern, ABI
//	TypePointer     Elem, IsMutable
//	TypeTraitObject Bounds, Lifetimes, HasDyn
//	TypeImplTrait   Bounds, Lifetimes
//	TypeParen       Elem
//	TypeMacro       MacroPath, MacroTokens
//	TypeUnknown     Raw
type TypeExpr struct {
	Kind TypeExprKind

	Segments []PathSegment
	Global   bool
	QSelf    *TypeExpr
	QTrait   *TypeExpr

	Elem      *TypeExpr
	Elems     []*TypeExpr
	Lifetime  string
	IsMutable bool
	Len       string

	Inputs   []*TypeExpr
	Output   *TypeExpr
	IsUnsafe bool
	IsExtern bool
	ABI      string

	Bounds    []*TypeExpr
	Lifetimes []string
	HasDyn    bool

	// Maybe marks a `?Sized` style relaxed bound.
	Maybe bool

	MacroPath   string
	MacroTokens string

	// Raw is the source text of the expression.
	Raw string
}

// PathSegment is one `::` separated component of a path type.
type PathSegment struct {
	Name string
	Args []GenericArg

	// IsFnSugar marks Fn(A, B) -> C style arguments, held in Inputs/Output.
	IsFnSugar bool
	Inputs    []*TypeExpr
	Output    *TypeExpr
}

// GenericArg is one angle-bracketed argument. Exactly one of the fields is
// set, except Binding which pairs with Type.
type GenericArg struct {
	Type     *TypeExpr
	Lifetime string
	Const    string
	Binding  string
}

// PathType builds a plain path type from segment names.
func PathType(segments ...string) *TypeExpr {
	t := &TypeExpr{Kind: TypePath}
	for _, s := range segments {
		t.Segments = append(t.Segments, PathSegment{Name: s})
	}
	t.Raw = strings.Join(segments, "::")
	return t
}

// PathNames returns the segment names of a path type.
func (t *TypeExpr) PathNames() []string {
	if t == nil || t.Kind != TypePath {
		return nil
	}
	names := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		names[i] = s.Name
	}
	return names
}

// LastName returns the last segment name of a path type, or "".
func (t *TypeExpr) LastName() string {
	if t == nil || t.Kind != TypePath || len(t.Segments) == 0 {
		return ""
	}
	return t.Segments[len(t.Segments)-1].Name
}

// String renders the canonical text of the expression. Two expressions
// that differ only in whitespace render identically.
func (t *TypeExpr) String() string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *TypeExpr) write(b *strings.Builder) {
	switch t.Kind {
	case TypePath:
		if t.Maybe {
			b.WriteByte('?')
		}
		if t.QSelf != nil {
			b.WriteByte('<')
			t.QSelf.write(b)
			if t.QTrait != nil {
				b.WriteString(" as ")
				t.QTrait.write(b)
			}
			b.WriteString(">")
			if len(t.Segments) > 0 {
				b.WriteString("::")
			}
		} else if t.Global {
			b.WriteString("::")
		}
		for i, seg := range t.Segments {
			if i > 0 {
				b.WriteString("::")
			}
			seg.write(b)
		}
	case TypeReference:
		b.WriteByte('&')
		if t.Lifetime != "" {
			b.WriteString(t.Lifetime)
			b.WriteByte(' ')
		}
		if t.IsMutable {
			b.WriteString("mut ")
		}
		writeElem(b, t.Elem)
	case TypeSlice:
		b.WriteByte('[')
		writeElem(b, t.Elem)
		b.WriteByte(']')
	case TypeArray:
		b.WriteByte('[')
		writeElem(b, t.Elem)
		b.WriteString("; ")
		b.WriteString(NormalizeSpace(t.Len))
		b.WriteByte(']')
	case TypeTuple:
		b.WriteByte('(')
		writeList(b, t.Elems)
		if len(t.Elems) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case TypeFn:
		if t.IsUnsafe {
			b.WriteString("unsafe ")
		}
		if t.IsExtern {
			b.WriteString("extern ")
			if t.ABI != "" {
				b.WriteString(t.ABI)
				b.WriteByte(' ')
			}
		}
		b.WriteString("fn(")
		writeList(b, t.Inputs)
		b.WriteByte(')')
		if t.Output != nil {
			b.WriteString(" -> ")
			t.Output.write(b)
		}
	case TypeNever:
		b.WriteByte('!')
	case TypeInfer:
		b.WriteByte('_')
	case TypePointer:
		if t.IsMutable {
			b.WriteString("*mut ")
		} else {
			b.WriteString("*const ")
		}
		writeElem(b, t.Elem)
	case TypeTraitObject:
		if t.HasDyn {
			b.WriteString("dyn ")
		}
		writeBounds(b, t.Bounds, t.Lifetimes)
	case TypeImplTrait:
		b.WriteString("impl ")
		writeBounds(b, t.Bounds, t.Lifetimes)
	case TypeParen:
		b.WriteByte('(')
		writeElem(b, t.Elem)
		b.WriteByte(')')
	case TypeMacro:
		b.WriteString(t.MacroPath)
		b.WriteByte('!')
		b.WriteString(NormalizeSpace(t.MacroTokens))
	default:
		b.WriteString(NormalizeSpace(t.Raw))
	}
}

func (s PathSegment) write(b *strings.Builder) {
	b.WriteString(s.Name)
	if s.IsFnSugar {
		b.WriteByte('(')
		writeList(b, s.Inputs)
		b.WriteByte(')')
		if s.Output != nil {
			b.WriteString(" -> ")
			s.Output.write(b)
		}
		return
	}
	if len(s.Args) == 0 {
		return
	}
	b.WriteByte('<')
	for i, a := range s.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		switch {
		case a.Lifetime != "":
			b.WriteString(a.Lifetime)
		case a.Binding != "":
			b.WriteString(a.Binding)
			b.WriteString(" = ")
			writeElem(b, a.Type)
		case a.Type != nil:
			a.Type.write(b)
		default:
			b.WriteString(NormalizeSpace(a.Const))
		}
	}
	b.WriteByte('>')
}

func writeElem(b *strings.Builder, t *TypeExpr) {
	if t == nil {
		b.WriteByte('_')
		return
	}
	t.write(b)
}

func writeList(b *strings.Builder, ts []*TypeExpr) {
	for i, t := range ts {
		if i > 0 {
			b.WriteString(", ")
		}
		writeElem(b, t)
	}
}

func writeBounds(b *strings.Builder, bounds []*TypeExpr, lifetimes []string) {
	n := 0
	for _, bound := range bounds {
		if n > 0 {
			b.WriteString(" + ")
		}
		bound.write(b)
		n++
	}
	for _, lt := range lifetimes {
		if n > 0 {
			b.WriteString(" + ")
		}
		b.WriteString(lt)
		n++
	}
}

// NormalizeSpace collapses every whitespace run to one space and trims the
// ends.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
