package bintype

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/twinfer/bintype/pkg/dsl"
	"github.com/twinfer/bintype/pkg/expression"
)

// unsetLength marks an array whose brackets were empty and whose length mode
// must come from a &restofdata or &until attribute.
const unsetLength LengthKind = -1

// Analyze turns a parse tree into compiled classes keyed by name. It reports
// every problem it can find; the result is nil whenever the error is non-nil.
func Analyze(file *dsl.File) (map[string]*ClassDecl, error) {
	a := &analyzer{}
	classes := a.file(file)
	if err := a.err(); err != nil {
		return nil, err
	}
	return classes, nil
}

type analyzer struct {
	errs     []*SemanticError
	userRefs []userRef
}

type userRef struct {
	name string
	pos  expression.Pos
}

// classBuilder accumulates the fields of the class being walked. It is
// passed down explicitly and sealed into a ClassDecl when the class ends.
type classBuilder struct {
	name     string
	pos      expression.Pos
	fields   []*Field
	declared map[string]bool
}

func (b *classBuilder) seal() *ClassDecl {
	return newClassDecl(b.name, b.pos, b.fields)
}

func (a *analyzer) errorf(pos expression.Pos, format string, args ...any) {
	a.errs = append(a.errs, &SemanticError{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (a *analyzer) err() error {
	if len(a.errs) == 0 {
		return nil
	}
	sortErrors(a.errs)
	return &CompileError{Errors: a.errs}
}

func sortErrors(errs []*SemanticError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Pos.Line != errs[j].Pos.Line {
			return errs[i].Pos.Line < errs[j].Pos.Line
		}
		return errs[i].Pos.Column < errs[j].Pos.Column
	})
}

// visit dispatches a node found inside a class.
func (a *analyzer) visit(n dsl.Node, b *classBuilder) {
	switch n := n.(type) {
	case *dsl.BodyNode:
		a.body(n, b)
	case *dsl.FieldNode:
		a.field(n, b)
	default:
		a.errorf(n.Pos(), "malformed grammar node %T", n)
	}
}

func (a *analyzer) file(f *dsl.File) map[string]*ClassDecl {
	classes := make(map[string]*ClassDecl, len(f.Classes))
	for _, cn := range f.Classes {
		if prev, dup := classes[cn.Name]; dup {
			a.errorf(cn.P, "duplicate bintype %s (first declared at %s)", cn.Name, prev.Pos)
			continue
		}
		classes[cn.Name] = a.class(cn)
	}

	for _, ref := range a.userRefs {
		if _, ok := classes[ref.name]; !ok {
			a.errorf(ref.pos, "unknown type %q", ref.name)
		}
	}
	a.checkContainment(classes)
	return classes
}

func (a *analyzer) class(n *dsl.ClassNode) *ClassDecl {
	b := &classBuilder{name: n.Name, pos: n.P, declared: make(map[string]bool)}
	if n.Body != nil {
		a.visit(n.Body, b)
	}
	return b.seal()
}

func (a *analyzer) body(n *dsl.BodyNode, b *classBuilder) {
	for _, f := range n.Fields {
		a.visit(f, b)
	}
}

func (a *analyzer) field(n *dsl.FieldNode, b *classBuilder) {
	if b.declared[n.Name] {
		a.errorf(n.P, "duplicate field %s in bintype %s", n.Name, b.name)
		return
	}
	typ := a.typeExpr(n.Type, b)
	field := &Field{Name: n.Name, Pos: n.P}

	seen := make(map[string]bool)
	for _, attr := range n.Attrs {
		if seen[attr.Name] {
			a.errorf(attr.P, "duplicate attribute &%s on field %s", attr.Name, n.Name)
			continue
		}
		seen[attr.Name] = true
		typ = a.attribute(attr, field, typ, b)
	}

	// later references to a broken field should not cascade
	b.declared[n.Name] = true
	if typ == nil {
		return
	}
	if !a.lengthsResolved(typ, n.Type.Pos(), true) {
		return
	}

	field.Type = typ
	field.Attrs = typ.Attributes()
	if field.Cond != nil {
		field.Attrs = append(field.Attrs, Attribute{Kind: AttrIf, Expr: field.Cond})
	}
	b.fields = append(b.fields, field)
}

// typeExpr resolves a type node. It returns nil after reporting an error.
func (a *analyzer) typeExpr(n dsl.TypeNode, b *classBuilder) TypeDescriptor {
	switch n := n.(type) {
	case *dsl.BasicTypeNode:
		st, ok := scalarTypes[n.Name]
		if !ok {
			a.errorf(n.P, "unknown type %q", n.Name)
			return nil
		}
		if n.Name == "string" {
			return &StringType{Elem: &st, Length: LengthMode{Kind: LengthFixed, Count: 1}}
		}
		return &st

	case *dsl.UserTypeNode:
		a.userRefs = append(a.userRefs, userRef{name: n.Name, pos: n.P})
		return &UserType{Class: n.Name}

	case *dsl.ArrayTypeNode:
		elem := a.typeExpr(n.Elem, b)
		length := LengthMode{Kind: unsetLength}
		if n.Count != nil {
			count := a.expr(n.Count, b, false, "array length")
			if count == nil {
				return nil
			}
			if lit, ok := count.(*expression.IntLit); ok {
				if lit.Value < 0 {
					a.errorf(n.Count.P, "array length %d is negative", lit.Value)
					return nil
				}
				length = LengthMode{Kind: LengthFixed, Count: int(lit.Value)}
			} else {
				length = LengthMode{Kind: LengthExpr, Expr: count}
			}
		}
		if elem == nil {
			return nil
		}
		if bt, ok := elem.(*StringType); ok && isChar(bt) {
			return &StringType{Elem: bt.Elem, Length: length}
		}
		if _, ok := elem.(*PadType); ok {
			a.errorf(n.P, "padding cannot be an array element")
			return nil
		}
		return &ArrayType{Elem: elem, Length: length}

	case *dsl.PadTypeNode:
		if !b.declared[n.Align] {
			a.errorf(n.AlignPos, "padding align references field %q which is not declared before it", n.Align)
			return nil
		}
		mod, err := strconv.ParseInt(n.Modulus, 0, 64)
		if err != nil || mod <= 0 {
			a.errorf(n.ModulusPos, "padding modulus must be a positive integer literal, got %q", n.Modulus)
			return nil
		}
		return &PadType{AlignField: n.Align, Modulus: int(mod)}

	default:
		a.errorf(n.Pos(), "malformed type node %T", n)
		return nil
	}
}

// isChar reports whether a string descriptor is the bare `string` scalar,
// i.e. a single character that an enclosing array turns into text.
func isChar(t *StringType) bool {
	return t.Length.Kind == LengthFixed && t.Length.Count == 1 && t.Encoding == ""
}

// attribute applies one &attr to the field being built and returns the
// possibly updated type.
func (a *analyzer) attribute(n *dsl.AttrNode, field *Field, typ TypeDescriptor, b *classBuilder) TypeDescriptor {
	switch AttrKind(n.Name) {
	case AttrByteOrder:
		var order ByteOrder
		switch n.Arg {
		case "little", "le":
			order = LittleEndian
		case "big", "be":
			order = BigEndian
		default:
			a.errorf(n.P, "&byteorder expects little or big, got %q", n.Arg)
			return typ
		}
		if typ != nil && !setOrder(typ, order) {
			a.errorf(n.P, "&byteorder does not apply to %s", typ)
		}
		return typ

	case AttrRest, "rest":
		if n.Arg != "" || n.Expr != nil {
			a.errorf(n.P, "&%s takes no argument", n.Name)
		}
		return a.setLength(n, typ, LengthMode{Kind: LengthRest})

	case AttrUntil:
		if n.Expr == nil {
			a.errorf(n.P, "&until needs a parenthesised predicate")
			return typ
		}
		pred := a.expr(n.Expr, b, true, "&until predicate")
		if pred == nil {
			return typ
		}
		return a.setLength(n, typ, LengthMode{Kind: LengthUntil, Expr: pred})

	case AttrIf:
		if n.Expr == nil {
			a.errorf(n.P, "&if needs a parenthesised condition")
			return typ
		}
		field.Cond = a.expr(n.Expr, b, false, "&if condition")
		return typ

	case AttrEncoding:
		st, ok := typ.(*StringType)
		if typ != nil && !ok {
			a.errorf(n.P, "&encoding applies to string fields only")
			return typ
		}
		if _, err := lookupEncoding(n.Arg); err != nil {
			a.errorf(n.P, "&encoding: %v", err)
			return typ
		}
		if st != nil {
			st.Encoding = n.Arg
		}
		return typ

	default:
		a.errorf(n.P, "unknown attribute &%s", n.Name)
		return typ
	}
}

// setLength fills in the length mode of an array declared with empty brackets.
func (a *analyzer) setLength(n *dsl.AttrNode, typ TypeDescriptor, mode LengthMode) TypeDescriptor {
	switch t := typ.(type) {
	case nil:
		return nil
	case *ArrayType:
		if t.Length.Kind != unsetLength {
			a.errorf(n.P, "&%s requires an array declared with empty brackets", n.Name)
			return typ
		}
		t.Length = mode
	case *StringType:
		if t.Length.Kind != unsetLength {
			a.errorf(n.P, "&%s requires an array declared with empty brackets", n.Name)
			return typ
		}
		t.Length = mode
	default:
		a.errorf(n.P, "&%s applies to arrays only", n.Name)
	}
	return typ
}

// lengthsResolved reports every array left without a length mode.
func (a *analyzer) lengthsResolved(typ TypeDescriptor, pos expression.Pos, outer bool) bool {
	var length LengthMode
	var elem TypeDescriptor
	switch t := typ.(type) {
	case *ArrayType:
		length, elem = t.Length, t.Elem
	case *StringType:
		length = t.Length
	default:
		return true
	}
	if length.Kind == unsetLength {
		if outer {
			a.errorf(pos, "array without a length needs &restofdata or &until")
		} else {
			a.errorf(pos, "only the outermost array may omit its length")
		}
		return false
	}
	if elem == nil {
		return true
	}
	return a.lengthsResolved(elem, pos, false)
}

func setOrder(typ TypeDescriptor, order ByteOrder) bool {
	switch t := typ.(type) {
	case *BasicType:
		t.Order = order
		return true
	case *UserType:
		t.Order = order
		return true
	case *ArrayType:
		return setOrder(t.Elem, order)
	case *StringType:
		return true
	}
	return false
}

// expr compiles an embedded expression and checks that it only reads fields
// declared earlier in the same class.
func (a *analyzer) expr(n *dsl.ExprNode, b *classBuilder, allowInput bool, what string) expression.Expr {
	e, err := expression.ParseAt(n.Src, n.P)
	if err != nil {
		if perrs, ok := err.(expression.ParseErrors); ok {
			for _, pe := range perrs {
				a.errorf(pe.Pos, "malformed %s: %s", what, pe.Msg)
			}
		} else {
			a.errorf(n.P, "malformed %s: %v", what, err)
		}
		return nil
	}

	ok := true
	for _, ref := range expression.References(e) {
		if !b.declared[ref.Name] {
			a.errorf(ref.Pos, "%s references field %q which is not declared before it", what, ref.Name)
			ok = false
		}
	}
	if !allowInput {
		for _, pos := range expression.InputUses(e) {
			a.errorf(pos, "$input is only valid inside &until")
			ok = false
		}
	}
	if !ok {
		return nil
	}
	return e
}

// checkContainment rejects classes that contain themselves through fields
// that are always present, since such a record has no finite encoding.
func (a *analyzer) checkContainment(classes map[string]*ClassDecl) {
	const (
		white = iota
		grey
		black
	)
	state := make(map[string]int, len(classes))
	reported := make(map[string]bool)

	var visit func(c *ClassDecl)
	visit = func(c *ClassDecl) {
		state[c.Name] = grey
		for _, f := range c.Fields {
			if f.Cond != nil {
				continue
			}
			name, ok := mandatoryUserType(f.Type)
			if !ok {
				continue
			}
			next, ok := classes[name]
			if !ok {
				continue
			}
			switch state[name] {
			case grey:
				if !reported[name] {
					reported[name] = true
					a.errorf(f.Pos, "bintype %s contains itself through field %s and can never end", name, f.Name)
				}
			case white:
				visit(next)
			}
		}
		state[c.Name] = black
	}

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if state[name] == white {
			visit(classes[name])
		}
	}
}

// mandatoryUserType returns the class a field always embeds, if any.
func mandatoryUserType(typ TypeDescriptor) (string, bool) {
	switch t := typ.(type) {
	case *UserType:
		return t.Class, true
	case *ArrayType:
		if t.Length.Kind == LengthFixed && t.Length.Count > 0 {
			return mandatoryUserType(t.Elem)
		}
	}
	return "", false
}
