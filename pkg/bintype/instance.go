package bintype

import (
	"fmt"
	"math"

	"github.com/Velocidex/ordereddict"

	"github.com/twinfer/bintype/pkg/expression"
)

// Value is a node of an instance value tree: *Scalar, *Array, *Padding or
// *Instance.
type Value interface {
	ByteSize() int
	value()
}

// Scalar is a decoded primitive. It remembers the layout it was decoded
// with, and the wire bits, so an unmodified value stores bit-for-bit.
type Scalar struct {
	typ   BasicType
	i     int64
	f     float64
	bits  uint64
	wired bool
}

func newScalar(t *BasicType, order ByteOrder) *Scalar {
	s := &Scalar{typ: *t}
	s.typ.Order = order
	return s
}

// Value returns the numeric value as int64 or float64.
func (s *Scalar) Value() any {
	if s.typ.Float {
		return s.f
	}
	return s.i
}

// Int returns the value truncated to an integer.
func (s *Scalar) Int() int64 {
	if s.typ.Float {
		return int64(s.f)
	}
	return s.i
}

// Float returns the value as a float64.
func (s *Scalar) Float() float64 {
	if s.typ.Float {
		return s.f
	}
	return float64(s.i)
}

func (s *Scalar) Width() int       { return s.typ.Width }
func (s *Scalar) Signed() bool     { return s.typ.Signed }
func (s *Scalar) IsFloat() bool    { return s.typ.Float }
func (s *Scalar) Order() ByteOrder { return s.typ.Order }
func (s *Scalar) TypeName() string { return s.typ.Name }
func (s *Scalar) ByteSize() int    { return s.typ.Width }
func (*Scalar) value()             {}
func (s *Scalar) String() string   { return fmt.Sprint(s.Value()) }

// Set replaces the value. Integer scalars accept any integral number; the
// range is checked when the instance is stored.
func (s *Scalar) Set(v any) error {
	n := expression.Normalize(v)
	if s.typ.Float {
		switch x := n.(type) {
		case int64:
			s.f = float64(x)
		case float64:
			s.f = x
		default:
			return fmt.Errorf("cannot assign %T to %s", v, s.typ.Name)
		}
		s.wired = false
		return nil
	}
	i, ok := expression.AsInt(n)
	if !ok {
		return fmt.Errorf("cannot assign %v (%T) to %s", v, v, s.typ.Name)
	}
	s.i = i
	s.wired = false
	return nil
}

// setBits decodes a value read from the wire.
func (s *Scalar) setBits(bits uint64) {
	s.bits, s.wired = bits, true
	switch {
	case s.typ.Float:
		s.f = float64(math.Float32frombits(uint32(bits)))
	case s.typ.Signed:
		shift := 64 - 8*uint(s.typ.Width)
		s.i = int64(bits<<shift) >> shift
	default:
		s.i = int64(bits)
	}
}

// Array is an ordered sequence of element values. String arrays hold one
// uint8-like scalar per character and additionally expose Text.
type Array struct {
	typ   TypeDescriptor
	mod   *Module
	order ByteOrder
	elems []Value
}

func (a *Array) Len() int             { return len(a.elems) }
func (a *Array) Items() []Value       { return a.elems }
func (a *Array) Append(v Value)       { a.elems = append(a.elems, v) }
func (a *Array) Type() TypeDescriptor { return a.typ }
func (*Array) value()                 {}

// At returns element i.
func (a *Array) At(i int) Value {
	if i < 0 || i >= len(a.elems) {
		return nil
	}
	return a.elems[i]
}

// Index exposes elements to expressions.
func (a *Array) Index(i int) (any, bool) {
	if i < 0 || i >= len(a.elems) {
		return nil, false
	}
	return exprValue(a.elems[i])
}

func (a *Array) ByteSize() int {
	n := 0
	for _, e := range a.elems {
		n += e.ByteSize()
	}
	return n
}

// IsText reports whether the array is a string field.
func (a *Array) IsText() bool {
	_, ok := a.typ.(*StringType)
	return ok
}

// Bytes returns the low byte of every element; for string arrays this is the
// raw encoded text.
func (a *Array) Bytes() []byte {
	b := make([]byte, 0, len(a.elems))
	for _, e := range a.elems {
		if s, ok := e.(*Scalar); ok {
			b = append(b, byte(s.Int()))
		}
	}
	return b
}

// Text decodes a string array using its &encoding. Trailing NULs are
// dropped from fixed-length strings only; for other lengths they are data.
func (a *Array) Text() (string, error) {
	st, ok := a.typ.(*StringType)
	if !ok {
		return "", fmt.Errorf("%s is not a string", a.typ)
	}
	return decodeText(a.Bytes(), st.Encoding, st.Length.Kind == LengthFixed)
}

// SetText replaces the characters of a string array with encoded text.
func (a *Array) SetText(text string) error {
	st, ok := a.typ.(*StringType)
	if !ok {
		return fmt.Errorf("%s is not a string", a.typ)
	}
	raw, err := encodeText(text, st.Encoding)
	if err != nil {
		return err
	}
	a.setBytes(st, raw)
	return nil
}

func (a *Array) setBytes(st *StringType, raw []byte) {
	a.elems = make([]Value, len(raw))
	for i, c := range raw {
		s := newScalar(st.Elem, a.order)
		s.setBits(uint64(c))
		a.elems[i] = s
	}
}

// Fill replaces the contents with count copies of value, bypassing parse.
func (a *Array) Fill(count int, value any) error {
	if count < 0 {
		return fmt.Errorf("negative fill count %d", count)
	}
	elemType := arrayElem(a.typ)
	elems := make([]Value, count)
	for i := range elems {
		v, err := a.mod.valueFrom(elemType, value, a.order)
		if err != nil {
			return fmt.Errorf("fill element %d: %w", i, err)
		}
		elems[i] = v
	}
	a.elems = elems
	return nil
}

func arrayElem(t TypeDescriptor) TypeDescriptor {
	switch t := t.(type) {
	case *ArrayType:
		return t.Elem
	case *StringType:
		return t.Elem
	}
	return nil
}

// Padding holds the filler bytes of a padding field.
type Padding struct {
	filler []byte
}

func (p *Padding) Bytes() []byte { return p.filler }
func (p *Padding) ByteSize() int { return len(p.filler) }
func (*Padding) value()          {}

// Instance is one occurrence of a class: the values of its fields. Fields
// that were not decoded (yet) or whose &if condition was false are absent.
type Instance struct {
	class  *ClassDecl
	mod    *Module
	order  ByteOrder
	values map[string]Value
}

func newInstance(mod *Module, class *ClassDecl, order ByteOrder) *Instance {
	return &Instance{class: class, mod: mod, order: order, values: make(map[string]Value, len(class.Fields))}
}

func (*Instance) value() {}

// Class returns the compiled class of the instance.
func (i *Instance) Class() *ClassDecl { return i.class }

// Reset discards every field value.
func (i *Instance) Reset() {
	i.values = make(map[string]Value, len(i.class.Fields))
}

// Get returns the value of a field.
func (i *Instance) Get(name string) (Value, bool) {
	v, ok := i.values[name]
	return v, ok
}

// Has reports whether a field has a value.
func (i *Instance) Has(name string) bool {
	_, ok := i.values[name]
	return ok
}

// Fields returns the names of the fields that have values, in wire order.
func (i *Instance) Fields() []string {
	names := make([]string, 0, len(i.values))
	for _, f := range i.class.Fields {
		if _, ok := i.values[f.Name]; ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// Scalar returns a scalar field.
func (i *Instance) Scalar(name string) (*Scalar, bool) {
	s, ok := i.values[name].(*Scalar)
	return s, ok
}

// Array returns an array or string field.
func (i *Instance) Array(name string) (*Array, bool) {
	a, ok := i.values[name].(*Array)
	return a, ok
}

// Child returns a nested instance field.
func (i *Instance) Child(name string) (*Instance, bool) {
	c, ok := i.values[name].(*Instance)
	return c, ok
}

// Set assigns a field from a plain Go value: numbers for scalars, text for
// strings, slices for arrays, maps for nested classes.
func (i *Instance) Set(name string, v any) error {
	f, ok := i.class.Field(name)
	if !ok {
		return fmt.Errorf("bintype %s has no field %s", i.class.Name, name)
	}
	if val, ok := v.(Value); ok {
		i.values[name] = val
		return nil
	}
	val, err := i.mod.valueFrom(f.Type, v, i.order)
	if err != nil {
		return fmt.Errorf("setting field %s: %w", name, err)
	}
	i.values[name] = val
	return nil
}

// Fill sets an array field to count copies of value, creating the array when
// the field has no value yet.
func (i *Instance) Fill(name string, count int, value any) error {
	f, ok := i.class.Field(name)
	if !ok {
		return fmt.Errorf("bintype %s has no field %s", i.class.Name, name)
	}
	arr, ok := i.values[name].(*Array)
	if !ok {
		if arrayElem(f.Type) == nil {
			return fmt.Errorf("field %s is not an array", name)
		}
		arr = &Array{typ: f.Type, mod: i.mod, order: typeOrder(f.Type, i.order)}
	}
	if err := arr.Fill(count, value); err != nil {
		return fmt.Errorf("filling field %s: %w", name, err)
	}
	i.values[name] = arr
	return nil
}

// Lookup implements expression.Scope over the fields that have values.
func (i *Instance) Lookup(name string) (any, bool) {
	v, ok := i.values[name]
	if !ok {
		return nil, false
	}
	return exprValue(v)
}

// Input implements expression.Scope; an instance never binds $input.
func (i *Instance) Input() (any, bool) { return nil, false }

// ByteSize returns the encoded size of the fields that have values.
func (i *Instance) ByteSize() int {
	n := 0
	for _, v := range i.values {
		n += v.ByteSize()
	}
	return n
}

// exprValue maps a tree value onto what expressions operate on.
func exprValue(v Value) (any, bool) {
	switch v := v.(type) {
	case *Scalar:
		return v.Value(), true
	case *Array:
		if v.IsText() {
			text, err := v.Text()
			if err != nil {
				return nil, false
			}
			return text, true
		}
		return v, true
	case *Padding:
		return int64(len(v.filler)), true
	case *Instance:
		return v, true
	}
	return nil, false
}

// typeOrder is the byte order a field's values are decoded with.
func typeOrder(t TypeDescriptor, inherited ByteOrder) ByteOrder {
	switch t := t.(type) {
	case *BasicType:
		return t.Order.resolve(inherited)
	case *UserType:
		return t.Order.resolve(inherited)
	case *ArrayType:
		return typeOrder(t.Elem, inherited)
	}
	return inherited.resolve(LittleEndian)
}

// ToDict exports the instance as an ordered dictionary in wire order.
func (i *Instance) ToDict() *ordereddict.Dict {
	d := ordereddict.NewDict()
	for _, name := range i.Fields() {
		d.Set(name, exportValue(i.values[name], true))
	}
	return d
}

// ToMap exports the instance as plain maps and slices.
func (i *Instance) ToMap() map[string]any {
	m := make(map[string]any, len(i.values))
	for name, v := range i.values {
		m[name] = exportValue(v, false)
	}
	return m
}

func exportValue(v Value, ordered bool) any {
	switch v := v.(type) {
	case *Scalar:
		return v.Value()
	case *Array:
		if v.IsText() {
			if text, err := v.Text(); err == nil {
				return text
			}
		}
		items := make([]any, len(v.elems))
		for i, e := range v.elems {
			items[i] = exportValue(e, ordered)
		}
		return items
	case *Padding:
		items := make([]any, len(v.filler))
		for i, b := range v.filler {
			items[i] = int64(b)
		}
		return items
	case *Instance:
		if ordered {
			return v.ToDict()
		}
		return v.ToMap()
	}
	return nil
}

// FromMap assigns every field present in m. Keys must name fields of the
// class.
func (i *Instance) FromMap(m map[string]any) error {
	for key := range m {
		if _, ok := i.class.Field(key); !ok {
			return fmt.Errorf("bintype %s has no field %s", i.class.Name, key)
		}
	}
	for _, f := range i.class.Fields {
		v, ok := m[f.Name]
		if !ok {
			continue
		}
		val, err := i.mod.valueFrom(f.Type, v, i.order)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		i.values[f.Name] = val
	}
	return nil
}

// valueFrom builds a tree value of type t from a plain Go value.
func (m *Module) valueFrom(t TypeDescriptor, v any, inherited ByteOrder) (Value, error) {
	switch t := t.(type) {
	case *BasicType:
		s := newScalar(t, t.Order.resolve(inherited))
		if v == nil {
			return s, nil
		}
		if err := s.Set(v); err != nil {
			return nil, err
		}
		return s, nil

	case *StringType:
		arr := &Array{typ: t, mod: m, order: inherited.resolve(LittleEndian)}
		switch x := v.(type) {
		case nil:
		case string:
			raw, err := encodeText(x, t.Encoding)
			if err != nil {
				return nil, err
			}
			if t.Length.Kind == LengthFixed {
				if len(raw) > t.Length.Count {
					return nil, fmt.Errorf("text of %d byte(s) exceeds %s", len(raw), t)
				}
				raw = append(raw, make([]byte, t.Length.Count-len(raw))...)
			}
			arr.setBytes(t, raw)
		case []any:
			for _, e := range x {
				s, err := m.valueFrom(t.Elem, e, inherited)
				if err != nil {
					return nil, err
				}
				arr.Append(s)
			}
		default:
			return nil, fmt.Errorf("cannot assign %T to %s", v, t)
		}
		return arr, nil

	case *ArrayType:
		arr := &Array{typ: t, mod: m, order: typeOrder(t, inherited)}
		if v == nil {
			return arr, nil
		}
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("cannot assign %T to %s", v, t)
		}
		for idx, e := range items {
			ev, err := m.valueFrom(t.Elem, e, inherited)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", idx, err)
			}
			arr.Append(ev)
		}
		return arr, nil

	case *UserType:
		class, ok := m.classes[t.Class]
		if !ok {
			return nil, fmt.Errorf("unknown bintype %s", t.Class)
		}
		child := newInstance(m, class, t.Order.resolve(inherited))
		switch x := v.(type) {
		case nil:
		case map[string]any:
			if err := child.FromMap(x); err != nil {
				return nil, err
			}
		case *Instance:
			if x.class != class {
				return nil, fmt.Errorf("cannot assign bintype %s to %s", x.class.Name, class.Name)
			}
			return x, nil
		default:
			return nil, fmt.Errorf("cannot assign %T to bintype %s", v, class.Name)
		}
		return child, nil

	case *PadType:
		p := &Padding{}
		if items, ok := v.([]any); ok {
			for _, e := range items {
				b, ok := expression.AsInt(e)
				if !ok || b < 0 || b > 0xff {
					return nil, fmt.Errorf("padding byte %v out of range", e)
				}
				p.filler = append(p.filler, byte(b))
			}
		}
		return p, nil
	}
	return nil, fmt.Errorf("unsupported type %T", t)
}
