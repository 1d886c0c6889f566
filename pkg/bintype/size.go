package bintype

// StaticSize returns the encoded size of a class when it is the same for
// every instance: no conditional fields and no lengths that depend on data.
func (m *Module) StaticSize(class string) (int, bool) {
	c, ok := m.classes[class]
	if !ok {
		return 0, false
	}
	return m.staticClassSize(c, make(map[string]bool))
}

func (m *Module) staticClassSize(c *ClassDecl, visiting map[string]bool) (int, bool) {
	if visiting[c.Name] {
		return 0, false
	}
	visiting[c.Name] = true
	defer delete(visiting, c.Name)

	starts := make(map[string]int, len(c.Fields))
	offset := 0
	for _, f := range c.Fields {
		if f.Cond != nil {
			return 0, false
		}
		starts[f.Name] = offset
		var n int
		if pad, ok := f.Type.(*PadType); ok {
			n = padCount(int64(offset-starts[pad.AlignField]), pad.Modulus)
		} else {
			var ok bool
			if n, ok = m.staticTypeSize(f.Type, visiting); !ok {
				return 0, false
			}
		}
		offset += n
	}
	return offset, true
}

func (m *Module) staticTypeSize(t TypeDescriptor, visiting map[string]bool) (int, bool) {
	switch t := t.(type) {
	case *BasicType:
		return t.Width, true
	case *StringType:
		if t.Length.Kind != LengthFixed {
			return 0, false
		}
		return t.Length.Count * t.Elem.Width, true
	case *ArrayType:
		if t.Length.Kind != LengthFixed {
			return 0, false
		}
		if t.Length.Count == 0 {
			return 0, true
		}
		n, ok := m.staticTypeSize(t.Elem, visiting)
		return n * t.Length.Count, ok
	case *UserType:
		c, ok := m.classes[t.Class]
		if !ok {
			return 0, false
		}
		return m.staticClassSize(c, visiting)
	}
	return 0, false
}
