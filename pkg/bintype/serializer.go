package bintype

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

	"github.com/twinfer/bintype/pkg/expression"
)

// countingWriter tracks the absolute write offset of a store call.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type encoder struct {
	mod    *Module
	cw     *countingWriter
	writer *kaitai.Writer
	logger *slog.Logger
}

// Store writes the instance to w. Nothing is written for fields whose &if
// condition is false; no length prefixes are ever emitted.
func (i *Instance) Store(ctx context.Context, w io.Writer) error {
	cw := &countingWriter{w: w}
	e := &encoder{mod: i.mod, cw: cw, writer: kaitai.NewWriter(cw), logger: i.mod.logger}

	e.logger.DebugContext(ctx, "Starting store", "class", i.class.Name)
	if err := e.instance(ctx, i); err != nil {
		e.logger.ErrorContext(ctx, "Store failed", "class", i.class.Name, "offset", cw.n, "error", err)
		return err
	}
	e.logger.DebugContext(ctx, "Finished store", "class", i.class.Name, "bytes", cw.n)
	return nil
}

func (e *encoder) instance(ctx context.Context, inst *Instance) error {
	starts := make(map[string]int64, len(inst.class.Fields))
	for _, f := range inst.class.Fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset := e.cw.n
		if f.Cond != nil {
			ok, err := expression.EvalBool(f.Cond, inst)
			if err != nil {
				return exprError(f.Name, offset, err)
			}
			if !ok {
				continue
			}
		}
		v, ok := inst.values[f.Name]
		if !ok {
			// unset padding is zero filled
			if _, pad := f.Type.(*PadType); !pad {
				return &MissingValueError{Field: f.Name, Offset: offset}
			}
			v = &Padding{}
		}
		starts[f.Name] = offset
		if err := e.value(ctx, f, f.Type, v, inst, starts, inst.order); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) value(ctx context.Context, f *Field, t TypeDescriptor, v Value, inst *Instance, starts map[string]int64, order ByteOrder) error {
	switch t := t.(type) {
	case *BasicType:
		s, ok := v.(*Scalar)
		if !ok {
			return e.mismatch(f, t, v)
		}
		return e.scalar(f, t, s, t.Order.resolve(order))

	case *UserType:
		child, ok := v.(*Instance)
		if !ok || child.class.Name != t.Class {
			return e.mismatch(f, t, v)
		}
		return e.instance(ctx, child)

	case *ArrayType:
		arr, ok := v.(*Array)
		if !ok {
			return e.mismatch(f, t, v)
		}
		if err := e.checkCount(f, t.Length, arr, inst); err != nil {
			return err
		}
		for _, elem := range arr.elems {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.value(ctx, f, t.Elem, elem, inst, starts, order); err != nil {
				return err
			}
		}
		return nil

	case *StringType:
		arr, ok := v.(*Array)
		if !ok {
			return e.mismatch(f, t, v)
		}
		if err := e.checkCount(f, t.Length, arr, inst); err != nil {
			return err
		}
		for _, elem := range arr.elems {
			s, ok := elem.(*Scalar)
			if !ok {
				return e.mismatch(f, t.Elem, elem)
			}
			if err := e.scalar(f, t.Elem, s, arr.order); err != nil {
				return err
			}
		}
		return nil

	case *PadType:
		p, ok := v.(*Padding)
		if !ok {
			return e.mismatch(f, t, v)
		}
		n := padCount(e.cw.n-starts[t.AlignField], t.Modulus)
		filler := p.filler
		if len(filler) != n {
			var fill byte
			if len(filler) > 0 {
				fill = filler[0]
			}
			filler = make([]byte, n)
			for idx := range filler {
				filler[idx] = fill
			}
			p.filler = filler
		}
		e.logger.DebugContext(ctx, "Writing padding", "field", f.Name, "align_field", t.AlignField, "count", n)
		if err := e.writer.WriteBytes(filler); err != nil {
			return fmt.Errorf("field %s: writing padding: %w", f.Name, err)
		}
		return nil
	}
	return fmt.Errorf("field %s: unsupported type %T", f.Name, t)
}

// checkCount verifies that an array holds exactly the element count its
// length rule will demand when the bytes are parsed again.
func (e *encoder) checkCount(f *Field, length LengthMode, arr *Array, inst *Instance) error {
	want := -1
	switch length.Kind {
	case LengthFixed:
		want = length.Count
	case LengthExpr:
		n, err := expression.EvalInt(length.Expr, inst)
		if err != nil {
			return exprError(f.Name, e.cw.n, err)
		}
		want = int(n)
	}
	if want >= 0 && arr.Len() != want {
		return &EncodingRangeError{
			Field:  f.Name,
			Offset: e.cw.n,
			Value:  arr.Len(),
			Type:   arr.typ.String(),
			Reason: fmt.Sprintf("array holds %d element(s), layout requires %d", arr.Len(), want),
		}
	}
	return nil
}

func (e *encoder) mismatch(f *Field, t TypeDescriptor, v Value) error {
	return &EncodingRangeError{
		Field:  f.Name,
		Offset: e.cw.n,
		Value:  v,
		Type:   t.String(),
		Reason: fmt.Sprintf("value of kind %T cannot be stored as %s", v, t),
	}
}

func (e *encoder) scalar(f *Field, t *BasicType, s *Scalar, order ByteOrder) error {
	if s.typ.Order != OrderInherit {
		order = s.typ.Order
	}
	if s.wired && s.typ.Width == t.Width && s.typ.Float == t.Float {
		return e.bits(f, t.Width, s.bits, order)
	}

	if t.Float {
		v := s.Float()
		if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
			return &EncodingRangeError{Field: f.Name, Offset: e.cw.n, Value: v, Type: t.Name}
		}
		var err error
		if order == BigEndian {
			err = e.writer.WriteF4be(float32(v))
		} else {
			err = e.writer.WriteF4le(float32(v))
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		return nil
	}

	v := s.Int()
	if s.typ.Float && s.Float() != math.Trunc(s.Float()) {
		return &EncodingRangeError{Field: f.Name, Offset: e.cw.n, Value: s.Float(), Type: t.Name}
	}
	lo, hi := scalarRange(t)
	if v < lo || v > hi {
		return &EncodingRangeError{Field: f.Name, Offset: e.cw.n, Value: v, Type: t.Name}
	}
	mask := uint64(1)<<(8*uint(t.Width)) - 1
	return e.bits(f, t.Width, uint64(v)&mask, order)
}

// bits writes the low width bytes of raw in the given order.
func (e *encoder) bits(f *Field, width int, raw uint64, order ByteOrder) error {
	var err error
	switch width {
	case 1:
		err = e.writer.WriteU1(uint8(raw))
	case 2:
		if order == BigEndian {
			err = e.writer.WriteU2be(uint16(raw))
		} else {
			err = e.writer.WriteU2le(uint16(raw))
		}
	case 4:
		if order == BigEndian {
			err = e.writer.WriteU4be(uint32(raw))
		} else {
			err = e.writer.WriteU4le(uint32(raw))
		}
	default:
		return fmt.Errorf("field %s: unsupported scalar width %d", f.Name, width)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	return nil
}

// scalarRange returns the inclusive integer range of an integer type.
func scalarRange(t *BasicType) (int64, int64) {
	bits := 8 * uint(t.Width)
	if t.Signed {
		return -(int64(1) << (bits - 1)), int64(1)<<(bits-1) - 1
	}
	return 0, int64(1)<<bits - 1
}
