package bintype

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

	"github.com/twinfer/bintype/pkg/expression"
)

// cursor is the single read position of a parse. It never reads ahead of
// the value being decoded: ensure stages exactly the bytes a read needs, so
// short reads are detected before anything is decoded and the source is left
// right after the last byte the instance uses.
type cursor struct {
	r       io.Reader
	pending []byte
	pos     int64
}

func newCursor(r io.Reader) *cursor {
	return &cursor{r: r}
}

func (c *cursor) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		n, err := c.r.Read(p)
		c.pos += int64(n)
		return n, err
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	c.pos += int64(n)
	return n, nil
}

// Seek only reports the current offset; parse never moves backwards.
func (c *cursor) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekCurrent {
		return c.pos, nil
	}
	return c.pos, errors.New("bintype: parse stream is forward-only")
}

// ensure stages up to n bytes without consuming them and returns how many
// are available. Only read failures other than end of stream are errors.
func (c *cursor) ensure(n int) (int, error) {
	if need := n - len(c.pending); need > 0 {
		buf := make([]byte, need)
		got, err := io.ReadFull(c.r, buf)
		c.pending = append(c.pending, buf[:got]...)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return min(len(c.pending), n), err
		}
	}
	return min(len(c.pending), n), nil
}

func (c *cursor) atEOF() (bool, error) {
	n, err := c.ensure(1)
	return n == 0, err
}

// release hands staged but unconsumed bytes back to the source when it can
// take them: any amount to a seeker, a single byte to a byte scanner.
func (c *cursor) release(src io.Reader) {
	n := len(c.pending)
	if n == 0 {
		return
	}
	if s, ok := src.(io.Seeker); ok {
		if _, err := s.Seek(int64(-n), io.SeekCurrent); err == nil {
			c.pending = nil
		}
		return
	}
	if bs, ok := src.(io.ByteScanner); ok && n == 1 {
		if bs.UnreadByte() == nil {
			c.pending = nil
		}
	}
}

// decoder runs one parse call.
type decoder struct {
	mod    *Module
	cur    *cursor
	stream *kaitai.Stream
	logger *slog.Logger
}

// Parse decodes the instance's class from r, replacing any previous values.
// On error the instance holds the fields decoded before the failure.
func (i *Instance) Parse(ctx context.Context, r io.Reader) error {
	cur := newCursor(r)
	d := &decoder{mod: i.mod, cur: cur, stream: kaitai.NewStream(cur), logger: i.mod.logger}
	defer cur.release(r)

	d.logger.DebugContext(ctx, "Starting parse", "class", i.class.Name)
	i.Reset()
	if err := d.instance(ctx, i); err != nil {
		d.logger.ErrorContext(ctx, "Parse failed", "class", i.class.Name, "offset", cur.pos, "error", err)
		return err
	}
	d.logger.DebugContext(ctx, "Finished parse", "class", i.class.Name, "bytes", cur.pos)
	return nil
}

func (d *decoder) instance(ctx context.Context, inst *Instance) error {
	starts := make(map[string]int64, len(inst.class.Fields))
	for _, f := range inst.class.Fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset := d.cur.pos
		if f.Cond != nil {
			ok, err := expression.EvalBool(f.Cond, inst)
			if err != nil {
				return exprError(f.Name, offset, err)
			}
			if !ok {
				d.logger.DebugContext(ctx, "Skipping field due to if condition", "class", inst.class.Name, "field", f.Name, "if_expr", f.Cond.String())
				continue
			}
		}
		d.logger.DebugContext(ctx, "Parsing field", "class", inst.class.Name, "field", f.Name, "type", f.Type.String(), "offset", offset)
		starts[f.Name] = offset
		v, err := d.value(ctx, f, f.Type, inst, starts, inst.order)
		if err != nil {
			return err
		}
		inst.values[f.Name] = v
	}
	return nil
}

func (d *decoder) value(ctx context.Context, f *Field, t TypeDescriptor, inst *Instance, starts map[string]int64, order ByteOrder) (Value, error) {
	switch t := t.(type) {
	case *BasicType:
		return d.scalar(f, t, t.Order.resolve(order))

	case *UserType:
		class, ok := d.mod.classes[t.Class]
		if !ok {
			return nil, fmt.Errorf("field %s: unknown bintype %s", f.Name, t.Class)
		}
		child := newInstance(d.mod, class, t.Order.resolve(order))
		if err := d.instance(ctx, child); err != nil {
			return nil, err
		}
		return child, nil

	case *ArrayType:
		arr := &Array{typ: t, mod: d.mod, order: typeOrder(t, order)}
		err := d.elements(ctx, f, t.Length, t.Elem, inst, arr, func() (Value, error) {
			return d.value(ctx, f, t.Elem, inst, starts, order)
		})
		if err != nil {
			return nil, err
		}
		return arr, nil

	case *StringType:
		arr := &Array{typ: t, mod: d.mod, order: order.resolve(LittleEndian)}
		err := d.elements(ctx, f, t.Length, t.Elem, inst, arr, func() (Value, error) {
			return d.scalar(f, t.Elem, arr.order)
		})
		if err != nil {
			return nil, err
		}
		return arr, nil

	case *PadType:
		n := padCount(d.cur.pos-starts[t.AlignField], t.Modulus)
		d.logger.DebugContext(ctx, "Consuming padding", "field", f.Name, "align_field", t.AlignField, "modulus", t.Modulus, "count", n)
		got, err := d.cur.ensure(n)
		if err != nil {
			return nil, fmt.Errorf("field %s: reading padding: %w", f.Name, err)
		}
		if got < n {
			return nil, &TruncatedStreamError{Field: f.Name, Offset: d.cur.pos, Want: n, Got: got}
		}
		filler, err := d.stream.ReadBytes(n)
		if err != nil {
			return nil, fmt.Errorf("field %s: reading padding: %w", f.Name, err)
		}
		return &Padding{filler: filler}, nil
	}
	return nil, fmt.Errorf("field %s: unsupported type %T", f.Name, t)
}

// elements decodes array elements into arr according to the length rule.
func (d *decoder) elements(ctx context.Context, f *Field, length LengthMode, elem TypeDescriptor, inst *Instance, arr *Array, next func() (Value, error)) error {
	switch length.Kind {
	case LengthFixed, LengthExpr:
		count := length.Count
		if length.Kind == LengthExpr {
			n, err := expression.EvalInt(length.Expr, inst)
			if err != nil {
				return exprError(f.Name, d.cur.pos, err)
			}
			if n < 0 {
				return &EvaluationError{Field: f.Name, Offset: d.cur.pos, Err: fmt.Errorf("array length %s evaluated to %d", length.Expr, n)}
			}
			count = int(n)
			d.logger.DebugContext(ctx, "Evaluated array length", "field", f.Name, "expr", length.Expr.String(), "count", count)
		}
		arr.elems = make([]Value, 0, min(count, 4096))
		for idx := 0; idx < count; idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := next()
			if err != nil {
				return err
			}
			arr.Append(v)
		}

	case LengthRest:
		w, static := d.mod.staticTypeSize(elem, make(map[string]bool))
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			eof, err := d.cur.atEOF()
			if err != nil {
				return fmt.Errorf("field %s at offset %d: %w", f.Name, d.cur.pos, err)
			}
			if eof {
				break
			}
			if static {
				got, err := d.cur.ensure(w)
				if err != nil {
					return fmt.Errorf("field %s at offset %d: %w", f.Name, d.cur.pos, err)
				}
				if got < w {
					d.logger.DebugContext(ctx, "Dropping partial trailing element", "field", f.Name, "offset", d.cur.pos, "bytes", got)
					break
				}
			}
			start := d.cur.pos
			v, err := next()
			var trunc *TruncatedStreamError
			if errors.As(err, &trunc) {
				d.logger.DebugContext(ctx, "Rest-of-stream array ended inside an element", "field", f.Name, "offset", d.cur.pos)
				break
			}
			if err != nil {
				return err
			}
			if d.cur.pos == start {
				d.logger.DebugContext(ctx, "Rest-of-stream element consumed no bytes", "field", f.Name, "offset", start)
				break
			}
			arr.Append(v)
		}

	case LengthUntil:
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := d.cur.pos
			v, err := next()
			if err != nil {
				return err
			}
			arr.Append(v)
			input, _ := exprValue(v)
			more, err := expression.EvalBool(length.Expr, inputScope{Scope: inst, input: input})
			if err != nil {
				return exprError(f.Name, d.cur.pos, err)
			}
			if !more {
				d.logger.DebugContext(ctx, "Until predicate terminated array", "field", f.Name, "elements", arr.Len())
				break
			}
			if d.cur.pos == start {
				return &EvaluationError{Field: f.Name, Offset: start, Err: errors.New("until element consumed no bytes and the predicate did not stop the array")}
			}
		}
	}
	return nil
}

func (d *decoder) scalar(f *Field, t *BasicType, order ByteOrder) (*Scalar, error) {
	offset := d.cur.pos
	got, err := d.cur.ensure(t.Width)
	if err != nil {
		return nil, fmt.Errorf("field %s at offset %d: %w", f.Name, offset, err)
	}
	if got < t.Width {
		return nil, &TruncatedStreamError{Field: f.Name, Offset: offset, Want: t.Width, Got: got}
	}
	var bits uint64
	switch t.Width {
	case 1:
		var v uint8
		v, err = d.stream.ReadU1()
		bits = uint64(v)
	case 2:
		var v uint16
		if order == BigEndian {
			v, err = d.stream.ReadU2be()
		} else {
			v, err = d.stream.ReadU2le()
		}
		bits = uint64(v)
	case 4:
		var v uint32
		if order == BigEndian {
			v, err = d.stream.ReadU4be()
		} else {
			v, err = d.stream.ReadU4le()
		}
		bits = uint64(v)
	default:
		return nil, fmt.Errorf("field %s: unsupported scalar width %d", f.Name, t.Width)
	}
	if err != nil {
		return nil, fmt.Errorf("field %s at offset %d: %w", f.Name, offset, err)
	}
	s := newScalar(t, order)
	s.setBits(bits)
	return s, nil
}

// inputScope binds $input for an until predicate.
type inputScope struct {
	expression.Scope
	input any
}

func (s inputScope) Input() (any, bool) { return s.input, s.input != nil }

// padCount is the filler needed to bring n up to a multiple of modulus.
func padCount(n int64, modulus int) int {
	m := int64(modulus)
	return int((m - n%m) % m)
}
