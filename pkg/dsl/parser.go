package dsl

import (
	"fmt"
	"strings"
	"unicode"
)

// SyntaxError is a malformed line in the definition text.
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// SyntaxErrors collects every syntax error found in one parse.
type SyntaxErrors []*SyntaxError

func (e SyntaxErrors) Error() string {
	msgs := make([]string, len(e))
	for i, se := range e {
		msgs[i] = se.Error()
	}
	return "syntax errors: " + strings.Join(msgs, "; ")
}

// Parse reads definition text into a File. Parsing resumes at the next line
// after an error, so the returned File holds every well-formed declaration
// even when the error is non-nil.
func Parse(src string) (*File, error) {
	p := &parser{file: &File{P: Pos{Line: 1, Column: 1}}}
	for i, raw := range strings.Split(src, "\n") {
		p.line(i+1, raw)
	}
	p.closeClass()
	if len(p.errs) > 0 {
		return p.file, p.errs
	}
	return p.file, nil
}

type parser struct {
	file *File
	errs SyntaxErrors

	class      *ClassNode
	bodyIndent int
	orphaned   bool
}

func (p *parser) errorf(pos Pos, format string, args ...any) {
	p.errs = append(p.errs, &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (p *parser) line(lineNo int, raw string) {
	text := strings.TrimRight(stripComment(raw), " \t\r")
	if strings.TrimSpace(text) == "" {
		return
	}
	indent := len(text) - len(strings.TrimLeft(text, " \t"))
	sc := &scanner{s: text, i: indent, line: lineNo}

	if indent == 0 {
		p.closeClass()
		p.header(sc)
		return
	}

	if p.class == nil {
		if !p.orphaned {
			p.errorf(sc.pos(), "field declaration outside of a bintype block")
			p.orphaned = true
		}
		return
	}
	if p.bodyIndent == 0 {
		p.bodyIndent = indent
		p.class.Body.P = sc.pos()
	} else if indent != p.bodyIndent {
		p.errorf(sc.pos(), "inconsistent indentation: expected %d, got %d", p.bodyIndent, indent)
		return
	}
	if f := p.field(sc); f != nil {
		p.class.Body.Fields = append(p.class.Body.Fields, f)
	}
}

func (p *parser) closeClass() {
	if p.class != nil && len(p.class.Body.Fields) == 0 && p.bodyIndent == 0 {
		p.errorf(p.class.P, "bintype %s has an empty body", p.class.Name)
	}
	p.class = nil
	p.bodyIndent = 0
}

// header parses `bintype <Name>:`.
func (p *parser) header(sc *scanner) {
	start := sc.pos()
	kw, _ := sc.ident()
	if kw != "bintype" {
		p.errorf(start, "expected 'bintype <Name>:', got %q", strings.TrimSpace(sc.s))
		// the body of a malformed block is skipped without further errors
		p.orphaned = true
		return
	}
	sc.skipSpace()
	namePos := sc.pos()
	name, ok := sc.ident()
	if !ok {
		p.errorf(namePos, "expected class name after 'bintype'")
		p.orphaned = true
		return
	}
	sc.skipSpace()
	if !sc.accept(':') {
		p.errorf(sc.pos(), "expected ':' after class name %s", name)
		p.orphaned = true
		return
	}
	sc.skipSpace()
	if !sc.done() {
		p.errorf(sc.pos(), "unexpected %q after class header", sc.rest())
	}
	p.orphaned = false
	p.class = &ClassNode{Name: name, P: start, Body: &BodyNode{P: start}}
	p.file.Classes = append(p.file.Classes, p.class)
}

// field parses `<name>: <type> <attrs>` or `<name>: padding align <f> <n>`.
func (p *parser) field(sc *scanner) *FieldNode {
	start := sc.pos()
	name, ok := sc.ident()
	if !ok {
		p.errorf(start, "expected field name")
		return nil
	}
	sc.skipSpace()
	if !sc.accept(':') {
		p.errorf(sc.pos(), "expected ':' after field name %s", name)
		return nil
	}
	sc.skipSpace()

	typ, ok := p.typeExpr(sc)
	if !ok {
		return nil
	}
	f := &FieldNode{Name: name, Type: typ, P: start}

	for {
		sc.skipSpace()
		if sc.done() {
			return f
		}
		attrPos := sc.pos()
		if !sc.accept('&') {
			p.errorf(attrPos, "unexpected %q, expected an &attribute", sc.rest())
			return nil
		}
		attrName, ok := sc.ident()
		if !ok {
			p.errorf(sc.pos(), "expected attribute name after '&'")
			return nil
		}
		attr := &AttrNode{Name: attrName, P: attrPos}
		sc.skipSpace()
		switch {
		case sc.peek() == '(':
			src, srcPos, err := sc.balanced('(', ')')
			if err != nil {
				p.errorf(srcPos, "&%s: %v", attrName, err)
				return nil
			}
			attr.Expr = &ExprNode{Src: src, P: srcPos}
		case sc.peek() == '"' || sc.peek() == '\'':
			argPos := sc.pos()
			s, ok := sc.quoted()
			if !ok {
				p.errorf(argPos, "&%s: unterminated string", attrName)
				return nil
			}
			attr.Arg = s
		case isIdentStart(sc.peek()):
			attr.Arg, _ = sc.word()
		}
		f.Attrs = append(f.Attrs, attr)
	}
}

// typeExpr parses a scalar, user, array or padding type.
func (p *parser) typeExpr(sc *scanner) (TypeNode, bool) {
	typePos := sc.pos()
	typeName, ok := sc.ident()
	if !ok {
		p.errorf(typePos, "expected type name")
		return nil, false
	}
	if typeName == "padding" {
		return p.padding(sc, typePos)
	}

	var typ TypeNode
	if BasicTypes[typeName] {
		typ = &BasicTypeNode{Name: typeName, P: typePos}
	} else {
		typ = &UserTypeNode{Name: typeName, P: typePos}
	}

	type dim struct {
		count *ExprNode
		pos   Pos
	}
	var dims []dim
	for sc.peek() == '[' {
		bracketPos := sc.pos()
		src, srcPos, err := sc.balanced('[', ']')
		if err != nil {
			p.errorf(srcPos, "array length: %v", err)
			return nil, false
		}
		d := dim{pos: bracketPos}
		if strings.TrimSpace(src) != "" {
			d.count = &ExprNode{Src: src, P: srcPos}
		}
		dims = append(dims, d)
	}
	// uint8[2][3] is two elements of uint8[3]
	for i := len(dims) - 1; i >= 0; i-- {
		typ = &ArrayTypeNode{Elem: typ, Count: dims[i].count, P: dims[i].pos}
	}
	return typ, true
}

func (p *parser) padding(sc *scanner, start Pos) (TypeNode, bool) {
	sc.skipSpace()
	kwPos := sc.pos()
	if kw, _ := sc.ident(); kw != "align" {
		p.errorf(kwPos, "expected 'align' after 'padding'")
		return nil, false
	}
	sc.skipSpace()
	alignPos := sc.pos()
	align, ok := sc.ident()
	if !ok {
		p.errorf(alignPos, "expected field name after 'padding align'")
		return nil, false
	}
	sc.skipSpace()
	modPos := sc.pos()
	mod, ok := sc.word()
	if !ok {
		p.errorf(modPos, "expected modulus after 'padding align %s'", align)
		return nil, false
	}
	return &PadTypeNode{Align: align, AlignPos: alignPos, Modulus: mod, ModulusPos: modPos, P: start}, true
}

// scanner walks a single line. Columns are byte offsets plus one.
type scanner struct {
	s    string
	i    int
	line int
}

func (sc *scanner) pos() Pos     { return Pos{Line: sc.line, Column: sc.i + 1} }
func (sc *scanner) done() bool   { return sc.i >= len(sc.s) }
func (sc *scanner) rest() string { return sc.s[sc.i:] }

func (sc *scanner) peek() byte {
	if sc.done() {
		return 0
	}
	return sc.s[sc.i]
}

func (sc *scanner) skipSpace() {
	for !sc.done() && (sc.s[sc.i] == ' ' || sc.s[sc.i] == '\t') {
		sc.i++
	}
}

func (sc *scanner) accept(c byte) bool {
	if sc.peek() == c {
		sc.i++
		return true
	}
	return false
}

func (sc *scanner) ident() (string, bool) {
	start := sc.i
	if !isIdentStart(sc.peek()) {
		return "", false
	}
	for !sc.done() && isIdentPart(sc.s[sc.i]) {
		sc.i++
	}
	return sc.s[start:sc.i], true
}

// word reads a run of identifier or digit characters.
func (sc *scanner) word() (string, bool) {
	start := sc.i
	for !sc.done() && isIdentPart(sc.s[sc.i]) {
		sc.i++
	}
	return sc.s[start:sc.i], sc.i > start
}

func (sc *scanner) quoted() (string, bool) {
	q := sc.s[sc.i]
	end := strings.IndexByte(sc.s[sc.i+1:], q)
	if end < 0 {
		return "", false
	}
	s := sc.s[sc.i+1 : sc.i+1+end]
	sc.i += end + 2
	return s, true
}

// balanced consumes an open...close group, honouring nesting and quotes, and
// returns the enclosed text and its position.
func (sc *scanner) balanced(open, close byte) (string, Pos, error) {
	sc.i++ // open
	start := sc.i
	startPos := sc.pos()
	depth := 1
	var quote byte
	for ; sc.i < len(sc.s); sc.i++ {
		c := sc.s[sc.i]
		switch {
		case quote != 0:
			if c == '\\' {
				sc.i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				src := sc.s[start:sc.i]
				sc.i++
				return src, startPos, nil
			}
		}
	}
	return "", startPos, fmt.Errorf("missing closing %q", close)
}

func stripComment(line string) string {
	var quote rune
	for i, c := range line {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}

func isIdentStart(c byte) bool {
	return c == '_' || c < 0x80 && unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
