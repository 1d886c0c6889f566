package expression

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// ExpressionTokenType defines the types of tokens of the length/condition language.
type ExpressionTokenType int

const (
	EXPR_ILLEGAL ExpressionTokenType = iota
	EXPR_EOF

	// Literals
	EXPR_IDENT   // count, hdr
	EXPR_NUMBER  // 123, 0xABC, 1.5e-2
	EXPR_STRING  // "hello", 'world'
	EXPR_BOOLEAN // true, false, True, False
	EXPR_INPUT   // $input

	// Operators
	EXPR_PLUS      // +
	EXPR_MINUS     // -
	EXPR_STAR      // *
	EXPR_POW       // **
	EXPR_SLASH     // /
	EXPR_FLOOR_DIV // //
	EXPR_MOD       // %
	EXPR_EQ        // ==
	EXPR_NEQ       // !=
	EXPR_LT        // <
	EXPR_GT        // >
	EXPR_LE        // <=
	EXPR_GE        // >=
	EXPR_LOGIC_AND // and, &&
	EXPR_LOGIC_OR  // or, ||
	EXPR_LOGIC_NOT // not, !
	EXPR_BIT_AND   // &
	EXPR_BIT_OR    // |
	EXPR_BIT_XOR   // ^
	EXPR_BIT_NOT   // ~
	EXPR_LSHIFT    // <<
	EXPR_RSHIFT    // >>

	// Delimiters
	EXPR_LPAREN   // (
	EXPR_RPAREN   // )
	EXPR_LBRACKET // [
	EXPR_RBRACKET // ]
	EXPR_DOT      // .
)

var exprKeywords = map[string]ExpressionTokenType{
	"true":  EXPR_BOOLEAN,
	"false": EXPR_BOOLEAN,
	"True":  EXPR_BOOLEAN,
	"False": EXPR_BOOLEAN,
	"and":   EXPR_LOGIC_AND,
	"or":    EXPR_LOGIC_OR,
	"not":   EXPR_LOGIC_NOT,
}

// ExpressionToken represents a lexical token for expressions.
type ExpressionToken struct {
	Type    ExpressionTokenType
	Literal string
	Line    int
	Column  int
}

func (t ExpressionToken) String() string {
	if t.Type == EXPR_IDENT || t.Type == EXPR_NUMBER || t.Type == EXPR_STRING {
		return fmt.Sprintf("%s(%q) at %d:%d", t.Type.String(), t.Literal, t.Line, t.Column)
	}
	return fmt.Sprintf("%s at %d:%d", t.Type.String(), t.Line, t.Column)
}

var tokenNames = [...]string{
	EXPR_ILLEGAL: "ILLEGAL", EXPR_EOF: "EOF",
	EXPR_IDENT: "IDENT", EXPR_NUMBER: "NUMBER", EXPR_STRING: "STRING", EXPR_BOOLEAN: "BOOLEAN", EXPR_INPUT: "$input",
	EXPR_PLUS: "+", EXPR_MINUS: "-", EXPR_STAR: "*", EXPR_POW: "**", EXPR_SLASH: "/", EXPR_FLOOR_DIV: "//", EXPR_MOD: "%",
	EXPR_EQ: "==", EXPR_NEQ: "!=", EXPR_LT: "<", EXPR_GT: ">", EXPR_LE: "<=", EXPR_GE: ">=",
	EXPR_LOGIC_AND: "and", EXPR_LOGIC_OR: "or", EXPR_LOGIC_NOT: "not",
	EXPR_BIT_AND: "&", EXPR_BIT_OR: "|", EXPR_BIT_XOR: "^", EXPR_BIT_NOT: "~", EXPR_LSHIFT: "<<", EXPR_RSHIFT: ">>",
	EXPR_LPAREN: "(", EXPR_RPAREN: ")", EXPR_LBRACKET: "[", EXPR_RBRACKET: "]", EXPR_DOT: ".",
}

func (t ExpressionTokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("UNKNOWN_EXPR_TOKEN(%d)", int(t))
}

// ExpressionLexer scans the input expression string for tokens.
type ExpressionLexer struct {
	reader *bufio.Reader
	line   int
	column int  // column of the current character (1-indexed)
	ch     rune // current character
}

// NewExpressionLexer creates a new ExpressionLexer positioned at 1:1.
func NewExpressionLexer(r io.Reader) *ExpressionLexer {
	return NewExpressionLexerAt(r, Pos{Line: 1, Column: 1})
}

// NewExpressionLexerAt creates a lexer whose token positions start at pos,
// so expressions embedded in a definition report file positions.
func NewExpressionLexerAt(r io.Reader, pos Pos) *ExpressionLexer {
	if pos.Line < 1 {
		pos.Line = 1
	}
	if pos.Column < 1 {
		pos.Column = 1
	}
	l := &ExpressionLexer{
		reader: bufio.NewReader(r),
		line:   pos.Line,
		column: pos.Column,
	}
	l.readFirst()
	return l
}

func (l *ExpressionLexer) readFirst() {
	r, _, err := l.reader.ReadRune()
	if err != nil {
		l.ch = 0
		return
	}
	l.ch = r
}

// readChar reads the next character and advances the position.
func (l *ExpressionLexer) readChar() {
	if l.ch != 0 {
		if l.ch == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
	}

	r, _, err := l.reader.ReadRune()
	if err != nil {
		l.ch = 0 // EOF character
		return
	}
	l.ch = r
}

// peekChar returns the next character without advancing.
func (l *ExpressionLexer) peekChar() rune {
	r, _, err := l.reader.ReadRune()
	if err != nil {
		return 0 // EOF
	}
	l.reader.UnreadRune()
	return r
}

// twoChar consumes the second rune of a two-character operator.
func (l *ExpressionLexer) twoChar(tok *ExpressionToken, typ ExpressionTokenType, lit string) {
	l.readChar()
	tok.Type = typ
	tok.Literal = lit
}

// NextToken scans and returns the next token.
func (l *ExpressionLexer) NextToken() ExpressionToken {
	l.skipWhitespace()

	tok := ExpressionToken{
		Line:   l.line,
		Column: l.column,
	}

	switch l.ch {
	case '+':
		tok.Type, tok.Literal = EXPR_PLUS, "+"
	case '-':
		tok.Type, tok.Literal = EXPR_MINUS, "-"
	case '*':
		if l.peekChar() == '*' {
			l.twoChar(&tok, EXPR_POW, "**")
		} else {
			tok.Type, tok.Literal = EXPR_STAR, "*"
		}
	case '/':
		if l.peekChar() == '/' {
			l.twoChar(&tok, EXPR_FLOOR_DIV, "//")
		} else {
			tok.Type, tok.Literal = EXPR_SLASH, "/"
		}
	case '%':
		tok.Type, tok.Literal = EXPR_MOD, "%"
	case '=':
		if l.peekChar() == '=' {
			l.twoChar(&tok, EXPR_EQ, "==")
		} else {
			tok.Type, tok.Literal = EXPR_ILLEGAL, "=" // no assignment in expressions
		}
	case '!':
		if l.peekChar() == '=' {
			l.twoChar(&tok, EXPR_NEQ, "!=")
		} else {
			tok.Type, tok.Literal = EXPR_LOGIC_NOT, "!"
		}
	case '<':
		switch l.peekChar() {
		case '=':
			l.twoChar(&tok, EXPR_LE, "<=")
		case '<':
			l.twoChar(&tok, EXPR_LSHIFT, "<<")
		default:
			tok.Type, tok.Literal = EXPR_LT, "<"
		}
	case '>':
		switch l.peekChar() {
		case '=':
			l.twoChar(&tok, EXPR_GE, ">=")
		case '>':
			l.twoChar(&tok, EXPR_RSHIFT, ">>")
		default:
			tok.Type, tok.Literal = EXPR_GT, ">"
		}
	case '&':
		if l.peekChar() == '&' {
			l.twoChar(&tok, EXPR_LOGIC_AND, "&&")
		} else {
			tok.Type, tok.Literal = EXPR_BIT_AND, "&"
		}
	case '|':
		if l.peekChar() == '|' {
			l.twoChar(&tok, EXPR_LOGIC_OR, "||")
		} else {
			tok.Type, tok.Literal = EXPR_BIT_OR, "|"
		}
	case '^':
		tok.Type, tok.Literal = EXPR_BIT_XOR, "^"
	case '~':
		tok.Type, tok.Literal = EXPR_BIT_NOT, "~"
	case '(':
		tok.Type, tok.Literal = EXPR_LPAREN, "("
	case ')':
		tok.Type, tok.Literal = EXPR_RPAREN, ")"
	case '[':
		tok.Type, tok.Literal = EXPR_LBRACKET, "["
	case ']':
		tok.Type, tok.Literal = EXPR_RBRACKET, "]"
	case '.':
		tok.Type, tok.Literal = EXPR_DOT, "."
	case '$':
		l.readChar()
		name := l.readIdentifier()
		if name == "input" {
			tok.Type, tok.Literal = EXPR_INPUT, "$input"
		} else {
			tok.Type, tok.Literal = EXPR_ILLEGAL, "$"+name
		}
		return tok
	case '"', '\'':
		lit, ok := l.readString(l.ch)
		tok.Literal = lit
		tok.Type = EXPR_STRING
		if !ok {
			tok.Type = EXPR_ILLEGAL
		}
		return tok
	case 0:
		tok.Type = EXPR_EOF
		return tok
	default:
		if isExprIdentifierStart(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = lookupExprKeyword(tok.Literal)
			return tok
		} else if unicode.IsDigit(l.ch) {
			tok.Literal = l.readNumber()
			tok.Type = EXPR_NUMBER
			return tok
		}
		tok.Type = EXPR_ILLEGAL
		tok.Literal = string(l.ch)
	}

	l.readChar()
	return tok
}

func (l *ExpressionLexer) skipWhitespace() {
	for unicode.IsSpace(l.ch) {
		l.readChar()
	}
}

func (l *ExpressionLexer) readIdentifier() string {
	var sb strings.Builder
	for isExprIdentifierPart(l.ch) {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	return sb.String()
}

// readNumber reads a number literal (decimal, 0x, 0o, 0b, float with exponent).
func (l *ExpressionLexer) readNumber() string {
	var sb strings.Builder
	if l.ch == '0' {
		sb.WriteRune(l.ch)
		l.readChar()
		var digit func(rune) bool
		switch l.ch {
		case 'x', 'X':
			digit = isHexDigit
		case 'o', 'O':
			digit = isOctalDigit
		case 'b', 'B':
			digit = isBinaryDigit
		}
		if digit != nil {
			sb.WriteRune(l.ch)
			l.readChar()
			for digit(l.ch) || l.ch == '_' {
				sb.WriteRune(l.ch)
				l.readChar()
			}
			return sb.String()
		}
	}

	for unicode.IsDigit(l.ch) || l.ch == '_' {
		sb.WriteRune(l.ch)
		l.readChar()
	}

	if l.ch == '.' && unicode.IsDigit(l.peekChar()) {
		sb.WriteRune(l.ch)
		l.readChar()
		for unicode.IsDigit(l.ch) {
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		sb.WriteRune(l.ch)
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			sb.WriteRune(l.ch)
			l.readChar()
		}
		for unicode.IsDigit(l.ch) {
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}

	return sb.String()
}

// readString reads a quoted literal, handling escapes. The second result is
// false when the literal is unterminated or carries a broken escape.
func (l *ExpressionLexer) readString(quoteChar rune) (string, bool) {
	var sb strings.Builder
	l.readChar() // opening quote

	for l.ch != 0 && l.ch != quoteChar {
		if l.ch != '\\' {
			sb.WriteRune(l.ch)
			l.readChar()
			continue
		}
		l.readChar()
		switch l.ch {
		case 'n':
			sb.WriteRune('\n')
		case 'r':
			sb.WriteRune('\r')
		case 't':
			sb.WriteRune('\t')
		case '0':
			sb.WriteRune(0)
		case '\\', '"', '\'':
			sb.WriteRune(l.ch)
		case 'x':
			hex := make([]rune, 2)
			for i := range hex {
				l.readChar()
				if !isHexDigit(l.ch) {
					return sb.String(), false
				}
				hex[i] = l.ch
			}
			val, _ := strconv.ParseUint(string(hex), 16, 8)
			sb.WriteByte(byte(val))
		default:
			sb.WriteRune('\\')
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}

	if l.ch != quoteChar {
		return sb.String(), false
	}
	l.readChar() // closing quote
	return sb.String(), true
}

func isExprIdentifierStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isExprIdentifierPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func isHexDigit(ch rune) bool {
	return unicode.IsDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isOctalDigit(ch rune) bool {
	return ch >= '0' && ch <= '7'
}

func isBinaryDigit(ch rune) bool {
	return ch == '0' || ch == '1'
}

func lookupExprKeyword(ident string) ExpressionTokenType {
	if tok, ok := exprKeywords[ident]; ok {
		return tok
	}
	return EXPR_IDENT
}
