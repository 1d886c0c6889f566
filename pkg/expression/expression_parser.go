package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError is a syntax error at a source position.
type ParseError struct {
	Pos Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Error at %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ParseErrors is the list of syntax errors produced by a single parse.
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	msgs := make([]string, len(e))
	for i, pe := range e {
		msgs[i] = pe.Error()
	}
	return "parsing errors: " + strings.Join(msgs, "; ")
}

// ExpressionParser consumes tokens from the lexer and builds an AST.
type ExpressionParser struct {
	lexer  *ExpressionLexer
	token  ExpressionToken // current token
	peek   ExpressionToken // next token
	errors ParseErrors

	// chains maps a comparison produced by the parser to its rightmost
	// operand, so `a < b < c` can be extended into `a < b and b < c`.
	chains map[Expr]Expr
}

// NewExpressionParser creates a new parser for an expression string.
func NewExpressionParser(lexer *ExpressionLexer) *ExpressionParser {
	p := &ExpressionParser{lexer: lexer, chains: make(map[Expr]Expr)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses src as a standalone expression.
func Parse(src string) (Expr, error) {
	return ParseAt(src, Pos{Line: 1, Column: 1})
}

// ParseAt parses src reporting positions relative to pos.
func ParseAt(src string, pos Pos) (Expr, error) {
	return NewExpressionParser(NewExpressionLexerAt(strings.NewReader(src), pos)).Parse()
}

// AddError adds a parsing error at the current token.
func (p *ExpressionParser) AddError(msg string) {
	p.errors = append(p.errors, &ParseError{Pos: Pos{p.token.Line, p.token.Column}, Msg: msg})
}

// Errors returns any accumulated parsing errors.
func (p *ExpressionParser) Errors() ParseErrors {
	return p.errors
}

func (p *ExpressionParser) nextToken() {
	p.token = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *ExpressionParser) expectPeek(t ExpressionTokenType) bool {
	if p.peek.Type == t {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *ExpressionParser) peekError(t ExpressionTokenType) {
	p.errors = append(p.errors, &ParseError{
		Pos: Pos{p.peek.Line, p.peek.Column},
		Msg: fmt.Sprintf("expected next token to be %s, got %s instead", t.String(), p.peek.Type.String()),
	})
}

// Parse is the entry point for parsing an expression. The whole input must
// form one expression.
func (p *ExpressionParser) Parse() (Expr, error) {
	if p.token.Type == EXPR_EOF {
		p.AddError("empty expression")
		return nil, p.errors
	}
	expr := p.parseExpression(LowestPrecedence)
	if expr != nil && p.peek.Type != EXPR_EOF {
		p.nextToken()
		p.AddError(fmt.Sprintf("unexpected token %s", p.token.Type.String()))
	}
	if len(p.errors) > 0 {
		return nil, p.errors
	}
	return expr, nil
}

// Precedence levels for operators, lowest first.
type Precedence int

const (
	_ Precedence = iota
	LowestPrecedence
	LogicalOrPrecedence      // or ||
	LogicalAndPrecedence     // and &&
	LogicalNotPrecedence     // not !
	ComparisonPrecedence     // == != < > <= >=
	BitwiseOrPrecedence      // |
	BitwiseXorPrecedence     // ^
	BitwiseAndPrecedence     // &
	ShiftPrecedence          // << >>
	AdditivePrecedence       // + -
	MultiplicativePrecedence // * / // %
	UnaryPrecedence          // - ~
	PowerPrecedence          // **
	PostfixPrecedence        // . []
)

var precedences = map[ExpressionTokenType]Precedence{
	EXPR_LOGIC_OR:  LogicalOrPrecedence,
	EXPR_LOGIC_AND: LogicalAndPrecedence,
	EXPR_EQ:        ComparisonPrecedence,
	EXPR_NEQ:       ComparisonPrecedence,
	EXPR_LT:        ComparisonPrecedence,
	EXPR_GT:        ComparisonPrecedence,
	EXPR_LE:        ComparisonPrecedence,
	EXPR_GE:        ComparisonPrecedence,
	EXPR_BIT_OR:    BitwiseOrPrecedence,
	EXPR_BIT_XOR:   BitwiseXorPrecedence,
	EXPR_BIT_AND:   BitwiseAndPrecedence,
	EXPR_LSHIFT:    ShiftPrecedence,
	EXPR_RSHIFT:    ShiftPrecedence,
	EXPR_PLUS:      AdditivePrecedence,
	EXPR_MINUS:     AdditivePrecedence,
	EXPR_STAR:      MultiplicativePrecedence,
	EXPR_SLASH:     MultiplicativePrecedence,
	EXPR_FLOOR_DIV: MultiplicativePrecedence,
	EXPR_MOD:       MultiplicativePrecedence,
	EXPR_POW:       PowerPrecedence,
	EXPR_LBRACKET:  PostfixPrecedence,
	EXPR_DOT:       PostfixPrecedence,
}

var binOps = map[ExpressionTokenType]BinOpOp{
	EXPR_PLUS:      BinOpAdd,
	EXPR_MINUS:     BinOpSub,
	EXPR_STAR:      BinOpMul,
	EXPR_SLASH:     BinOpDiv,
	EXPR_FLOOR_DIV: BinOpFloorDiv,
	EXPR_MOD:       BinOpMod,
	EXPR_POW:       BinOpPow,
	EXPR_EQ:        BinOpEq,
	EXPR_NEQ:       BinOpNotEq,
	EXPR_LT:        BinOpLt,
	EXPR_GT:        BinOpGt,
	EXPR_LE:        BinOpLtEq,
	EXPR_GE:        BinOpGtEq,
	EXPR_LOGIC_AND: BinOpAnd,
	EXPR_LOGIC_OR:  BinOpOr,
	EXPR_BIT_AND:   BinOpBitwiseAnd,
	EXPR_BIT_OR:    BinOpBitwiseOr,
	EXPR_BIT_XOR:   BinOpBitwiseXor,
	EXPR_LSHIFT:    BinOpLShift,
	EXPR_RSHIFT:    BinOpRShift,
}

func (p *ExpressionParser) peekPrecedence() Precedence {
	if p, ok := precedences[p.peek.Type]; ok {
		return p
	}
	return LowestPrecedence
}

func (p *ExpressionParser) currentPrecedence() Precedence {
	if p, ok := precedences[p.token.Type]; ok {
		return p
	}
	return LowestPrecedence
}

// parseExpression is the Pratt loop.
func (p *ExpressionParser) parseExpression(precedence Precedence) Expr {
	prefixFn := p.prefixParseFn(p.token.Type)
	if prefixFn == nil {
		p.AddError(fmt.Sprintf("no prefix parse function for %s found", p.token.Type.String()))
		return nil
	}
	leftExp := prefixFn()

	for leftExp != nil && p.peek.Type != EXPR_EOF && precedence < p.peekPrecedence() {
		infixFn := p.infixParseFn(p.peek.Type)
		if infixFn == nil {
			return leftExp
		}
		p.nextToken()
		leftExp = infixFn(leftExp)
	}

	return leftExp
}

func (p *ExpressionParser) prefixParseFn(tokenType ExpressionTokenType) func() Expr {
	switch tokenType {
	case EXPR_IDENT:
		return p.parseIdentifier
	case EXPR_INPUT:
		return p.parseInput
	case EXPR_NUMBER:
		return p.parseNumberLiteral
	case EXPR_STRING:
		return p.parseStringLiteral
	case EXPR_BOOLEAN:
		return p.parseBooleanLiteral
	case EXPR_LPAREN:
		return p.parseGroupedExpression
	case EXPR_LOGIC_NOT, EXPR_MINUS, EXPR_PLUS, EXPR_BIT_NOT:
		return p.parsePrefixExpression
	default:
		return nil
	}
}

func (p *ExpressionParser) infixParseFn(tokenType ExpressionTokenType) func(Expr) Expr {
	switch tokenType {
	case EXPR_POW:
		return p.parsePowerExpression
	case EXPR_EQ, EXPR_NEQ, EXPR_LT, EXPR_GT, EXPR_LE, EXPR_GE:
		return p.parseComparisonExpression
	case EXPR_LBRACKET:
		return p.parseArrayIndexExpression
	case EXPR_DOT:
		return p.parseDotExpression
	}
	if _, ok := binOps[tokenType]; ok {
		return p.parseInfixExpression
	}
	return nil
}

// --- Prefix Parsing Functions ---

func (p *ExpressionParser) pos() Pos { return Pos{p.token.Line, p.token.Column} }

func (p *ExpressionParser) parseIdentifier() Expr {
	return &Id{Name: p.token.Literal, P: p.pos()}
}

func (p *ExpressionParser) parseInput() Expr {
	return &Input{P: p.pos()}
}

func (p *ExpressionParser) parseNumberLiteral() Expr {
	lit := p.token.Literal
	if i, err := strconv.ParseInt(lit, 0, 64); err == nil {
		return &IntLit{Value: i, P: p.pos()}
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return &FltLit{Value: f, P: p.pos()}
	}
	p.AddError(fmt.Sprintf("could not parse %q as number", lit))
	return nil
}

func (p *ExpressionParser) parseStringLiteral() Expr {
	return &StrLit{Value: p.token.Literal, P: p.pos()}
}

func (p *ExpressionParser) parseBooleanLiteral() Expr {
	val := p.token.Literal == "true" || p.token.Literal == "True"
	return &BoolLit{Value: val, P: p.pos()}
}

func (p *ExpressionParser) parseGroupedExpression() Expr {
	p.nextToken() // Consume '('
	exp := p.parseExpression(LowestPrecedence)
	if exp == nil {
		return nil
	}
	if !p.expectPeek(EXPR_RPAREN) {
		return nil
	}
	// A parenthesised comparison is an ordinary operand, not a chain.
	delete(p.chains, exp)
	return exp
}

func (p *ExpressionParser) parsePrefixExpression() Expr {
	opToken := p.token
	pos := p.pos()

	argPrecedence := UnaryPrecedence
	if opToken.Type == EXPR_LOGIC_NOT {
		argPrecedence = LogicalNotPrecedence
	}
	p.nextToken()
	right := p.parseExpression(argPrecedence)
	if right == nil {
		return nil
	}

	switch opToken.Type {
	case EXPR_LOGIC_NOT:
		return &UnOp{Op: UnOpNot, Arg: right, P: pos}
	case EXPR_MINUS:
		return &UnOp{Op: UnOpNeg, Arg: right, P: pos}
	case EXPR_BIT_NOT:
		return &UnOp{Op: UnOpBitwiseNot, Arg: right, P: pos}
	case EXPR_PLUS:
		return right
	default:
		p.AddError(fmt.Sprintf("unknown prefix operator: %s", opToken.Literal))
		return nil
	}
}

// --- Infix Parsing Functions ---

func (p *ExpressionParser) parseInfixExpression(left Expr) Expr {
	opToken := p.token
	precedence := p.currentPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	if right == nil {
		return nil
	}

	op, ok := binOps[opToken.Type]
	if !ok {
		p.AddError(fmt.Sprintf("unknown infix operator: %s", opToken.Literal))
		return nil
	}
	return &BinOp{Op: op, Arg1: left, Arg2: right, P: Pos{opToken.Line, opToken.Column}}
}

// parsePowerExpression parses `**`, which binds tighter than unary minus on
// its left and is right-associative.
func (p *ExpressionParser) parsePowerExpression(left Expr) Expr {
	opToken := p.token
	p.nextToken()
	right := p.parseExpression(PowerPrecedence - 1)
	if right == nil {
		return nil
	}
	return &BinOp{Op: BinOpPow, Arg1: left, Arg2: right, P: Pos{opToken.Line, opToken.Column}}
}

// parseComparisonExpression turns `a < b < c` into `(a < b) and (b < c)`.
func (p *ExpressionParser) parseComparisonExpression(left Expr) Expr {
	opToken := p.token
	pos := Pos{opToken.Line, opToken.Column}
	p.nextToken()
	right := p.parseExpression(ComparisonPrecedence)
	if right == nil {
		return nil
	}
	op := binOps[opToken.Type]

	last, chained := p.chains[left]
	if !chained {
		cmp := &BinOp{Op: op, Arg1: left, Arg2: right, P: pos}
		p.chains[cmp] = right
		return cmp
	}
	delete(p.chains, left)
	link := &BinOp{Op: op, Arg1: last, Arg2: right, P: pos}
	chain := &BinOp{Op: BinOpAnd, Arg1: left, Arg2: link, P: left.Pos()}
	p.chains[chain] = right
	return chain
}

func (p *ExpressionParser) parseDotExpression(left Expr) Expr {
	dotPos := p.pos()
	p.nextToken() // Consume '.'
	if p.token.Type != EXPR_IDENT {
		p.AddError(fmt.Sprintf("expected identifier after '.', got %s", p.token.Type.String()))
		return nil
	}
	return &Attr{Value: left, Name: p.token.Literal, P: dotPos}
}

func (p *ExpressionParser) parseArrayIndexExpression(array Expr) Expr {
	arrayPos := array.Pos()
	p.nextToken() // Consume '['
	idxExp := p.parseExpression(LowestPrecedence)
	if idxExp == nil {
		return nil
	}
	if !p.expectPeek(EXPR_RBRACKET) {
		return nil
	}
	return &ArrayIdx{Value: array, Idx: idxExp, P: arrayPos}
}
