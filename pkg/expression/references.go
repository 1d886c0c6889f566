package expression

// Reference is a field name read by an expression, with the position of its
// first use.
type Reference struct {
	Name string
	Pos  Pos
}

// refCollector walks a tree recording identifiers and $input uses.
type refCollector struct {
	refs  []Reference
	seen  map[string]bool
	input []Pos
}

// References returns the distinct top-level field names read by expr, in
// order of first appearance. For `hdr.count` only `hdr` is reported.
func References(expr Expr) []Reference {
	c := &refCollector{seen: make(map[string]bool)}
	_ = expr.Accept(c)
	return c.refs
}

// InputUses returns the positions of every $input token in expr.
func InputUses(expr Expr) []Pos {
	c := &refCollector{seen: make(map[string]bool)}
	_ = expr.Accept(c)
	return c.input
}

func (c *refCollector) VisitBoolLit(*BoolLit) error { return nil }
func (c *refCollector) VisitIntLit(*IntLit) error   { return nil }
func (c *refCollector) VisitStrLit(*StrLit) error   { return nil }
func (c *refCollector) VisitFltLit(*FltLit) error   { return nil }

func (c *refCollector) VisitId(n *Id) error {
	if !c.seen[n.Name] {
		c.seen[n.Name] = true
		c.refs = append(c.refs, Reference{Name: n.Name, Pos: n.P})
	}
	return nil
}

func (c *refCollector) VisitInput(n *Input) error {
	c.input = append(c.input, n.P)
	return nil
}

func (c *refCollector) VisitUnOp(n *UnOp) error { return n.Arg.Accept(c) }

func (c *refCollector) VisitBinOp(n *BinOp) error {
	if err := n.Arg1.Accept(c); err != nil {
		return err
	}
	return n.Arg2.Accept(c)
}

func (c *refCollector) VisitAttr(n *Attr) error { return n.Value.Accept(c) }

func (c *refCollector) VisitArrayIdx(n *ArrayIdx) error {
	if err := n.Value.Accept(c); err != nil {
		return err
	}
	return n.Idx.Accept(c)
}
