package rules

import (
	"github.com/pkg/errors"
)

type node interface {
	eval(env *env) (value, error)
}

type (
	numberLit struct{ v float64 }
	stringLit struct{ v string }
	boolLit   struct{ v bool }
	ident     struct{ name string }

	unaryExpr struct {
		op string
		x  node
	}
	binaryExpr struct {
		op   string
		x, y node
	}
	// compareExpr chained comparison, a < b <= c means (a < b) and (b <= c).
	compareExpr struct {
		ops      []string
		operands []node
	}
	attrExpr struct {
		x    node
		name string
	}
	indexExpr struct {
		x, key node
	}
	callExpr struct {
		fn     node
		args   []node
		kwargs map[string]node
	}
)

type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, errors.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokenOp {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) isKeyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokenIdent && tok.text == word
}

func (p *parser) expect(op string) error {
	tok := p.next()
	if tok.kind != tokenOp || tok.text != op {
		if tok.kind == tokenEOF {
			return errors.Errorf("expected %q, got end of expression", op)
		}
		return errors.Errorf("expected %q at %d, got %q", op, tok.pos, tok.text)
	}
	return nil
}

func (p *parser) parseOr() (node, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = &binaryExpr{op: "or", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseAnd() (node, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = &binaryExpr{op: "and", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	x, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	cmp := &compareExpr{operands: []node{x}}
	for {
		op, ok := p.isOp("<", "<=", ">", ">=", "==", "!=")
		if !ok {
			break
		}
		p.next()
		y, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, op)
		cmp.operands = append(cmp.operands, y)
	}
	if len(cmp.ops) == 0 {
		return x, nil
	}
	return cmp, nil
}

// binary precedence levels, loosest first
var binaryLevels = [][]string{
	{"|"},
	{"^"},
	{"&"},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) parseBinary(level int) (node, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	x, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp(binaryLevels[level]...)
		if !ok {
			return x, nil
		}
		p.next()
		y, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		x = &binaryExpr{op: op, x: x, y: y}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.isOp("-", "+", "~"); ok {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	x, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("**"); ok {
		p.next()
		y, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: "**", x: x, y: y}, nil
	}
	return x, nil
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp(".", "[", "(")
		if !ok {
			return x, nil
		}
		p.next()
		switch op {
		case ".":
			tok := p.next()
			if tok.kind != tokenIdent {
				return nil, errors.Errorf("expected attribute name at %d", tok.pos)
			}
			x = &attrExpr{x: x, name: tok.text}
		case "[":
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &indexExpr{x: x, key: key}
		case "(":
			call, err := p.parseCall(x)
			if err != nil {
				return nil, err
			}
			x = call
		}
	}
}

func (p *parser) parseCall(fn node) (node, error) {
	call := &callExpr{fn: fn}
	if _, ok := p.isOp(")"); ok {
		p.next()
		return call, nil
	}
	for {
		name, arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		switch {
		case name != "":
			if call.kwargs == nil {
				call.kwargs = make(map[string]node)
			}
			call.kwargs[name] = arg
		case len(call.kwargs) > 0:
			return nil, errors.New("positional argument follows keyword argument")
		default:
			call.args = append(call.args, arg)
		}

		if _, ok := p.isOp(","); ok {
			p.next()
			continue
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return call, nil
	}
}

// parseArgument parses either name=value or a positional value.
func (p *parser) parseArgument() (string, node, error) {
	tok := p.peek()
	if tok.kind == tokenIdent && p.pos+1 < len(p.tokens) {
		if nxt := p.tokens[p.pos+1]; nxt.kind == tokenOp && nxt.text == "=" {
			p.pos += 2
			v, err := p.parseOr()
			return tok.text, v, err
		}
	}
	v, err := p.parseOr()
	return "", v, err
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		return &numberLit{v: tok.num}, nil
	case tokenString:
		return &stringLit{v: tok.text}, nil
	case tokenIdent:
		switch tok.text {
		case "True":
			return &boolLit{v: true}, nil
		case "False":
			return &boolLit{v: false}, nil
		case "and", "or", "not":
			return nil, errors.Errorf("unexpected keyword %q at %d", tok.text, tok.pos)
		}
		return &ident{name: tok.text}, nil
	case tokenOp:
		if tok.text == "(" {
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
		return nil, errors.Errorf("unexpected %q at %d", tok.text, tok.pos)
	default:
		return nil, errors.New("unexpected end of expression")
	}
}
