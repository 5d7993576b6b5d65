package rules

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/internal/services/market/indicators"
)

// Names bound inside an expression. Nothing else is reachable.
const (
	tableName = "df"
	numpyName = "np"
)

type env struct {
	frame *indicators.Frame
}

func (n *numberLit) eval(*env) (value, error) { return numberValue(n.v), nil }
func (n *boolLit) eval(*env) (value, error)   { return boolValue(n.v), nil }
func (n *stringLit) eval(*env) (value, error) { return value{kind: kindString, str: n.v}, nil }

func (n *ident) eval(*env) (value, error) {
	switch n.name {
	case tableName:
		return value{kind: kindTable}, nil
	case numpyName:
		return value{kind: kindNumpy}, nil
	default:
		return value{}, errors.Errorf("name %q is not defined", n.name)
	}
}

func (n *unaryExpr) eval(e *env) (value, error) {
	x, err := n.x.eval(e)
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case "-", "+":
		num, err := x.numeric()
		if err != nil {
			return value{}, err
		}
		sign := 1.0
		if n.op == "-" {
			sign = -1
		}
		return mapNumeric(func(a, _ float64) float64 { return sign * a }, num, numeric{})
	case "~":
		l, err := x.logical()
		if err != nil {
			return value{}, errors.Wrap(err, "operand of ~")
		}
		return mapLogical(func(a, _ bool) bool { return !a }, l, logical{})
	case "not":
		c, err := x.condition()
		if err != nil {
			return value{}, errors.Wrap(err, "operand of not")
		}
		return boolValue(!c), nil
	}
	return value{}, errors.Errorf("unsupported unary operator %q", n.op)
}

func (n *binaryExpr) eval(e *env) (value, error) {
	x, err := n.x.eval(e)
	if err != nil {
		return value{}, err
	}
	if n.op == "and" || n.op == "or" {
		return n.shortCircuit(e, x)
	}
	y, err := n.y.eval(e)
	if err != nil {
		return value{}, err
	}

	switch n.op {
	case "&", "|", "^":
		lx, err := x.logical()
		if err != nil {
			return value{}, errors.Wrapf(err, "left operand of %s", n.op)
		}
		ly, err := y.logical()
		if err != nil {
			return value{}, errors.Wrapf(err, "right operand of %s", n.op)
		}
		return mapLogical(logicalOps[n.op], lx, ly)
	}

	f, ok := arithmeticOps[n.op]
	if !ok {
		return value{}, errors.Errorf("unsupported operator %q", n.op)
	}
	nx, err := x.numeric()
	if err != nil {
		return value{}, errors.Wrapf(err, "left operand of %s", n.op)
	}
	ny, err := y.numeric()
	if err != nil {
		return value{}, errors.Wrapf(err, "right operand of %s", n.op)
	}
	return mapNumeric(f, nx, ny)
}

// shortCircuit evaluates and/or on a scalar left operand, returning whichever
// operand decides the result. The right side is not evaluated when x decides.
func (n *binaryExpr) shortCircuit(e *env, x value) (value, error) {
	c, err := x.condition()
	if err != nil {
		return value{}, errors.Wrapf(err, "left operand of %s", n.op)
	}
	if (n.op == "and") != c {
		return x, nil
	}
	return n.y.eval(e)
}

var logicalOps = map[string]func(a, b bool) bool{
	"&": func(a, b bool) bool { return a && b },
	"|": func(a, b bool) bool { return a || b },
	"^": func(a, b bool) bool { return a != b },
}

var arithmeticOps = map[string]func(a, b float64) float64{
	"+":  func(a, b float64) float64 { return a + b },
	"-":  func(a, b float64) float64 { return a - b },
	"*":  func(a, b float64) float64 { return a * b },
	"/":  divide,
	"%":  func(a, b float64) float64 { return math.Mod(a, b) },
	"**": math.Pow,
}

// divide yields NaN on division by zero so comparisons against it are false.
func divide(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return a / b
}

var compareOps = map[string]func(a, b float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"==": func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
}

func (n *compareExpr) eval(e *env) (value, error) {
	left, err := n.operands[0].eval(e)
	if err != nil {
		return value{}, err
	}

	var result value
	for i, op := range n.ops {
		if i > 0 {
			c, err := result.condition()
			if err != nil {
				return value{}, errors.Wrap(err, "chained comparison")
			}
			if !c {
				return result, nil
			}
		}
		right, err := n.operands[i+1].eval(e)
		if err != nil {
			return value{}, err
		}
		nl, err := left.numeric()
		if err != nil {
			return value{}, errors.Wrapf(err, "left operand of %s", op)
		}
		nr, err := right.numeric()
		if err != nil {
			return value{}, errors.Wrapf(err, "right operand of %s", op)
		}
		if result, err = compareNumeric(compareOps[op], nl, nr); err != nil {
			return value{}, err
		}
		left = right
	}
	return result, nil
}

func (n *attrExpr) eval(e *env) (value, error) {
	if strings.HasPrefix(n.name, "_") {
		return value{}, errors.Errorf("access to attribute %q is not allowed", n.name)
	}
	x, err := n.x.eval(e)
	if err != nil {
		return value{}, err
	}

	switch x.kind {
	case kindTable:
		return e.column(n.name)
	case kindNumpy:
		switch n.name {
		case "nan":
			return numberValue(math.NaN()), nil
		case "inf":
			return numberValue(math.Inf(1)), nil
		case "pi":
			return numberValue(math.Pi), nil
		}
		if _, ok := numpyFuncs[n.name]; ok {
			return value{}, errors.Errorf("np.%s must be called", n.name)
		}
		return value{}, errors.Errorf("np.%s is not available", n.name)
	case kindSeries, kindMask:
		switch n.name {
		case "iloc":
			return value{kind: kindILoc, inner: x.kind, series: x.series, mask: x.mask}, nil
		case "values":
			return x, nil
		}
	}
	return value{}, errors.Errorf("%s has no attribute %q", x.kind, n.name)
}

func (n *indexExpr) eval(e *env) (value, error) {
	x, err := n.x.eval(e)
	if err != nil {
		return value{}, err
	}
	key, err := n.key.eval(e)
	if err != nil {
		return value{}, err
	}

	switch x.kind {
	case kindTable:
		if key.kind != kindString {
			return value{}, errors.Errorf("table index must be a column name, got %s", key.kind)
		}
		return e.column(key.str)
	case kindILoc:
		if key.kind != kindNumber || key.num != math.Trunc(key.num) {
			return value{}, errors.Errorf("iloc index must be an integer, got %s", key.kind)
		}
		size := len(x.series)
		if x.inner == kindMask {
			size = len(x.mask)
		}
		i := int(key.num)
		if i < 0 {
			i += size
		}
		if i < 0 || i >= size {
			return value{}, errors.Errorf("iloc index %d out of range for length %d", int(key.num), size)
		}
		if x.inner == kindMask {
			return boolValue(x.mask[i]), nil
		}
		return numberValue(x.series[i]), nil
	case kindSeries, kindMask:
		return value{}, errors.New("positional access requires .iloc")
	}
	return value{}, errors.Errorf("%s is not indexable", x.kind)
}

func (n *callExpr) eval(e *env) (value, error) {
	attr, ok := n.fn.(*attrExpr)
	if !ok {
		if id, isIdent := n.fn.(*ident); isIdent {
			return value{}, errors.Errorf("calling %q is not allowed", id.name)
		}
		return value{}, errors.New("expression is not callable")
	}
	if strings.HasPrefix(attr.name, "_") {
		return value{}, errors.Errorf("access to attribute %q is not allowed", attr.name)
	}

	recv, err := attr.x.eval(e)
	if err != nil {
		return value{}, err
	}
	args := make([]value, len(n.args))
	for i, a := range n.args {
		if args[i], err = a.eval(e); err != nil {
			return value{}, err
		}
	}
	kwargs := make(map[string]value, len(n.kwargs))
	for name, a := range n.kwargs {
		if kwargs[name], err = a.eval(e); err != nil {
			return value{}, err
		}
	}
	call := arguments{name: attr.name, args: args, kwargs: kwargs}

	switch recv.kind {
	case kindNumpy:
		return callNumpy(call)
	case kindSeries:
		return callSeriesMethod(recv.series, call)
	case kindMask:
		return callMaskMethod(recv.mask, call)
	case kindRolling:
		return callRollingMethod(recv, call)
	}
	return value{}, errors.Errorf("%s has no method %q", recv.kind, attr.name)
}

func (e *env) column(name string) (value, error) {
	col, ok := e.frame.Column(name)
	if !ok {
		return value{}, errors.Errorf("column %q does not exist", name)
	}
	return seriesValue(col), nil
}
