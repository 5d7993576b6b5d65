package rules

import (
	"math"

	"github.com/pkg/errors"
)

var numpyFuncs = map[string]func(call arguments) (value, error){
	"abs":         numpyUnary(math.Abs),
	"sqrt":        numpyUnary(math.Sqrt),
	"log":         numpyUnary(math.Log),
	"exp":         numpyUnary(math.Exp),
	"maximum":     numpyBinary(nanAware(math.Max)),
	"minimum":     numpyBinary(nanAware(math.Min)),
	"isnan":       numpyIsNaN,
	"where":       numpyWhere,
	"logical_and": numpyLogical(logicalOps["&"]),
	"logical_or":  numpyLogical(logicalOps["|"]),
	"logical_xor": numpyLogical(logicalOps["^"]),
	"logical_not": numpyLogicalNot,
}

func callNumpy(call arguments) (value, error) {
	fn, ok := numpyFuncs[call.name]
	if !ok {
		return value{}, errors.Errorf("np.%s is not available", call.name)
	}
	return fn(call)
}

func numpyUnary(f func(float64) float64) func(arguments) (value, error) {
	return func(call arguments) (value, error) {
		if err := call.arity(1); err != nil {
			return value{}, err
		}
		x, err := call.required(0, "x")
		if err != nil {
			return value{}, err
		}
		n, err := x.numeric()
		if err != nil {
			return value{}, errors.Wrapf(err, "np.%s", call.name)
		}
		return mapNumeric(func(a, _ float64) float64 { return f(a) }, n, numeric{})
	}
}

func numpyBinary(f func(a, b float64) float64) func(arguments) (value, error) {
	return func(call arguments) (value, error) {
		if err := call.arity(2); err != nil {
			return value{}, err
		}
		x, err := call.required(0, "x1")
		if err != nil {
			return value{}, err
		}
		y, err := call.required(1, "x2")
		if err != nil {
			return value{}, err
		}
		nx, err := x.numeric()
		if err != nil {
			return value{}, errors.Wrapf(err, "np.%s", call.name)
		}
		ny, err := y.numeric()
		if err != nil {
			return value{}, errors.Wrapf(err, "np.%s", call.name)
		}
		return mapNumeric(f, nx, ny)
	}
}

func numpyLogical(f func(a, b bool) bool) func(arguments) (value, error) {
	return func(call arguments) (value, error) {
		if err := call.arity(2); err != nil {
			return value{}, err
		}
		x, err := call.required(0, "x1")
		if err != nil {
			return value{}, err
		}
		y, err := call.required(1, "x2")
		if err != nil {
			return value{}, err
		}
		lx, err := x.truthy()
		if err != nil {
			return value{}, errors.Wrapf(err, "np.%s", call.name)
		}
		ly, err := y.truthy()
		if err != nil {
			return value{}, errors.Wrapf(err, "np.%s", call.name)
		}
		return mapLogical(f, lx, ly)
	}
}

func numpyLogicalNot(call arguments) (value, error) {
	if err := call.arity(1); err != nil {
		return value{}, err
	}
	x, err := call.required(0, "x")
	if err != nil {
		return value{}, err
	}
	l, err := x.truthy()
	if err != nil {
		return value{}, errors.Wrap(err, "np.logical_not")
	}
	return mapLogical(func(a, _ bool) bool { return !a }, l, logical{})
}

func numpyIsNaN(call arguments) (value, error) {
	if err := call.arity(1); err != nil {
		return value{}, err
	}
	x, err := call.required(0, "x")
	if err != nil {
		return value{}, err
	}
	n, err := x.numeric()
	if err != nil {
		return value{}, errors.Wrap(err, "np.isnan")
	}
	if !n.isSeries {
		return boolValue(math.IsNaN(n.scalar)), nil
	}
	out := make([]bool, len(n.series))
	for i, v := range n.series {
		out[i] = math.IsNaN(v)
	}
	return maskValue(out), nil
}

// numpyWhere picks from x where cond holds and from y elsewhere.
// Boolean branches produce a boolean series so the result can drive a signal.
func numpyWhere(call arguments) (value, error) {
	if err := call.arity(3); err != nil {
		return value{}, err
	}
	cond, err := call.required(0, "condition")
	if err != nil {
		return value{}, err
	}
	x, err := call.required(1, "x")
	if err != nil {
		return value{}, err
	}
	y, err := call.required(2, "y")
	if err != nil {
		return value{}, err
	}
	lc, err := cond.truthy()
	if err != nil {
		return value{}, errors.Wrap(err, "np.where condition")
	}

	lx, errX := x.logical()
	ly, errY := y.logical()
	if errX == nil && errY == nil {
		n, err := broadcastLen(lc.length(), lx.length(), ly.length())
		if err != nil {
			return value{}, err
		}
		if n < 0 {
			if lc.scalar {
				return boolValue(lx.scalar), nil
			}
			return boolValue(ly.scalar), nil
		}
		out := make([]bool, n)
		for i := range out {
			if lc.at(i) {
				out[i] = lx.at(i)
			} else {
				out[i] = ly.at(i)
			}
		}
		return maskValue(out), nil
	}

	nx, err := x.numeric()
	if err != nil {
		return value{}, errors.Wrap(err, "np.where x")
	}
	ny, err := y.numeric()
	if err != nil {
		return value{}, errors.Wrap(err, "np.where y")
	}
	n, err := broadcastLen(lc.length(), nx.length(), ny.length())
	if err != nil {
		return value{}, err
	}
	if n < 0 {
		if lc.scalar {
			return numberValue(nx.scalar), nil
		}
		return numberValue(ny.scalar), nil
	}
	out := make([]float64, n)
	for i := range out {
		if lc.at(i) {
			out[i] = nx.at(i)
		} else {
			out[i] = ny.at(i)
		}
	}
	return seriesValue(out), nil
}

func nanAware(f func(a, b float64) float64) func(a, b float64) float64 {
	return func(a, b float64) float64 {
		if math.IsNaN(a) || math.IsNaN(b) {
			return math.NaN()
		}
		return f(a, b)
	}
}
