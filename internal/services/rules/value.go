package rules

import (
	"math"

	"github.com/pkg/errors"
)

type kind int

const (
	kindNumber kind = iota
	kindBool
	kindString
	kindSeries
	kindMask
	kindTable
	kindNumpy
	kindRolling
	kindILoc
)

func (k kind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindString:
		return "string"
	case kindSeries:
		return "series"
	case kindMask:
		return "boolean series"
	case kindTable:
		return "table"
	case kindNumpy:
		return "numpy namespace"
	case kindRolling:
		return "rolling window"
	case kindILoc:
		return "iloc indexer"
	default:
		return "unknown"
	}
}

// value result of evaluating a node. Slices are never mutated once built.
type value struct {
	kind   kind
	num    float64
	b      bool
	str    string
	series []float64
	mask   []bool
	// window length of a rolling value
	window int
	// inner kind of an iloc indexer, kindSeries or kindMask
	inner kind
}

func numberValue(v float64) value   { return value{kind: kindNumber, num: v} }
func boolValue(v bool) value        { return value{kind: kindBool, b: v} }
func seriesValue(s []float64) value { return value{kind: kindSeries, series: s} }
func maskValue(m []bool) value      { return value{kind: kindMask, mask: m} }

// numeric view of a value: scalar or series, bools count as 0/1.
type numeric struct {
	scalar   float64
	series   []float64
	isSeries bool
}

func (v value) numeric() (numeric, error) {
	switch v.kind {
	case kindNumber:
		return numeric{scalar: v.num}, nil
	case kindBool:
		return numeric{scalar: boolToFloat(v.b)}, nil
	case kindSeries:
		return numeric{series: v.series, isSeries: true}, nil
	case kindMask:
		s := make([]float64, len(v.mask))
		for i, b := range v.mask {
			s[i] = boolToFloat(b)
		}
		return numeric{series: s, isSeries: true}, nil
	default:
		return numeric{}, errors.Errorf("expected a number or series, got %s", v.kind)
	}
}

func (n numeric) at(i int) float64 {
	if n.isSeries {
		return n.series[i]
	}
	return n.scalar
}

// logical view of a value: scalar or elementwise booleans.
type logical struct {
	scalar bool
	mask   []bool
	isMask bool
}

func (v value) logical() (logical, error) {
	switch v.kind {
	case kindBool:
		return logical{scalar: v.b}, nil
	case kindMask:
		return logical{mask: v.mask, isMask: true}, nil
	default:
		return logical{}, errors.Errorf("expected a boolean or boolean series, got %s", v.kind)
	}
}

// truthy logical view that also accepts scalar numbers, NaN counts as false.
func (v value) truthy() (logical, error) {
	if v.kind == kindNumber {
		return logical{scalar: v.num != 0 && !math.IsNaN(v.num)}, nil
	}
	return v.logical()
}

// condition collapses a scalar to a single truth value. A boolean series has no
// single truth value, so boolean keywords and chained comparisons over one fail.
func (v value) condition() (bool, error) {
	switch v.kind {
	case kindBool:
		return v.b, nil
	case kindNumber:
		return v.num != 0 && !math.IsNaN(v.num), nil
	default:
		return false, errors.Errorf("truth value of a %s is ambiguous, use &, | or ~", v.kind)
	}
}

func (l logical) at(i int) bool {
	if l.isMask {
		return l.mask[i]
	}
	return l.scalar
}

// broadcastLen resolves the output length of an elementwise operation, -1 for scalars.
func broadcastLen(lengths ...int) (int, error) {
	n := -1
	for _, l := range lengths {
		if l < 0 {
			continue
		}
		if n >= 0 && n != l {
			return 0, errors.Errorf("series length mismatch: %d vs %d", n, l)
		}
		n = l
	}
	return n, nil
}

func (n numeric) length() int {
	if n.isSeries {
		return len(n.series)
	}
	return -1
}

func (l logical) length() int {
	if l.isMask {
		return len(l.mask)
	}
	return -1
}

func mapNumeric(f func(a, b float64) float64, x, y numeric) (value, error) {
	n, err := broadcastLen(x.length(), y.length())
	if err != nil {
		return value{}, err
	}
	if n < 0 {
		return numberValue(f(x.scalar, y.scalar)), nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = f(x.at(i), y.at(i))
	}
	return seriesValue(out), nil
}

func compareNumeric(f func(a, b float64) bool, x, y numeric) (value, error) {
	cmp := func(a, b float64) bool {
		if math.IsNaN(a) || math.IsNaN(b) {
			return false
		}
		return f(a, b)
	}
	n, err := broadcastLen(x.length(), y.length())
	if err != nil {
		return value{}, err
	}
	if n < 0 {
		return boolValue(cmp(x.scalar, y.scalar)), nil
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = cmp(x.at(i), y.at(i))
	}
	return maskValue(out), nil
}

func mapLogical(f func(a, b bool) bool, x, y logical) (value, error) {
	n, err := broadcastLen(x.length(), y.length())
	if err != nil {
		return value{}, err
	}
	if n < 0 {
		return boolValue(f(x.scalar, y.scalar)), nil
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = f(x.at(i), y.at(i))
	}
	return maskValue(out), nil
}

func mapSeries(s []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = f(v)
	}
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
