package rules

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type arguments struct {
	name   string
	args   []value
	kwargs map[string]value
}

func (a arguments) arity(limit int, allowed ...string) error {
	if len(a.args) > limit {
		return errors.Errorf("%s() takes at most %d positional arguments, got %d", a.name, limit, len(a.args))
	}
	for name := range a.kwargs {
		ok := false
		for _, allowedName := range allowed {
			if name == allowedName {
				ok = true
				break
			}
		}
		if !ok {
			return errors.Errorf("%s() got an unexpected keyword argument %q", a.name, name)
		}
	}
	return nil
}

func (a arguments) get(pos int, name string) (value, bool) {
	if pos < len(a.args) {
		return a.args[pos], true
	}
	v, ok := a.kwargs[name]
	return v, ok
}

func (a arguments) integer(pos int, name string, def int) (int, error) {
	v, ok := a.get(pos, name)
	if !ok {
		return def, nil
	}
	if v.kind != kindNumber || v.num != math.Trunc(v.num) || math.IsInf(v.num, 0) {
		return 0, errors.Errorf("%s(): %s must be an integer", a.name, name)
	}
	return int(v.num), nil
}

func (a arguments) required(pos int, name string) (value, error) {
	v, ok := a.get(pos, name)
	if !ok {
		return value{}, errors.Errorf("%s() missing argument %q", a.name, name)
	}
	return v, nil
}

func callSeriesMethod(s []float64, call arguments) (value, error) {
	switch call.name {
	case "shift", "diff", "pct_change":
		if err := call.arity(1, "periods"); err != nil {
			return value{}, err
		}
		periods, err := call.integer(0, "periods", 1)
		if err != nil {
			return value{}, err
		}
		shifted := shift(s, periods)
		switch call.name {
		case "diff":
			return seriesValue(zipSeries(s, shifted, func(a, b float64) float64 { return a - b })), nil
		case "pct_change":
			return seriesValue(zipSeries(s, shifted, func(a, b float64) float64 { return divide(a, b) - 1 })), nil
		}
		return seriesValue(shifted), nil
	case "abs":
		if err := call.arity(0); err != nil {
			return value{}, err
		}
		return seriesValue(mapSeries(s, math.Abs)), nil
	case "rolling":
		if err := call.arity(1, "window"); err != nil {
			return value{}, err
		}
		window, err := call.integer(0, "window", 0)
		if err != nil {
			return value{}, err
		}
		if window < 1 {
			return value{}, errors.New("rolling(): window must be a positive integer")
		}
		return value{kind: kindRolling, series: s, window: window}, nil
	case "mean", "sum", "min", "max", "std":
		if err := call.arity(0); err != nil {
			return value{}, err
		}
		return numberValue(aggregate(call.name, dropNaN(s))), nil
	case "isna", "isnull", "notna", "notnull":
		if err := call.arity(0); err != nil {
			return value{}, err
		}
		want := call.name == "isna" || call.name == "isnull"
		out := make([]bool, len(s))
		for i, v := range s {
			out[i] = math.IsNaN(v) == want
		}
		return maskValue(out), nil
	case "fillna":
		if err := call.arity(1, "value"); err != nil {
			return value{}, err
		}
		v, err := call.required(0, "value")
		if err != nil {
			return value{}, err
		}
		if v.kind != kindNumber {
			return value{}, errors.New("fillna(): value must be a number")
		}
		return seriesValue(mapSeries(s, func(x float64) float64 {
			if math.IsNaN(x) {
				return v.num
			}
			return x
		})), nil
	}
	return value{}, errors.Errorf("series has no method %q", call.name)
}

func callMaskMethod(m []bool, call arguments) (value, error) {
	switch call.name {
	case "shift":
		if err := call.arity(1, "periods"); err != nil {
			return value{}, err
		}
		periods, err := call.integer(0, "periods", 1)
		if err != nil {
			return value{}, err
		}
		out := make([]bool, len(m))
		for i := range out {
			j := i - periods
			if j >= 0 && j < len(m) {
				out[i] = m[j]
			}
		}
		return maskValue(out), nil
	case "any", "all":
		if err := call.arity(0); err != nil {
			return value{}, err
		}
		want := call.name == "any"
		for _, b := range m {
			if b == want {
				return boolValue(want), nil
			}
		}
		return boolValue(!want), nil
	}
	return value{}, errors.Errorf("boolean series has no method %q", call.name)
}

func callRollingMethod(r value, call arguments) (value, error) {
	switch call.name {
	case "mean", "sum", "min", "max", "std":
	default:
		return value{}, errors.Errorf("rolling window has no method %q", call.name)
	}
	if err := call.arity(0); err != nil {
		return value{}, err
	}

	out := make([]float64, len(r.series))
	for i := range out {
		if i+1 < r.window {
			out[i] = math.NaN()
			continue
		}
		window := r.series[i+1-r.window : i+1]
		if floats.HasNaN(window) {
			out[i] = math.NaN()
			continue
		}
		out[i] = aggregate(call.name, window)
	}
	return seriesValue(out), nil
}

// aggregate reduces values that contain no NaN. std is the sample deviation.
func aggregate(name string, values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	switch name {
	case "mean":
		return stat.Mean(values, nil)
	case "sum":
		return floats.Sum(values)
	case "min":
		return floats.Min(values)
	case "max":
		return floats.Max(values)
	case "std":
		if len(values) < 2 {
			return math.NaN()
		}
		return stat.StdDev(values, nil)
	}
	return math.NaN()
}

func shift(s []float64, periods int) []float64 {
	out := make([]float64, len(s))
	for i := range out {
		j := i - periods
		if j < 0 || j >= len(s) {
			out[i] = math.NaN()
			continue
		}
		out[i] = s[j]
	}
	return out
}

func zipSeries(a, b []float64, f func(x, y float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = f(a[i], b[i])
	}
	return out
}

func dropNaN(s []float64) []float64 {
	out := make([]float64, 0, len(s))
	for _, v := range s {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
