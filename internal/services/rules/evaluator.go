// Package rules evaluates strategy entry and exit expressions against the
// enriched candle window.
//
// Expressions use a small pandas-flavoured grammar: columns are read from
// df (df['rsi_14'] or df.rsi_14), np exposes a fixed set of array functions,
// and the usual arithmetic, comparison and boolean operators apply
// elementwise. No other names, builtins or attributes are reachable.
package rules

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/services/market/indicators"
	"go.uber.org/zap"
)

// DefaultWindow number of most recent candles an expression sees.
const DefaultWindow = 10

// Program compiled expression.
type Program struct {
	src  string
	root node
}

// Compile parses an expression.
func Compile(src string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, errors.Wrapf(err, "compile %q", src)
	}
	return &Program{src: src, root: root}, nil
}

// String returns the source expression.
func (p *Program) String() string {
	return p.src
}

// Eval evaluates the program over the frame and returns the boolean at the last row.
func (p *Program) Eval(frame *indicators.Frame) (bool, error) {
	if frame.Len() == 0 {
		return false, errors.New("empty window")
	}
	v, err := p.root.eval(&env{frame: frame})
	if err != nil {
		return false, err
	}
	switch v.kind {
	case kindBool:
		return v.b, nil
	case kindMask:
		if len(v.mask) == 0 {
			return false, errors.New("expression produced an empty series")
		}
		return v.mask[len(v.mask)-1], nil
	default:
		return false, errors.Errorf("expression must produce a boolean, got %s", v.kind)
	}
}

// EvalError strategy expression could not be evaluated.
type EvalError struct {
	Rule string
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %s rule %q: %v", e.Rule, e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Evaluator turns strategy expressions into entry and exit signals.
type Evaluator struct {
	l      *zap.Logger
	window int

	mu       sync.Mutex
	programs map[string]*Program
}

// NewEvaluator creates an evaluator looking at the last window candles.
func NewEvaluator(l *zap.Logger, window int) *Evaluator {
	if l == nil {
		l = zap.NewNop()
	}
	if window < 1 {
		window = DefaultWindow
	}
	return &Evaluator{
		l:        l,
		window:   window,
		programs: make(map[string]*Program),
	}
}

// Evaluate computes the signal for the most recent candle of frame.
// Any failure yields a signal with both flags false together with the cause,
// so the returned signal is always safe to act on.
func (e *Evaluator) Evaluate(strategy domain.Strategy, frame *indicators.Frame) (domain.Signal, error) {
	tail := frame.Tail(e.window)

	entry, err := e.evalRule("entry", strategy.EntryRules, tail)
	if err != nil {
		e.l.Warn("strategy evaluation failed", zap.Error(err))
		return domain.Signal{}, err
	}
	exit, err := e.evalRule("exit", strategy.ExitRules, tail)
	if err != nil {
		e.l.Warn("strategy evaluation failed", zap.Error(err))
		return domain.Signal{}, err
	}

	return domain.Signal{Entry: entry, Exit: exit}, nil
}

func (e *Evaluator) evalRule(rule, expr string, frame *indicators.Frame) (bool, error) {
	program, err := e.program(expr)
	if err != nil {
		return false, &EvalError{Rule: rule, Expr: expr, Err: err}
	}
	ok, err := program.Eval(frame)
	if err != nil {
		return false, &EvalError{Rule: rule, Expr: expr, Err: err}
	}
	return ok, nil
}

func (e *Evaluator) program(expr string) (*Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[expr]; ok {
		return p, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	e.programs[expr] = p
	return p, nil
}
