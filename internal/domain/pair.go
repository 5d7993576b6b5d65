// Package domain defines core data structures used throughout the trading bot.
package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the string representation.
func (p *Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation.
func (p *Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// PairFromSymbol splits an exchange symbol such as ETHUSDT into base and quote legs.
func PairFromSymbol(symbol, quote string) (Pair, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		return Pair{}, errors.New("quote asset is required")
	}

	if strings.Contains(symbol, "_") {
		parts := strings.Split(symbol, "_")
		if len(parts) != 2 || parts[0] == "" || parts[1] != quote {
			return Pair{}, errors.Errorf("invalid pair %q for quote asset %s", symbol, quote)
		}
		return Pair{From: parts[0], To: parts[1]}, nil
	}

	base, ok := strings.CutSuffix(symbol, quote)
	if !ok || base == "" {
		return Pair{}, errors.Errorf("symbol %q is not quoted in %s", symbol, quote)
	}

	return Pair{From: base, To: quote}, nil
}
