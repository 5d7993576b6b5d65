package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
)

const defaultStateDir = "./wal/simulate"

// Store persists the simulated wallet per trading pair so restarts keep balances.
type Store struct {
	path string
}

// NewStore creates a simulator state store for the given pair under dir.
func NewStore(dir string, pair domain.Pair) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	name := fmt.Sprintf("%s.json", strings.ToLower(pair.String()))

	return &Store{path: filepath.Join(dir, name)}, nil
}

// State all persisted simulator data.
type State struct {
	Pair      string            `json:"pair"`
	Wallet    map[string]string `json:"wallet"`
	NextOrder int64             `json:"next_order"`
}

// Balances decodes the wallet.
func (s *State) Balances() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(s.Wallet))
	for asset, raw := range s.Wallet {
		if raw == "" {
			out[asset] = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s balance", asset)
		}
		out[asset] = v
	}
	return out, nil
}

// NewState encodes a wallet.
func NewState(pair domain.Pair, wallet map[string]decimal.Decimal, nextOrder int64) State {
	state := State{
		Pair:      pair.String(),
		Wallet:    make(map[string]string, len(wallet)),
		NextOrder: nextOrder,
	}
	for asset, balance := range wallet {
		state.Wallet[asset] = balance.String()
	}
	return state
}

// Load reads simulator state from disk. A missing file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read simulate state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode simulate state")
	}

	return &state, nil
}

// Save writes simulator state to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}
