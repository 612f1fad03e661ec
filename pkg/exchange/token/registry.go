package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDuplicateSymbol = errors.New("symbol already registered")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrIndexOutOfRange = errors.New("token index out of range")
)

// Entry binds a registered symbol to its external contract reference and the
// live capability used to move it. Entries are immutable once registered and
// never removed.
type Entry struct {
	Symbol   string
	Contract common.Address
	Token    Token
}

// Registry is the append-only symbol table. No locking of its own: the
// engine serializes every call.
type Registry struct {
	entries  []*Entry
	bySymbol map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{bySymbol: make(map[string]*Entry)}
}

// Add registers a symbol exactly once.
func (r *Registry) Add(symbol string, contract common.Address, tok Token) (*Entry, error) {
	if symbol == "" {
		return nil, fmt.Errorf("register: empty symbol")
	}
	if tok == nil {
		return nil, fmt.Errorf("register %s: nil token capability", symbol)
	}
	if _, exists := r.bySymbol[symbol]; exists {
		return nil, fmt.Errorf("register %s: %w", symbol, ErrDuplicateSymbol)
	}

	e := &Entry{Symbol: symbol, Contract: contract, Token: tok}
	r.entries = append(r.entries, e)
	r.bySymbol[symbol] = e
	return e, nil
}

// Get returns the entry for symbol.
func (r *Registry) Get(symbol string) (*Entry, error) {
	e, ok := r.bySymbol[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return e, nil
}

func (r *Registry) Has(symbol string) bool {
	_, ok := r.bySymbol[symbol]
	return ok
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int { return len(r.entries) }

// ByIndex returns the i-th registered entry. Indexing is 1-based: the first
// registered token is index 1.
func (r *Registry) ByIndex(i int) (*Entry, error) {
	if i < 1 || i > len(r.entries) {
		return nil, fmt.Errorf("index %d of %d tokens: %w", i, len(r.entries), ErrIndexOutOfRange)
	}
	return r.entries[i-1], nil
}

// List returns the entries in registration order.
func (r *Registry) List() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
