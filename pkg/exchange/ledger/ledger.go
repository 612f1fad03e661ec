// Package ledger tracks the balances the exchange holds in escrow: one
// native-asset (wei) balance per account and one balance per account per
// registered token symbol.
package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tspoff/ethexchange/pkg/storage"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Account is one user's escrowed holdings. Balances are smallest-unit
// integers and never negative.
type Account struct {
	Address common.Address   `json:"address"`
	Wei     int64            `json:"wei"`
	Tokens  map[string]int64 `json:"tokens"`
}

func newAccount(addr common.Address) *Account {
	return &Account{Address: addr, Tokens: make(map[string]int64)}
}

// Ledger is the in-memory balance book, optionally backed by a Pebble store.
// It does no locking of its own: the engine serializes every call.
type Ledger struct {
	accounts map[common.Address]*Account
	store    *storage.Store // nil for memory-only operation
}

func New(store *storage.Store) *Ledger {
	return &Ledger{
		accounts: make(map[common.Address]*Account),
		store:    store,
	}
}

// account returns the ledger entry for addr, loading it from the store on
// first touch and creating a zero entry if it has never been seen.
func (l *Ledger) account(addr common.Address) *Account {
	if acc, ok := l.accounts[addr]; ok {
		return acc
	}

	acc := newAccount(addr)
	if l.store != nil {
		found, err := l.store.GetJSON(accountKey(addr), acc)
		if err != nil || !found {
			acc = newAccount(addr)
		}
		if acc.Tokens == nil {
			acc.Tokens = make(map[string]int64)
		}
	}
	l.accounts[addr] = acc
	return acc
}

// EthBalance returns addr's escrowed native balance in wei.
func (l *Ledger) EthBalance(addr common.Address) int64 {
	return l.account(addr).Wei
}

// TokenBalance returns addr's escrowed balance for symbol.
func (l *Ledger) TokenBalance(addr common.Address, symbol string) int64 {
	return l.account(addr).Tokens[symbol]
}

// CreditEth adds amount of wei to addr. amount must be non-negative; the
// engine validates inputs before any credit.
func (l *Ledger) CreditEth(addr common.Address, amount int64) {
	l.account(addr).Wei += amount
}

// DebitEth removes amount of wei from addr, failing with
// ErrInsufficientBalance and no mutation if the balance cannot cover it.
func (l *Ledger) DebitEth(addr common.Address, amount int64) error {
	acc := l.account(addr)
	if acc.Wei < amount {
		return fmt.Errorf("debit %d wei from %s (have %d): %w", amount, addr.Hex(), acc.Wei, ErrInsufficientBalance)
	}
	acc.Wei -= amount
	return nil
}

// CreditToken adds amount of symbol to addr.
func (l *Ledger) CreditToken(addr common.Address, symbol string, amount int64) {
	l.account(addr).Tokens[symbol] += amount
}

// DebitToken removes amount of symbol from addr, failing with
// ErrInsufficientBalance and no mutation if the balance cannot cover it.
func (l *Ledger) DebitToken(addr common.Address, symbol string, amount int64) error {
	acc := l.account(addr)
	if acc.Tokens[symbol] < amount {
		return fmt.Errorf("debit %d %s from %s (have %d): %w", amount, symbol, addr.Hex(), acc.Tokens[symbol], ErrInsufficientBalance)
	}
	acc.Tokens[symbol] -= amount
	return nil
}

// TransferEth moves wei between accounts as debit-then-credit. If the debit
// fails the credit never happens.
func (l *Ledger) TransferEth(from, to common.Address, amount int64) error {
	if err := l.DebitEth(from, amount); err != nil {
		return err
	}
	l.CreditEth(to, amount)
	return nil
}

// TransferToken moves token units between accounts as debit-then-credit.
func (l *Ledger) TransferToken(symbol string, from, to common.Address, amount int64) error {
	if err := l.DebitToken(from, symbol, amount); err != nil {
		return err
	}
	l.CreditToken(to, symbol, amount)
	return nil
}

// TotalEth sums all escrowed wei across loaded accounts.
func (l *Ledger) TotalEth() int64 {
	var total int64
	for _, acc := range l.accounts {
		total += acc.Wei
	}
	return total
}

// TotalToken sums all escrowed units of symbol across loaded accounts.
func (l *Ledger) TotalToken(symbol string) int64 {
	var total int64
	for _, acc := range l.accounts {
		total += acc.Tokens[symbol]
	}
	return total
}

// Persist adds the given accounts' current state to a storage batch. The
// caller commits the batch after the whole operation has succeeded.
func (l *Ledger) Persist(b *storage.Batch, addrs ...common.Address) error {
	for _, addr := range addrs {
		acc, ok := l.accounts[addr]
		if !ok {
			continue
		}
		if err := b.SetJSON(accountKey(addr), acc); err != nil {
			return fmt.Errorf("persist account %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

// accountKey is the Pebble key for an account snapshot.
// Format: "acc:{address}"
func accountKey(addr common.Address) []byte {
	return []byte("acc:" + addr.Hex())
}
