// Package token defines the external fungible-token capability the exchange
// escrows against, an in-process fixed-supply implementation of it, and the
// append-only symbol registry.
package token

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the opaque transfer/approve/balance surface of an external token
// contract. The first argument of each mutating call is the acting party
// (the exchange passes its own custody address when it moves escrowed
// funds). A false return without error is a refused transfer; an error is a
// failed boundary call. The exchange treats both as failure and mutates
// nothing of its own state.
type Token interface {
	Transfer(caller, to common.Address, amount int64) (bool, error)
	TransferFrom(caller, from, to common.Address, amount int64) (bool, error)
	Approve(caller, spender common.Address, amount int64) (bool, error)
	BalanceOf(owner common.Address) (int64, error)
}

// FixedSupplyToken is an in-process Token with ERC-20 allowance semantics:
// the whole supply is minted to the deployer and moves only by Transfer or
// approved TransferFrom. Refused transfers return false and mutate nothing.
type FixedSupplyToken struct {
	mu          sync.Mutex
	name        string
	totalSupply int64
	balances    map[common.Address]int64
	allowances  map[common.Address]map[common.Address]int64
}

func NewFixedSupplyToken(name string, deployer common.Address, supply int64) *FixedSupplyToken {
	return &FixedSupplyToken{
		name:        name,
		totalSupply: supply,
		balances:    map[common.Address]int64{deployer: supply},
		allowances:  make(map[common.Address]map[common.Address]int64),
	}
}

func (t *FixedSupplyToken) Name() string       { return t.name }
func (t *FixedSupplyToken) TotalSupply() int64 { return t.totalSupply }

func (t *FixedSupplyToken) Transfer(caller, to common.Address, amount int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount < 0 || t.balances[caller] < amount {
		return false, nil
	}
	t.balances[caller] -= amount
	t.balances[to] += amount
	return true, nil
}

func (t *FixedSupplyToken) TransferFrom(caller, from, to common.Address, amount int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount < 0 || t.balances[from] < amount {
		return false, nil
	}
	if t.allowances[from][caller] < amount {
		return false, nil
	}
	// a nil inner map only passes the allowance check when amount is zero
	if allowed := t.allowances[from]; allowed != nil {
		allowed[caller] -= amount
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return true, nil
}

func (t *FixedSupplyToken) Approve(caller, spender common.Address, amount int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount < 0 {
		return false, nil
	}
	if t.allowances[caller] == nil {
		t.allowances[caller] = make(map[common.Address]int64)
	}
	t.allowances[caller][spender] = amount
	return true, nil
}

func (t *FixedSupplyToken) BalanceOf(owner common.Address) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[owner], nil
}

// Allowance reports how much spender may still move on owner's behalf.
func (t *FixedSupplyToken) Allowance(owner, spender common.Address) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

var _ Token = (*FixedSupplyToken)(nil)
