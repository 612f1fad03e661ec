package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestFixedSupplyMintedToDeployer(t *testing.T) {
	tok := NewFixedSupplyToken("Fixed Supply Token", deployer, 1_000_000)

	if got, _ := tok.BalanceOf(deployer); got != 1_000_000 {
		t.Errorf("deployer balance = %d, want 1000000", got)
	}
	if got, _ := tok.BalanceOf(alice); got != 0 {
		t.Errorf("stranger balance = %d, want 0", got)
	}
	if tok.TotalSupply() != 1_000_000 {
		t.Errorf("total supply = %d", tok.TotalSupply())
	}
}

func TestTransfer(t *testing.T) {
	tok := NewFixedSupplyToken("T", deployer, 100)

	ok, err := tok.Transfer(deployer, alice, 40)
	if err != nil || !ok {
		t.Fatalf("transfer = %v, %v", ok, err)
	}
	if got, _ := tok.BalanceOf(alice); got != 40 {
		t.Errorf("alice = %d, want 40", got)
	}

	// over-balance transfer is refused with no mutation
	ok, err = tok.Transfer(alice, bob, 41)
	if err != nil {
		t.Fatalf("transfer err = %v", err)
	}
	if ok {
		t.Error("over-balance transfer accepted")
	}
	if got, _ := tok.BalanceOf(alice); got != 40 {
		t.Errorf("refused transfer mutated balance: %d", got)
	}
}

func TestTransferFromRequiresAllowance(t *testing.T) {
	tok := NewFixedSupplyToken("T", deployer, 100)
	tok.Transfer(deployer, alice, 50)

	// no allowance yet
	ok, err := tok.TransferFrom(bob, alice, bob, 10)
	if err != nil || ok {
		t.Fatalf("unapproved transferFrom = %v, %v, want refused", ok, err)
	}

	if ok, _ := tok.Approve(alice, bob, 30); !ok {
		t.Fatal("approve refused")
	}
	ok, err = tok.TransferFrom(bob, alice, bob, 20)
	if err != nil || !ok {
		t.Fatalf("approved transferFrom = %v, %v", ok, err)
	}
	if got := tok.Allowance(alice, bob); got != 10 {
		t.Errorf("remaining allowance = %d, want 10", got)
	}
	if got, _ := tok.BalanceOf(bob); got != 20 {
		t.Errorf("bob = %d, want 20", got)
	}

	// allowance exhausted below the requested amount
	ok, _ = tok.TransferFrom(bob, alice, bob, 11)
	if ok {
		t.Error("transferFrom beyond allowance accepted")
	}
}

func TestTransferFromZeroWithoutApproval(t *testing.T) {
	tok := NewFixedSupplyToken("T", deployer, 100)

	// deployer has never approved anyone; a zero-amount pull must neither
	// panic nor mutate
	ok, err := tok.TransferFrom(bob, deployer, bob, 0)
	if err != nil || !ok {
		t.Fatalf("zero transferFrom = %v, %v", ok, err)
	}
	if got, _ := tok.BalanceOf(deployer); got != 100 {
		t.Errorf("deployer = %d, want 100", got)
	}
	if got, _ := tok.BalanceOf(bob); got != 0 {
		t.Errorf("bob = %d, want 0", got)
	}
	if got := tok.Allowance(deployer, bob); got != 0 {
		t.Errorf("allowance = %d, want 0", got)
	}
}

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()
	tok := NewFixedSupplyToken("T", deployer, 100)
	contract := common.HexToAddress("0x00000000000000000000000000000000000000e0")

	if _, err := r.Add("FIXED", contract, tok); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !r.Has("FIXED") || r.Count() != 1 {
		t.Errorf("registry state after add: has=%v count=%d", r.Has("FIXED"), r.Count())
	}

	if _, err := r.Add("FIXED", contract, tok); !errors.Is(err, ErrDuplicateSymbol) {
		t.Errorf("duplicate add err = %v, want ErrDuplicateSymbol", err)
	}
	if _, err := r.Add("", contract, tok); err == nil {
		t.Error("empty symbol accepted")
	}
	if _, err := r.Add("NIL", contract, nil); err == nil {
		t.Error("nil token accepted")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	tok := NewFixedSupplyToken("T", deployer, 100)
	r.Add("AAA", common.Address{}, tok)
	r.Add("BBB", common.Address{}, tok)

	e, err := r.Get("AAA")
	if err != nil || e.Symbol != "AAA" {
		t.Errorf("get = %v, %v", e, err)
	}
	if _, err := r.Get("ZZZ"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("missing get err = %v, want ErrUnknownSymbol", err)
	}
}

func TestRegistryIndexIsOneBased(t *testing.T) {
	r := NewRegistry()
	tok := NewFixedSupplyToken("T", deployer, 100)
	r.Add("AAA", common.Address{}, tok)
	r.Add("BBB", common.Address{}, tok)

	e, err := r.ByIndex(1)
	if err != nil || e.Symbol != "AAA" {
		t.Errorf("ByIndex(1) = %v, %v, want AAA", e, err)
	}
	e, err = r.ByIndex(2)
	if err != nil || e.Symbol != "BBB" {
		t.Errorf("ByIndex(2) = %v, %v, want BBB", e, err)
	}
	for _, i := range []int{0, 3, -1} {
		if _, err := r.ByIndex(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("ByIndex(%d) err = %v, want ErrIndexOutOfRange", i, err)
		}
	}
}
