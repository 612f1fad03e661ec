// Package exchange is the operation surface of the on-chain exchange: it
// escrows ether and registered tokens in a balance ledger and matches limit
// orders against per-symbol order books. Every operation is one atomic call:
// inputs and balances are validated first, then book and ledger mutate
// together, events are appended, and the new state is returned. Any failure
// aborts the call with nothing changed.
package exchange

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tspoff/ethexchange/pkg/exchange/ledger"
	"github.com/tspoff/ethexchange/pkg/exchange/orderbook"
	"github.com/tspoff/ethexchange/pkg/exchange/token"
	"github.com/tspoff/ethexchange/pkg/storage"
)

// PayoutFunc pays withdrawn ether out to its owner. A non-nil error fails
// the withdrawal and the ledger debit is rolled back.
type PayoutFunc func(to common.Address, amount int64) error

// Options configures an Exchange.
type Options struct {
	// Address is the custody identity the engine uses when it calls
	// external token contracts (the transferFrom recipient on deposits,
	// the transfer sender on withdrawals).
	Address common.Address

	// Store persists accounts and events. Nil runs memory-only.
	Store *storage.Store

	// Payout is the native-asset payout boundary. Nil always succeeds.
	Payout PayoutFunc

	Logger *zap.SugaredLogger
}

// Exchange holds all engine state. One mutex serializes the whole operation
// surface: a call fully commits or fully fails before the next is observed.
type Exchange struct {
	mu sync.Mutex

	addr     common.Address
	ledger   *ledger.Ledger
	registry *token.Registry
	books    map[string]*orderbook.Book
	payout   PayoutFunc
	store    *storage.Store
	log      *zap.SugaredLogger

	events   []Event
	eventSeq uint64
	subs     map[int]chan Event
	subID    int
}

func New(opts Options) *Exchange {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	x := &Exchange{
		addr:     opts.Address,
		ledger:   ledger.New(opts.Store),
		registry: token.NewRegistry(),
		books:    make(map[string]*orderbook.Book),
		payout:   opts.Payout,
		store:    opts.Store,
		log:      logger,
		subs:     make(map[int]chan Event),
	}
	if x.store != nil {
		if err := x.loadEvents(); err != nil {
			logger.Warnw("event_log_load_failed", "err", err)
		}
	}
	return x
}

// Address returns the engine's custody address.
func (x *Exchange) Address() common.Address { return x.addr }

// Close releases the backing store, if any.
func (x *Exchange) Close() error {
	if x.store != nil {
		return x.store.Close()
	}
	return nil
}

// ==============================
// Token registry
// ==============================

// AddToken registers a symbol with its external contract. Symbols register
// exactly once and are never removed.
func (x *Exchange) AddToken(caller common.Address, symbol string, contract common.Address, tok token.Token) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.registry.Add(symbol, contract, tok); err != nil {
		return nil, err
	}

	x.log.Infow("token_added", "symbol", symbol, "contract", contract.Hex())
	return x.commit(nil, []Event{{
		Type:   TokenAddedToSystem,
		Symbol: symbol,
		User:   caller,
	}}), nil
}

func (x *Exchange) HasToken(symbol string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.registry.Has(symbol)
}

func (x *Exchange) NumTokens() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.registry.Count()
}

// TokenInfoByIndex returns the i-th registered token, 1-based.
func (x *Exchange) TokenInfoByIndex(i int) (string, common.Address, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, err := x.registry.ByIndex(i)
	if err != nil {
		return "", common.Address{}, err
	}
	return e.Symbol, e.Contract, nil
}

// ListTokens returns registered tokens in registration order.
func (x *Exchange) ListTokens() []*token.Entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.registry.List()
}

// ==============================
// Deposits and withdrawals
// ==============================

// DepositEther credits the caller's escrow with exactly the attached amount.
func (x *Exchange) DepositEther(caller common.Address, amount int64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if amount < 0 {
		return nil, fmt.Errorf("deposit %d wei: %w", amount, ErrInvalidAmount)
	}

	x.ledger.CreditEth(caller, amount)
	x.log.Infow("eth_deposited", "user", caller.Hex(), "wei", amount)
	return x.commit([]common.Address{caller}, []Event{{
		Type:   DepositForEthReceived,
		User:   caller,
		Amount: amount,
	}}), nil
}

// WithdrawEther debits the caller's escrow, then pays out through the
// payout boundary. A failed payout rolls the debit back.
func (x *Exchange) WithdrawEther(caller common.Address, amount int64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if amount < 0 {
		return nil, fmt.Errorf("withdraw %d wei: %w", amount, ErrInvalidAmount)
	}
	if err := x.ledger.DebitEth(caller, amount); err != nil {
		return nil, err
	}
	if x.payout != nil {
		if err := x.payout(caller, amount); err != nil {
			x.ledger.CreditEth(caller, amount) // roll the debit back
			return nil, fmt.Errorf("payout %d wei to %s: %w: %v", amount, caller.Hex(), ErrExternalPayoutFailed, err)
		}
	}

	x.log.Infow("eth_withdrawn", "user", caller.Hex(), "wei", amount)
	return x.commit([]common.Address{caller}, []Event{{
		Type:   WithdrawalEth,
		User:   caller,
		Amount: amount,
	}}), nil
}

// DepositToken pulls amount from the caller through the external token's
// transferFrom (the caller must have approved the engine) and credits the
// caller's escrow only after the external call confirmed success.
func (x *Exchange) DepositToken(caller common.Address, symbol string, amount int64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if amount < 0 {
		return nil, fmt.Errorf("deposit %d %s: %w", amount, symbol, ErrInvalidAmount)
	}
	entry, err := x.registry.Get(symbol)
	if err != nil {
		return nil, err
	}

	ok, err := entry.Token.TransferFrom(x.addr, caller, x.addr, amount)
	if err != nil || !ok {
		if err != nil {
			return nil, fmt.Errorf("transferFrom %d %s: %w: %v", amount, symbol, ErrExternalTransferFailed, err)
		}
		return nil, fmt.Errorf("transferFrom %d %s refused: %w", amount, symbol, ErrExternalTransferFailed)
	}

	x.ledger.CreditToken(caller, symbol, amount)
	x.log.Infow("token_deposited", "user", caller.Hex(), "symbol", symbol, "amount", amount)
	return x.commit([]common.Address{caller}, []Event{{
		Type:   DepositForTokenReceived,
		Symbol: symbol,
		User:   caller,
		Amount: amount,
	}}), nil
}

// WithdrawToken debits the caller's escrow, then sends the units out through
// the external token. A failed or refused external transfer rolls the debit
// back.
func (x *Exchange) WithdrawToken(caller common.Address, symbol string, amount int64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if amount < 0 {
		return nil, fmt.Errorf("withdraw %d %s: %w", amount, symbol, ErrInvalidAmount)
	}
	entry, err := x.registry.Get(symbol)
	if err != nil {
		return nil, err
	}
	if err := x.ledger.DebitToken(caller, symbol, amount); err != nil {
		return nil, err
	}

	ok, err := entry.Token.Transfer(x.addr, caller, amount)
	if err != nil || !ok {
		x.ledger.CreditToken(caller, symbol, amount) // roll the debit back
		if err != nil {
			return nil, fmt.Errorf("transfer %d %s: %w: %v", amount, symbol, ErrExternalPayoutFailed, err)
		}
		return nil, fmt.Errorf("transfer %d %s refused: %w", amount, symbol, ErrExternalPayoutFailed)
	}

	x.log.Infow("token_withdrawn", "user", caller.Hex(), "symbol", symbol, "amount", amount)
	return x.commit([]common.Address{caller}, []Event{{
		Type:   WithdrawalToken,
		Symbol: symbol,
		User:   caller,
		Amount: amount,
	}}), nil
}

// ==============================
// Matching
// ==============================

// BuyToken places a limit buy. It consumes resting sells priced at or below
// the limit, lowest first, settling each fill at the resting order's price;
// any unmatched volume rests on the buy side.
func (x *Exchange) BuyToken(caller common.Address, symbol string, price, volume int64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.validateOrder(symbol, price, volume); err != nil {
		return nil, err
	}
	cost := price * volume
	if x.ledger.EthBalance(caller) < cost {
		return nil, fmt.Errorf("buy %d %s at %d needs %d wei: %w", volume, symbol, price, cost, ErrInsufficientBalance)
	}

	book := x.book(symbol)
	fills, remaining := book.PlanFills(orderbook.Buy, price, volume)

	// Token escrow is not locked at placement time, so a resting seller may
	// no longer cover its order. Validate the whole plan before mutating.
	need := make(map[common.Address]int64)
	for _, f := range fills {
		need[f.Maker] += f.Volume
	}
	for maker, vol := range need {
		if x.ledger.TokenBalance(maker, symbol) < vol {
			return nil, fmt.Errorf("resting seller %s cannot deliver %d %s: %w", maker.Hex(), vol, symbol, ErrInsufficientBalance)
		}
	}

	book.ApplyFills(orderbook.Buy, fills)

	evts := make([]Event, 0, len(fills)+1)
	touched := []common.Address{caller}
	for _, f := range fills {
		if err := x.ledger.TransferEth(caller, f.Maker, f.Price*f.Volume); err != nil {
			return nil, err
		}
		if err := x.ledger.TransferToken(symbol, f.Maker, caller, f.Volume); err != nil {
			return nil, err
		}
		touched = append(touched, f.Maker)
		evts = append(evts, Event{
			Type:   SellOrderFulfilled,
			Symbol: symbol,
			User:   caller,
			Maker:  f.Maker,
			Price:  f.Price,
			Volume: f.Volume,
		})
	}

	if remaining > 0 {
		key := book.Insert(orderbook.Buy, price, remaining, caller)
		evts = append(evts, Event{
			Type:       LimitBuyOrderCreated,
			Symbol:     symbol,
			User:       caller,
			Price:      key.Price,
			Volume:     remaining,
			OrderIndex: key.Index,
		})
	}

	x.log.Infow("buy_placed",
		"user", caller.Hex(), "symbol", symbol,
		"price", price, "volume", volume,
		"fills", len(fills), "resting", remaining)
	return x.commit(touched, evts), nil
}

// SellToken places a limit sell. It consumes resting buys priced at or above
// the limit, highest first, settling each fill at the resting order's price;
// any unmatched volume rests on the sell side.
func (x *Exchange) SellToken(caller common.Address, symbol string, price, volume int64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.validateOrder(symbol, price, volume); err != nil {
		return nil, err
	}
	if x.ledger.TokenBalance(caller, symbol) < volume {
		return nil, fmt.Errorf("sell %d %s: %w", volume, symbol, ErrInsufficientBalance)
	}

	book := x.book(symbol)
	fills, remaining := book.PlanFills(orderbook.Sell, price, volume)

	// Resting buyers' wei is not locked either; validate the plan first.
	// Each fill's cost fit in int64 when its order was placed, but the sum
	// over a maker's orders can still overflow.
	need := make(map[common.Address]int64)
	for _, f := range fills {
		cost := f.Price * f.Volume
		if need[f.Maker] > math.MaxInt64-cost {
			return nil, fmt.Errorf("resting buyer %s owes more wei than the ledger can hold: %w", f.Maker.Hex(), ErrInsufficientBalance)
		}
		need[f.Maker] += cost
	}
	for maker, wei := range need {
		if x.ledger.EthBalance(maker) < wei {
			return nil, fmt.Errorf("resting buyer %s cannot pay %d wei: %w", maker.Hex(), wei, ErrInsufficientBalance)
		}
	}

	book.ApplyFills(orderbook.Sell, fills)

	evts := make([]Event, 0, len(fills)+1)
	touched := []common.Address{caller}
	for _, f := range fills {
		if err := x.ledger.TransferEth(f.Maker, caller, f.Price*f.Volume); err != nil {
			return nil, err
		}
		if err := x.ledger.TransferToken(symbol, caller, f.Maker, f.Volume); err != nil {
			return nil, err
		}
		touched = append(touched, f.Maker)
		evts = append(evts, Event{
			Type:   BuyOrderFulfilled,
			Symbol: symbol,
			User:   caller,
			Maker:  f.Maker,
			Price:  f.Price,
			Volume: f.Volume,
		})
	}

	if remaining > 0 {
		key := book.Insert(orderbook.Sell, price, remaining, caller)
		evts = append(evts, Event{
			Type:       LimitSellOrderCreated,
			Symbol:     symbol,
			User:       caller,
			Price:      key.Price,
			Volume:     remaining,
			OrderIndex: key.Index,
		})
	}

	x.log.Infow("sell_placed",
		"user", caller.Hex(), "symbol", symbol,
		"price", price, "volume", volume,
		"fills", len(fills), "resting", remaining)
	return x.commit(touched, evts), nil
}

// CancelOrder zeroes the caller's resting order addressed by its key
// (price, orderIndex) on the given side. The queue slot and the price level
// stay in place; no funds move.
func (x *Exchange) CancelOrder(caller common.Address, symbol string, isSell bool, price int64, orderIndex int) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	book, ok := x.books[symbol]
	if !ok {
		return nil, fmt.Errorf("no %s book: %w", symbol, ErrOrderNotFound)
	}

	side := orderbook.Buy
	evType := BuyOrderCanceled
	if isSell {
		side = orderbook.Sell
		evType = SellOrderCanceled
	}

	prior, err := book.Cancel(side, caller, price, orderIndex)
	if err != nil {
		return nil, err
	}

	x.log.Infow("order_canceled",
		"user", caller.Hex(), "symbol", symbol,
		"side", side.String(), "price", price, "index", orderIndex)
	return x.commit(nil, []Event{{
		Type:       evType,
		Symbol:     symbol,
		User:       caller,
		Price:      price,
		Volume:     prior,
		OrderIndex: orderIndex,
	}}), nil
}

// ==============================
// Queries
// ==============================

// GetBuyOrderBook returns the buy side as parallel price and aggregate
// volume slices in level order, zero-volume phantom levels included.
func (x *Exchange) GetBuyOrderBook(symbol string) ([]int64, []int64, error) {
	return x.orderBookSide(symbol, orderbook.Buy)
}

// GetSellOrderBook returns the sell side as parallel price and aggregate
// volume slices in level order, zero-volume phantom levels included.
func (x *Exchange) GetSellOrderBook(symbol string) ([]int64, []int64, error) {
	return x.orderBookSide(symbol, orderbook.Sell)
}

func (x *Exchange) orderBookSide(symbol string, side orderbook.Side) ([]int64, []int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.registry.Has(symbol) {
		return nil, nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	book, ok := x.books[symbol]
	if !ok {
		return []int64{}, []int64{}, nil
	}
	prices, volumes := book.Levels(side)
	return prices, volumes, nil
}

// GetBalance returns the caller's escrowed balance for symbol.
func (x *Exchange) GetBalance(caller common.Address, symbol string) (int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.registry.Has(symbol) {
		return 0, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return x.ledger.TokenBalance(caller, symbol), nil
}

// GetEthBalanceInWei returns the caller's escrowed native balance.
func (x *Exchange) GetEthBalanceInWei(caller common.Address) int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ledger.EthBalance(caller)
}

// BestPrices returns the best live bid and ask for symbol (zero when a side
// is empty).
func (x *Exchange) BestPrices(symbol string) (bid, ask int64, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.registry.Has(symbol) {
		return 0, 0, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	if book, ok := x.books[symbol]; ok {
		bid, _ = book.BestBid()
		ask, _ = book.BestAsk()
	}
	return bid, ask, nil
}

// ==============================
// Internals
// ==============================

func (x *Exchange) validateOrder(symbol string, price, volume int64) error {
	if price <= 0 || volume <= 0 {
		return fmt.Errorf("price %d, volume %d: %w", price, volume, ErrInvalidAmount)
	}
	if price > math.MaxInt64/volume {
		return fmt.Errorf("price %d * volume %d overflows: %w", price, volume, ErrInvalidAmount)
	}
	if !x.registry.Has(symbol) {
		return fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return nil
}

func (x *Exchange) book(symbol string) *orderbook.Book {
	b, ok := x.books[symbol]
	if !ok {
		b = orderbook.New()
		x.books[symbol] = b
	}
	return b
}

// commit stamps and appends the events of a completed operation, persists
// the touched accounts and the events in one batch, and feeds subscribers.
// Called with the engine lock held, after all in-memory mutation succeeded.
func (x *Exchange) commit(touched []common.Address, evts []Event) []Event {
	now := time.Now().UnixMilli()
	for i := range evts {
		x.eventSeq++
		evts[i].Seq = x.eventSeq
		evts[i].Timestamp = now
	}
	x.events = append(x.events, evts...)

	if x.store != nil {
		batch := x.store.NewBatch()
		err := x.ledger.Persist(batch, touched...)
		if err == nil {
			for _, e := range evts {
				if err = batch.SetJSON(eventKey(e.Seq), e); err != nil {
					break
				}
			}
		}
		if err == nil {
			err = batch.Commit()
		} else {
			batch.Close()
		}
		if err != nil {
			// in-memory state is authoritative; persistence lag is logged
			x.log.Warnw("persist_failed", "err", err)
		}
	}

	for _, sub := range x.subs {
		for _, e := range evts {
			select {
			case sub <- e:
			default:
			}
		}
	}
	return evts
}
