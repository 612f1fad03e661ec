// Package orderbook implements a two-sided limit order book with
// index-stable price levels.
//
// Levels are kept in a price-sorted vector per side; each level holds an
// append-only FIFO queue of orders. Orders addressed from outside by
// key (price, queue index), so queue slots are never compacted: a matched-out
// or canceled order stays in place with zero volume and is skipped on later
// scans. A level drained to zero by matching is pruned from the vector; a
// level zeroed by cancellation stays enumerable at volume 0.
package orderbook

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNotOwner      = errors.New("not order owner")
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s Side) Opposite() Side { return -s }

// Order is one resting limit order. Volume reaches zero through matching or
// cancellation; the slot itself stays in its level queue.
type Order struct {
	Price    int64
	Volume   int64
	Owner    common.Address
	Sequence uint64 // insertion counter, FIFO tie-break within a level
}

// PriceLevel is the FIFO queue of all resting orders at one price.
// AggregateVolume caches the sum of live order volumes in Queue.
type PriceLevel struct {
	Price           int64
	Queue           []Order
	AggregateVolume int64
}

// OrderKey addresses a resting order for cancellation.
type OrderKey struct {
	Price int64
	Index int // position in the level's queue, stable for the book's lifetime
}

// Fill is one planned match against a resting order, priced at the resting
// order's limit.
type Fill struct {
	Maker         common.Address
	MakerSequence uint64
	Price         int64 // resting order's price, the execution price
	Volume        int64

	// plan-time position of the resting order, consumed by ApplyFills
	level int
	pos   int
}

// Book holds both sides for one symbol. Not safe for concurrent use; the
// engine serializes all calls.
type Book struct {
	buys    []*PriceLevel // ascending by price
	sells   []*PriceLevel // ascending by price
	nextSeq uint64
}

func New() *Book {
	return &Book{}
}

func (b *Book) levels(s Side) *[]*PriceLevel {
	if s == Buy {
		return &b.buys
	}
	return &b.sells
}

// PlanFills walks the side opposite the taker in price-time priority and
// returns the fills a taker order (limit, volume) would produce, plus the
// volume left unmatched. The book is not mutated; pass the plan to
// ApplyFills to execute it.
//
// A buy consumes the lowest-priced asks at or below its limit first; a sell
// consumes the highest-priced bids at or above its limit first. Within a
// level orders are consumed in insertion order. Zero-volume tombstones and
// zero-aggregate phantom levels are skipped.
func (b *Book) PlanFills(taker Side, limit, volume int64) ([]Fill, int64) {
	var fills []Fill
	remaining := volume

	scan := func(li int, lvl *PriceLevel) {
		for qi := 0; qi < len(lvl.Queue) && remaining > 0; qi++ {
			o := &lvl.Queue[qi]
			if o.Volume == 0 {
				continue
			}
			matched := min(remaining, o.Volume)
			fills = append(fills, Fill{
				Maker:         o.Owner,
				MakerSequence: o.Sequence,
				Price:         lvl.Price,
				Volume:        matched,
				level:         li,
				pos:           qi,
			})
			remaining -= matched
		}
	}

	if taker == Buy {
		for li := 0; li < len(b.sells) && remaining > 0; li++ {
			lvl := b.sells[li]
			if lvl.Price > limit {
				break
			}
			if lvl.AggregateVolume == 0 {
				continue
			}
			scan(li, lvl)
		}
	} else {
		for li := len(b.buys) - 1; li >= 0 && remaining > 0; li-- {
			lvl := b.buys[li]
			if lvl.Price < limit {
				break
			}
			if lvl.AggregateVolume == 0 {
				continue
			}
			scan(li, lvl)
		}
	}
	return fills, remaining
}

// ApplyFills executes a plan produced by PlanFills with no intervening
// mutation. Consumed volume is deducted from each resting order and its
// level's aggregate; levels drained to zero by this consumption are pruned.
// Levels that were already at zero aggregate (cancellation phantoms) are
// left alone.
func (b *Book) ApplyFills(taker Side, fills []Fill) {
	side := b.levels(taker.Opposite())

	drained := make(map[*PriceLevel]bool)
	for _, f := range fills {
		lvl := (*side)[f.level]
		lvl.Queue[f.pos].Volume -= f.Volume
		lvl.AggregateVolume -= f.Volume
		if lvl.AggregateVolume == 0 {
			drained[lvl] = true
		}
	}
	if len(drained) == 0 {
		return
	}

	kept := make([]*PriceLevel, 0, len(*side))
	for _, lvl := range *side {
		if !drained[lvl] {
			kept = append(kept, lvl)
		}
	}
	*side = kept
}

// Insert rests a new order, merging into the exact-price level if one exists
// (phantom levels included) or creating a level in sorted position. Returns
// the order's key.
func (b *Book) Insert(s Side, price, volume int64, owner common.Address) OrderKey {
	side := b.levels(s)
	b.nextSeq++
	o := Order{Price: price, Volume: volume, Owner: owner, Sequence: b.nextSeq}

	i := sort.Search(len(*side), func(i int) bool { return (*side)[i].Price >= price })
	if i < len(*side) && (*side)[i].Price == price {
		lvl := (*side)[i]
		lvl.Queue = append(lvl.Queue, o)
		lvl.AggregateVolume += volume
		return OrderKey{Price: price, Index: len(lvl.Queue) - 1}
	}

	lvl := &PriceLevel{Price: price, Queue: []Order{o}, AggregateVolume: volume}
	*side = append(*side, nil)
	copy((*side)[i+1:], (*side)[i:])
	(*side)[i] = lvl
	return OrderKey{Price: price, Index: 0}
}

// Cancel zeroes the order at (price, index) on the given side and deducts its
// prior volume from the level aggregate. The queue slot and the level remain
// in place even at zero aggregate, so later keys stay valid. Returns the
// canceled volume.
func (b *Book) Cancel(s Side, owner common.Address, price int64, index int) (int64, error) {
	side := *b.levels(s)
	i := sort.Search(len(side), func(i int) bool { return side[i].Price >= price })
	if i >= len(side) || side[i].Price != price {
		return 0, ErrOrderNotFound
	}
	lvl := side[i]
	if index < 0 || index >= len(lvl.Queue) {
		return 0, ErrOrderNotFound
	}
	o := &lvl.Queue[index]
	if o.Volume == 0 {
		// already matched out or canceled
		return 0, ErrOrderNotFound
	}
	if o.Owner != owner {
		return 0, ErrNotOwner
	}

	prior := o.Volume
	o.Volume = 0
	lvl.AggregateVolume -= prior
	return prior, nil
}

// Levels reports the side as parallel price and aggregate-volume slices in
// level order (ascending by price), phantom levels included.
func (b *Book) Levels(s Side) (prices, volumes []int64) {
	side := *b.levels(s)
	prices = make([]int64, len(side))
	volumes = make([]int64, len(side))
	for i, lvl := range side {
		prices[i] = lvl.Price
		volumes[i] = lvl.AggregateVolume
	}
	return prices, volumes
}

// LevelCount returns the number of levels on a side, phantoms included.
func (b *Book) LevelCount(s Side) int {
	return len(*b.levels(s))
}

// BestBid returns the highest bid price with live volume.
func (b *Book) BestBid() (int64, bool) {
	for i := len(b.buys) - 1; i >= 0; i-- {
		if b.buys[i].AggregateVolume > 0 {
			return b.buys[i].Price, true
		}
	}
	return 0, false
}

// BestAsk returns the lowest ask price with live volume.
func (b *Book) BestAsk() (int64, bool) {
	for _, lvl := range b.sells {
		if lvl.AggregateVolume > 0 {
			return lvl.Price, true
		}
	}
	return 0, false
}
