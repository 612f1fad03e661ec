package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names every state-changing operation the engine records.
type EventType string

const (
	TokenAddedToSystem      EventType = "TokenAddedToSystem"
	DepositForEthReceived   EventType = "DepositForEthReceived"
	WithdrawalEth           EventType = "WithdrawalEth"
	DepositForTokenReceived EventType = "DepositForTokenReceived"
	WithdrawalToken         EventType = "WithdrawalToken"
	LimitBuyOrderCreated    EventType = "LimitBuyOrderCreated"
	LimitSellOrderCreated   EventType = "LimitSellOrderCreated"
	BuyOrderFulfilled       EventType = "BuyOrderFulfilled"
	SellOrderFulfilled      EventType = "SellOrderFulfilled"
	BuyOrderCanceled        EventType = "BuyOrderCanceled"
	SellOrderCanceled       EventType = "SellOrderCanceled"
)

// Event is one record in the append-only log. Field usage by type:
//   - deposits/withdrawals: User, Amount (and Symbol for tokens)
//   - Limit*OrderCreated: User, Price, Volume, OrderIndex — (Price,
//     OrderIndex) is the order key for cancellation
//   - *OrderFulfilled: User is the taker, Maker the resting owner, Price the
//     resting order's price, Volume the consumed amount
//   - *OrderCanceled: User, Price, Volume (the volume released), OrderIndex
type Event struct {
	Seq        uint64         `json:"seq"`
	Type       EventType      `json:"type"`
	Symbol     string         `json:"symbol,omitempty"`
	User       common.Address `json:"user"`
	Maker      common.Address `json:"maker"`
	Amount     int64          `json:"amount,omitempty"`
	Price      int64          `json:"price,omitempty"`
	Volume     int64          `json:"volume,omitempty"`
	OrderIndex int            `json:"orderIndex,omitempty"`
	Timestamp  int64          `json:"ts"`
}

const eventPrefix = "evt:"

// eventKey is the Pebble key for a persisted event. The sequence number is
// zero-padded so key order is log order.
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(eventPrefix+"%020d", seq))
}

// loadEvents restores the persisted log on startup. The sequence counter
// resumes past the highest stored entry so new events append instead of
// overwriting what an earlier run wrote.
func (x *Exchange) loadEvents() error {
	return x.store.ScanPrefix([]byte(eventPrefix), func(key, value []byte) error {
		var e Event
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode event %s: %w", key, err)
		}
		x.events = append(x.events, e)
		if e.Seq > x.eventSeq {
			x.eventSeq = e.Seq
		}
		return nil
	})
}

// Events returns a snapshot of the event log from sinceSeq (exclusive).
// Pass 0 for the whole log.
func (x *Exchange) Events(sinceSeq uint64) []Event {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []Event
	for _, e := range x.events {
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers a live event feed. Events are dropped for subscribers
// whose buffer is full. The returned cancel func releases the subscription.
func (x *Exchange) Subscribe(buffer int) (<-chan Event, func()) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.subID++
	id := x.subID
	ch := make(chan Event, buffer)
	x.subs[id] = ch

	cancel := func() {
		x.mu.Lock()
		defer x.mu.Unlock()
		if sub, ok := x.subs[id]; ok {
			delete(x.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
