package api

import (
	"github.com/shopspring/decimal"

	"github.com/tspoff/ethexchange/pkg/exchange"
)

// Amounts cross this surface as integers in the asset's smallest unit, the
// same way the engine sees them. Display-unit strings (wei -> ether) are
// attached for convenience; the engine never does decimal scaling.

type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"`
	BestBid  int64  `json:"bestBid"`
	BestAsk  int64  `json:"bestAsk"`
}

type BookSide struct {
	Prices      []int64  `json:"prices"`
	Volumes     []int64  `json:"volumes"`
	PricesEther []string `json:"pricesEther"`
}

type OrderBookResponse struct {
	Symbol string   `json:"symbol"`
	Buys   BookSide `json:"buys"`
	Sells  BookSide `json:"sells"`
}

type BalancesResponse struct {
	Address string           `json:"address"`
	Wei     int64            `json:"wei"`
	Ether   string           `json:"ether"`
	Tokens  map[string]int64 `json:"tokens"`
}

type PlaceOrderRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"` // "buy" or "sell"
	Price   int64  `json:"price"`
	Volume  int64  `json:"volume"`
}

type CancelOrderRequest struct {
	Address    string `json:"address"`
	Symbol     string `json:"symbol"`
	IsSell     bool   `json:"isSell"`
	Price      int64  `json:"price"`
	OrderIndex int    `json:"orderIndex"`
}

type EtherAmountRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type TokenAmountRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Amount  int64  `json:"amount"`
}

// OperationResponse returns the events an engine call emitted; the front
// end re-renders from these.
type OperationResponse struct {
	Events []exchange.Event `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// weiToEther renders a wei amount as a decimal ether string.
func weiToEther(wei int64) string {
	return decimal.NewFromInt(wei).Shift(-18).String()
}

func etherStrings(wei []int64) []string {
	out := make([]string, len(wei))
	for i, w := range wei {
		out[i] = weiToEther(w)
	}
	return out
}
