package exchange

import (
	"errors"

	"github.com/tspoff/ethexchange/pkg/exchange/ledger"
	"github.com/tspoff/ethexchange/pkg/exchange/orderbook"
	"github.com/tspoff/ethexchange/pkg/exchange/token"
)

// The full failure taxonomy of the operation surface. Sub-packages own the
// errors they raise; they are re-exported here so callers match against one
// set with errors.Is. Every failure aborts the whole call with no partial
// mutation.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrExternalTransferFailed = errors.New("external token transfer failed")
	ErrExternalPayoutFailed   = errors.New("external payout failed")

	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrUnknownSymbol       = token.ErrUnknownSymbol
	ErrDuplicateSymbol     = token.ErrDuplicateSymbol
	ErrIndexOutOfRange     = token.ErrIndexOutOfRange
	ErrOrderNotFound       = orderbook.ErrOrderNotFound
	ErrNotOwner            = orderbook.ErrNotOwner
)
