package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tspoff/ethexchange/pkg/exchange"
	"github.com/tspoff/ethexchange/pkg/exchange/token"
)

const finney = 1_000_000_000_000_000

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000e7c4e")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestServer(t *testing.T) (*Server, *exchange.Exchange) {
	t.Helper()

	eng := exchange.New(exchange.Options{Address: custody})
	tok := token.NewFixedSupplyToken("Fixed Supply Token", alice, 1_000_000)
	if _, err := eng.AddToken(custody, "FIXED", common.Address{}, tok); err != nil {
		t.Fatalf("add token: %v", err)
	}
	tok.Approve(alice, custody, 1_000_000)
	return NewServer(eng, nil), eng
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListTokens(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/tokens", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	tokens := decode[[]TokenInfo](t, rec)
	if len(tokens) != 1 || tokens[0].Symbol != "FIXED" {
		t.Errorf("tokens = %+v", tokens)
	}
}

func TestGetTokenUnknownIs404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/tokens/NOPE", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDepositAndBalances(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/deposits/ether", EtherAmountRequest{
		Address: bob.Hex(), Amount: 3 * finney,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d: %s", rec.Code, rec.Body.String())
	}
	op := decode[OperationResponse](t, rec)
	if len(op.Events) != 1 || op.Events[0].Type != exchange.DepositForEthReceived {
		t.Errorf("events = %+v", op.Events)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/accounts/"+bob.Hex()+"/balances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balances status = %d", rec.Code)
	}
	bal := decode[BalancesResponse](t, rec)
	if bal.Wei != 3*finney {
		t.Errorf("wei = %d, want 3 finney", bal.Wei)
	}
	if bal.Ether != "0.003" {
		t.Errorf("ether = %q, want 0.003", bal.Ether)
	}
}

func TestBadAddressIs400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/deposits/ether", EtherAmountRequest{
		Address: "not-an-address", Amount: 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPlaceOrderAndOrderBook(t *testing.T) {
	s, eng := newTestServer(t)
	h := s.Handler()

	if _, err := eng.DepositEther(bob, 100*finney); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Address: bob.Hex(), Symbol: "FIXED", Side: "buy", Price: 2 * finney, Volume: 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("place status = %d: %s", rec.Code, rec.Body.String())
	}
	op := decode[OperationResponse](t, rec)
	if len(op.Events) != 1 || op.Events[0].Type != exchange.LimitBuyOrderCreated {
		t.Fatalf("events = %+v", op.Events)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tokens/FIXED/orderbook", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("book status = %d", rec.Code)
	}
	book := decode[OrderBookResponse](t, rec)
	if len(book.Buys.Prices) != 1 || book.Buys.Prices[0] != 2*finney || book.Buys.Volumes[0] != 5 {
		t.Errorf("buys = %+v", book.Buys)
	}
	if book.Buys.PricesEther[0] != "0.002" {
		t.Errorf("display price = %q, want 0.002", book.Buys.PricesEther[0])
	}
	if len(book.Sells.Prices) != 0 {
		t.Errorf("sells = %+v, want empty", book.Sells)
	}
}

func TestPlaceOrderRejectsBadSide(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Address: bob.Hex(), Symbol: "FIXED", Side: "short", Price: 1, Volume: 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCancelOrderOwnership(t *testing.T) {
	s, eng := newTestServer(t)
	h := s.Handler()

	eng.DepositEther(bob, 100*finney)
	evts, err := eng.BuyToken(bob, "FIXED", 2*finney, 5)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	key := evts[0]

	rec := doJSON(t, h, http.MethodPost, "/api/v1/orders/cancel", CancelOrderRequest{
		Address: alice.Hex(), Symbol: "FIXED", IsSell: false,
		Price: key.Price, OrderIndex: key.OrderIndex,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign cancel status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders/cancel", CancelOrderRequest{
		Address: bob.Hex(), Symbol: "FIXED", IsSell: false,
		Price: key.Price, OrderIndex: key.OrderIndex,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders/cancel", CancelOrderRequest{
		Address: bob.Hex(), Symbol: "FIXED", IsSell: false,
		Price: key.Price, OrderIndex: key.OrderIndex,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("re-cancel status = %d, want 404", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	// insufficient balance is a conflict, not a bad request
	rec := doJSON(t, h, http.MethodPost, "/api/v1/withdrawals/ether", EtherAmountRequest{
		Address: bob.Hex(), Amount: 1,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("insufficient withdraw status = %d, want 409", rec.Code)
	}

	// refused external transferFrom surfaces as a bad gateway
	rec = doJSON(t, h, http.MethodPost, "/api/v1/deposits/token", TokenAmountRequest{
		Address: bob.Hex(), Symbol: "FIXED", Amount: 10,
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("refused deposit status = %d, want 502", rec.Code)
	}

	// unknown symbol on an order
	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Address: bob.Hex(), Symbol: "NOPE", Side: "buy", Price: 1, Volume: 1,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d, want 404", rec.Code)
	}
}
