// Package api exposes the exchange engine over REST and streams its event
// log over WebSocket. It holds no state of its own: every response is built
// from engine return values.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tspoff/ethexchange/pkg/exchange"
)

type Server struct {
	eng    *exchange.Exchange
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(eng *exchange.Exchange, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		eng:    eng,
		router: mux.NewRouter(),
		hub:    newHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tokens", s.handleListTokens).Methods("GET")
	api.HandleFunc("/tokens/{symbol}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/tokens/{symbol}/orderbook", s.handleGetOrderBook).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/deposits/ether", s.handleDepositEther).Methods("POST")
	api.HandleFunc("/withdrawals/ether", s.handleWithdrawEther).Methods("POST")
	api.HandleFunc("/deposits/token", s.handleDepositToken).Methods("POST")
	api.HandleFunc("/withdrawals/token", s.handleWithdrawToken).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub, bridges the engine's event feed into it, and serves
// HTTP until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	events, cancel := s.eng.Subscribe(256)
	defer cancel()
	go func() {
		for e := range events {
			s.hub.Broadcast(e)
		}
	}()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler returns the routed handler (used by tests).
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// REST handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	entries := s.eng.ListTokens()
	out := make([]TokenInfo, len(entries))
	for i, e := range entries {
		bid, ask, _ := s.eng.BestPrices(e.Symbol)
		out[i] = TokenInfo{
			Symbol:   e.Symbol,
			Contract: e.Contract.Hex(),
			BestBid:  bid,
			BestAsk:  ask,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	bid, ask, err := s.eng.BestPrices(symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	info := TokenInfo{Symbol: symbol, BestBid: bid, BestAsk: ask}
	for _, e := range s.eng.ListTokens() {
		if e.Symbol == symbol {
			info.Contract = e.Contract.Hex()
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	buyPrices, buyVolumes, err := s.eng.GetBuyOrderBook(symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	sellPrices, sellVolumes, err := s.eng.GetSellOrderBook(symbol)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OrderBookResponse{
		Symbol: symbol,
		Buys:   BookSide{Prices: buyPrices, Volumes: buyVolumes, PricesEther: etherStrings(buyPrices)},
		Sells:  BookSide{Prices: sellPrices, Volumes: sellVolumes, PricesEther: etherStrings(sellPrices)},
	})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}

	wei := s.eng.GetEthBalanceInWei(addr)
	tokens := make(map[string]int64)
	for _, e := range s.eng.ListTokens() {
		bal, err := s.eng.GetBalance(addr, e.Symbol)
		if err == nil && bal != 0 {
			tokens[e.Symbol] = bal
		}
	}

	writeJSON(w, http.StatusOK, BalancesResponse{
		Address: addr.Hex(),
		Wei:     wei,
		Ether:   weiToEther(wei),
		Tokens:  tokens,
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	var evts []exchange.Event
	var err error
	switch req.Side {
	case "buy":
		evts, err = s.eng.BuyToken(addr, req.Symbol, req.Price, req.Volume)
	case "sell":
		evts, err = s.eng.SellToken(addr, req.Symbol, req.Price, req.Volume)
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "side must be buy or sell"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Events: evts})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	evts, err := s.eng.CancelOrder(addr, req.Symbol, req.IsSell, req.Price, req.OrderIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Events: evts})
}

func (s *Server) handleDepositEther(w http.ResponseWriter, r *http.Request) {
	var req EtherAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	evts, err := s.eng.DepositEther(addr, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Events: evts})
}

func (s *Server) handleWithdrawEther(w http.ResponseWriter, r *http.Request) {
	var req EtherAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	evts, err := s.eng.WithdrawEther(addr, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Events: evts})
}

func (s *Server) handleDepositToken(w http.ResponseWriter, r *http.Request) {
	var req TokenAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	evts, err := s.eng.DepositToken(addr, req.Symbol, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Events: evts})
}

func (s *Server) handleWithdrawToken(w http.ResponseWriter, r *http.Request) {
	var req TokenAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	evts, err := s.eng.WithdrawToken(addr, req.Symbol, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Events: evts})
}

// ==============================
// Helpers
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid address"})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an engine failure to an HTTP status. The engine guarantees
// nothing mutated, so every error here is safe to retry after correction.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrUnknownSymbol), errors.Is(err, exchange.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrInvalidAmount), errors.Is(err, exchange.ErrIndexOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrDuplicateSymbol), errors.Is(err, exchange.ErrInsufficientBalance):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrExternalTransferFailed), errors.Is(err, exchange.ErrExternalPayoutFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
