package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/exchange"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/app/dex"
	"github.com/uhyunpark/dexledger/pkg/units"
)

const maxTxBody = 1 << 20

// App is the node surface the API reads from and submits to.
type App interface {
	Info() dex.Info
	Tokens() []dex.TokenInfo
	Decimals(asset common.Address) uint8
	BalanceOf(asset, owner common.Address) *uint256.Int
	WalletBalance(asset, owner common.Address) (*uint256.Int, error)
	Order(id uint64) (orderbook.Record, bool)
	Events(since uint64, limit int) []events.Envelope
	Receipt(h common.Hash) (*transaction.Receipt, error)
	Audit() ([]exchange.Custody, error)
	Nonce(addr common.Address) uint64
	PushTx(raw []byte) (common.Hash, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     App
	router  *mux.Router
	hub     *Hub
	metrics http.Handler
	logger  *zap.SugaredLogger
}

// NewServer creates the API server. metrics may be nil.
func NewServer(app App, metrics http.Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(logger.Named("ws")),
		metrics: metrics,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/balances/{asset}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/nonces/{address}", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/audit", s.handleGetAudit).Methods("GET")

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub so callers can run it.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	info := s.app.Info()
	respondJSON(w, ExchangeInfo{
		Address:     info.Address.Hex(),
		FeeAccount:  info.FeeAccount.Hex(),
		FeePercent:  info.FeePercent,
		OrderCount:  info.OrderCount,
		EventCount:  info.EventCount,
		Height:      info.Height,
		AppHash:     info.AppHash.Hex(),
		ChainID:     info.ChainID,
		MempoolSize: info.Pending,
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Tokens()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = TokenInfo{
			Address:     t.Address.Hex(),
			Name:        t.Name,
			Symbol:      t.Symbol,
			Decimals:    t.Decimals,
			TotalSupply: t.TotalSupply.Dec(),
			Custody:     t.Custody.Dec(),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetID, ok := parseAddress(w, vars["asset"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}

	dec := s.app.Decimals(assetID)
	bal := s.app.BalanceOf(assetID, owner)
	info := BalanceInfo{
		Asset:      assetID.Hex(),
		Owner:      owner.Hex(),
		Balance:    bal.Dec(),
		BalanceFmt: units.Format(bal, dec),
	}
	if wallet, err := s.app.WalletBalance(assetID, owner); err == nil {
		info.Wallet = wallet.Dec()
		info.WalletFmt = units.Format(wallet, dec)
	}
	respondJSON(w, info)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	n := s.app.Nonce(addr)
	respondJSON(w, NonceResponse{Address: addr.Hex(), Nonce: n, NextNonce: n + 1})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	rec, ok := s.app.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, orderInfo(rec))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since uint64
	limit := 100
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since", err.Error())
			return
		}
		since = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", "limit must be in [1,1000]")
			return
		}
		limit = n
	}
	evts := s.app.Events(since, limit)
	if evts == nil {
		evts = []events.Envelope{}
	}
	respondJSON(w, evts)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Audit()
	resp := AuditResponse{OK: err == nil, Custody: make([]CustodyInfo, len(report))}
	for i, c := range report {
		resp.Custody[i] = CustodyInfo{Asset: c.Asset.Hex(), Ledger: c.Ledger.Dec(), Held: c.Held.Dec()}
	}
	if err != nil {
		resp.Error = err.Error()
		if !errors.Is(err, exchange.ErrCustodyViolation) {
			respondError(w, http.StatusInternalServerError, "audit failed", err.Error())
			return
		}
	}
	respondJSON(w, resp)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	hash, err := s.app.PushTx(body)
	if err != nil {
		if errors.Is(err, dex.ErrMempoolRejected) {
			respondError(w, http.StatusBadRequest, "transaction rejected", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to submit transaction", err.Error())
		return
	}

	s.logger.Infow("tx_submitted", "tx", hash.Hex(), "bytes", len(body))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{Status: "submitted", TxHash: hash.Hex()})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid tx hash", raw)
		return
	}
	rcpt, err := s.app.Receipt(common.BytesToHash(b))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load receipt", err.Error())
		return
	}
	if rcpt == nil {
		respondError(w, http.StatusNotFound, "receipt not found", "transaction unknown or not yet executed")
		return
	}
	respondJSON(w, rcpt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "height": s.app.Info().Height})
}

// ==============================
// Broadcast Methods (called from the app hooks)
// ==============================

// PublishEvent fans a committed event out to "events" subscribers, and
// trades also to "trades".
func (s *Server) PublishEvent(env events.Envelope) {
	msg := WSMessage{Type: "event", Channel: "events", Data: env}
	s.hub.BroadcastToChannel("events", msg)
	if env.Event.Kind() == events.KindTrade {
		msg.Channel = "trades"
		s.hub.BroadcastToChannel("trades", msg)
	}
}

// PublishBlock notifies "blocks" subscribers.
func (s *Server) PublishBlock(res dex.BlockResult) {
	failed := 0
	for _, r := range res.Receipts {
		if !r.Success {
			failed++
		}
	}
	s.hub.BroadcastToChannel("blocks", WSMessage{Type: "block", Channel: "blocks", Data: BlockInfo{
		Height:    res.Height,
		Timestamp: res.Timestamp,
		AppHash:   res.AppHash.Hex(),
		Txs:       len(res.Receipts),
		Failed:    failed,
	}})
}

// ==============================
// Helper Functions
// ==============================

func orderInfo(rec orderbook.Record) OrderInfo {
	o := rec.Order
	status := "open"
	switch rec.Status {
	case orderbook.Filled:
		status = "filled"
	case orderbook.Canceled:
		status = "canceled"
	}
	return OrderInfo{
		ID:         o.ID,
		User:       o.User.Hex(),
		TokenBuy:   o.TokenBuy.Hex(),
		AmountBuy:  o.AmountBuy.Dec(),
		TokenSell:  o.TokenSell.Hex(),
		AmountSell: o.AmountSell.Dec(),
		Timestamp:  o.Timestamp,
		Status:     status,
	}
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
