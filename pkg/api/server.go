// Package api exposes the order book over HTTP: signed order requests in,
// order state and balances out, and a websocket stream of book events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/pkg/app/core/asset"
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderset"
	"github.com/uhyunpark/hyperorders/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

const maxBodyBytes = 64 << 10

// Book is the read side of the order book
type Book interface {
	GetOrder(id uint64) (order.Record, bool, error)
	OrderStatus(id uint64) (order.Status, error)
	Escrow(id uint64) (common.Address, *big.Int, error)
	GetOrderCount() uint64
	PendingOrderCount(t order.Type) int
	PendingOrders(t order.Type, begin, end int) ([]order.Record, error)
	Brokers() []common.Address
}

var _ Book = (*orderbook.OrderBook)(nil)

type Config struct {
	Book           Book
	Executor       *transaction.Executor
	Ledger         *asset.Ledger // nil disables the balances endpoint
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	book    Book
	exec    *transaction.Executor
	ledger  *asset.Ledger
	origins []string
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		book:    cfg.Book,
		exec:    cfg.Executor,
		ledger:  cfg.Ledger,
		origins: origins,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", s.handleSubmitRequest).Methods("POST")
	api.HandleFunc("/typed-data", s.handleTypedData).Methods("POST")

	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	if s.ledger != nil {
		api.HandleFunc("/balances/{token}/{address}", s.handleGetBalance).Methods("GET")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub is the websocket event sink; register it with the book's event fanout
func (s *Server) Hub() *Hub { return s.hub }

// Handler is the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var tx transaction.SignedTransaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&tx); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	res, err := s.exec.Submit(r.Context(), &tx)
	if err != nil {
		respondError(w, statusFor(err), "request failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleTypedData returns the eth_signTypedData_v4 payload a wallet signs
func (s *Server) handleTypedData(w http.ResponseWriter, r *http.Request) {
	var req crypto.OrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !req.Action.Valid() {
		respondError(w, http.StatusBadRequest, "unknown action", string(req.Action))
		return
	}
	respondJSON(w, http.StatusOK, s.exec.Verifier().Signer().TypedData(&req))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	rec, pending, err := s.book.GetOrder(id)
	if err != nil {
		respondError(w, statusFor(err), "order not found", err.Error())
		return
	}
	status, err := s.book.OrderStatus(id)
	if err != nil {
		respondError(w, statusFor(err), "order not found", err.Error())
		return
	}
	view := orderView(rec, status, pending)
	if pending {
		if token, amount, err := s.book.Escrow(id); err == nil && amount != nil {
			view.EscrowToken = token.Hex()
			view.Escrow = FormatUnits(amount, Decimals)
		}
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, ok := order.ParseType(q.Get("type"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order type", "type must be position, liquidity or withdrawal")
		return
	}
	total := s.book.PendingOrderCount(t)

	begin, err := intParam(q.Get("begin"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid begin", err.Error())
		return
	}
	end, err := intParam(q.Get("end"), total)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end", err.Error())
		return
	}
	if end > total {
		end = total
	}
	if begin > end {
		begin = end
	}

	recs, err := s.book.PendingOrders(t, begin, end)
	if err != nil {
		respondError(w, statusFor(err), "invalid range", err.Error())
		return
	}
	views := make([]OrderView, len(recs))
	for i, rec := range recs {
		views[i] = orderView(rec, order.StatusPending, true)
	}
	respondJSON(w, http.StatusOK, OrderList{Type: t.String(), Total: total, Begin: begin, End: end, Orders: views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		OrderCount: s.book.GetOrderCount(),
		Pending:    make(map[string]int, len(order.Types)),
		Brokers:    []string{},
	}
	for _, t := range order.Types {
		stats.Pending[t.String()] = s.book.PendingOrderCount(t)
	}
	for _, b := range s.book.Brokers() {
		stats.Brokers = append(stats.Brokers, b.Hex())
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, ok := s.lookupToken(vars["token"])
	if !ok {
		respondError(w, http.StatusNotFound, "unknown token", vars["token"])
		return
	}
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", vars["address"])
		return
	}
	holder := common.HexToAddress(vars["address"])
	bal := s.ledger.BalanceOf(tok.Address, holder)

	respondJSON(w, http.StatusOK, Balance{
		Token:   tok.Address.Hex(),
		Symbol:  tok.Symbol,
		Address: holder.Hex(),
		Balance: FormatUnits(bal, int32(tok.Decimals)),
		Raw:     bal.String(),
	})
}

// lookupToken accepts a token address or a symbol
func (s *Server) lookupToken(key string) (asset.Token, bool) {
	if common.IsHexAddress(key) {
		return s.ledger.Token(common.HexToAddress(key))
	}
	for _, t := range s.ledger.Tokens() {
		if strings.EqualFold(t.Symbol, key) {
			return t, true
		}
	}
	return asset.Token{}, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func statusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrPersist), errors.Is(err, orderbook.ErrCorruptStore),
		errors.Is(err, crypto.ErrNonceStore):
		return http.StatusInternalServerError
	case errors.Is(err, orderset.ErrUnknownID):
		return http.StatusNotFound
	case errors.Is(err, crypto.ErrWrongSigner), errors.Is(err, crypto.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, orderbook.ErrNotAllowed), errors.Is(err, orderbook.ErrBrokerOnly):
		return http.StatusForbidden
	case errors.Is(err, crypto.ErrStaleNonce):
		return http.StatusConflict
	case errors.Is(err, orderbook.ErrCollaborator):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %d", v)
	}
	return v, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}
