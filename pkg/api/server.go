package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypervault/pkg/app/core/action"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/metrics"
)

// EventLog is the read side of the event journal.
type EventLog interface {
	Tail(limit int) ([]json.RawMessage, error)
}

type Options struct {
	Serial   *vault.Serial
	Executor *action.Executor
	// Feed enables POST /api/v1/prices when set. Devnet only.
	Feed   *oracle.Feed
	Events EventLog
	// AllowedOrigins for CORS; defaults to local frontends.
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	serial  *vault.Serial
	exec    *action.Executor
	feed    *oracle.Feed
	events  EventLog
	origins []string
	router  *mux.Router
	hub     *Hub
	http    *http.Server
	log     *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		serial:  opts.Serial,
		exec:    opts.Executor,
		feed:    opts.Feed,
		events:  opts.Events,
		origins: origins,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(metrics.Middleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/pools", s.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{token}", s.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{token}/fees", s.handleGetFees).Methods("GET")
	api.HandleFunc("/stable", s.handleGetStable).Methods("GET")

	api.HandleFunc("/positions", s.handleGetOpenPositions).Methods("GET")
	api.HandleFunc("/positions/{account}/{collateral}/{index}/{side}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	api.HandleFunc("/actions", s.handleSubmitAction).Methods("POST")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	if s.feed != nil {
		api.HandleFunc("/prices", s.handleSetPrice).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Publish forwards a committed vault event to WebSocket subscribers.
func (s *Server) Publish(ev vault.Event) {
	symbol := ""
	if cfg, ok := s.serial.Vault().Registry().Get(ev.Token); ok {
		symbol = cfg.Symbol
	}
	s.hub.Publish(ev, symbol)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_starting", "addr", addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("api_server_stopped")
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

// resolveToken accepts a symbol or a hex address.
func resolveToken(reg *registry.Registry, s string) (registry.TokenConfig, bool) {
	if common.IsHexAddress(s) {
		return reg.Get(common.HexToAddress(s))
	}
	return reg.BySymbol(s)
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	v := s.serial.Vault()
	list := v.Registry().List()
	out := make([]TokenInfo, 0, len(list))
	for _, cfg := range list {
		out = append(out, tokenInfo(v, cfg))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	v := s.serial.Vault()
	cfg, ok := resolveToken(v.Registry(), mux.Vars(r)["token"])
	if !ok {
		respondError(w, http.StatusNotFound, "token not found", "")
		return
	}
	respondJSON(w, tokenInfo(v, cfg))
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	var out []PoolInfo
	err := s.serial.Do(func(v *vault.Vault) error {
		for _, cfg := range v.Registry().List() {
			info, err := poolInfo(v, cfg, false)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	if out == nil {
		out = []PoolInfo{}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	cfg, ok := resolveToken(s.serial.Vault().Registry(), mux.Vars(r)["token"])
	if !ok {
		respondError(w, http.StatusNotFound, "token not found", "")
		return
	}
	var info PoolInfo
	err := s.serial.Do(func(v *vault.Vault) error {
		var err error
		info, err = poolInfo(v, cfg, true)
		return err
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, info)
}

// handleGetFees prices a mint or redeem: ?op=mint|redeem&amount=<stable units>.
func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	cfg, ok := resolveToken(s.serial.Vault().Registry(), mux.Vars(r)["token"])
	if !ok {
		respondError(w, http.StatusNotFound, "token not found", "")
		return
	}
	op := r.URL.Query().Get("op")
	if op == "" {
		op = "mint"
	}
	if op != "mint" && op != "redeem" {
		respondError(w, http.StatusBadRequest, "invalid op", "op must be mint or redeem")
		return
	}
	amount, err := parseStableUnits(r.URL.Query().Get("amount"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	var bps uint64
	err = s.serial.Do(func(v *vault.Vault) error {
		var err error
		bps, err = v.GetFeeBasisPoints(cfg.Address, amount, op == "mint")
		return err
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, FeeInfo{Token: cfg.Symbol, Op: op, FeeBps: bps, Amount: formatStable(amount)})
}

func (s *Server) handleGetStable(w http.ResponseWriter, r *http.Request) {
	var info StableInfo
	err := s.serial.Do(func(v *vault.Vault) error {
		supply, err := v.StableSupply()
		info.Supply = formatStable(&supply)
		return err
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOpenPositions(w http.ResponseWriter, r *http.Request) {
	var out []PositionInfo
	err := s.serial.Do(func(v *vault.Vault) error {
		open, err := v.OpenPositions()
		if err != nil {
			return err
		}
		out = positionInfos(open)
		return nil
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, out)
}

// handleGetPosition looks a position up by its identity tuple; side is
// "long" or "short".
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	for _, field := range []string{"account", "collateral", "index"} {
		if !common.IsHexAddress(vars[field]) {
			respondError(w, http.StatusBadRequest, "invalid address", field)
			return
		}
	}
	var isLong bool
	switch strings.ToLower(vars["side"]) {
	case "long":
		isLong = true
	case "short":
	default:
		respondError(w, http.StatusBadRequest, "invalid side", "side must be long or short")
		return
	}
	account := common.HexToAddress(vars["account"])
	collateral := common.HexToAddress(vars["collateral"])
	index := common.HexToAddress(vars["index"])

	var info PositionInfo
	err := s.serial.Do(func(v *vault.Vault) error {
		pos, err := v.GetPosition(account, collateral, index, isLong)
		if err != nil {
			return err
		}
		info = positionInfo(&pos)
		if !pos.IsOpen() {
			return nil
		}
		hasProfit, delta, err := v.GetPositionDelta(account, collateral, index, isLong)
		if err != nil {
			return err
		}
		leverage, err := v.GetPositionLeverage(account, collateral, index, isLong)
		if err != nil {
			return err
		}
		state, _, err := v.ValidateLiquidation(account, collateral, index, isLong)
		if err != nil {
			return err
		}
		info.Delta = formatUSD(delta)
		info.HasProfit = &hasProfit
		info.LeverageBps = leverage.Dec()
		info.LiquidationState = state.String()
		return nil
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	info := AccountInfo{Address: addr.Hex()}
	if s.exec != nil {
		info.Nonce = s.exec.Verifier().Nonce(addr)
	}
	err := s.serial.Do(func(v *vault.Vault) error {
		bal, err := v.StableBalance(addr)
		if err != nil {
			return err
		}
		info.StableBalance = formatStable(&bal)
		positions, err := v.AccountPositions(addr)
		if err != nil {
			return err
		}
		info.Positions = positionInfos(positions)
		return nil
	})
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		respondError(w, http.StatusServiceUnavailable, "actions disabled", "")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	sa, err := action.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid action", err.Error())
		return
	}

	receipt, err := s.exec.Submit(sa)
	if err != nil {
		s.respondVaultError(w, err)
		return
	}
	respondJSON(w, s.actionResponse(receipt))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondJSON(w, EventsResponse{Events: []json.RawMessage{}})
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = n
	}
	events, err := s.events.Tail(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal unavailable", err.Error())
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	respondJSON(w, EventsResponse{Events: events})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	cfg, ok := resolveToken(s.serial.Vault().Registry(), req.Token)
	if !ok {
		respondError(w, http.StatusNotFound, "token not found", req.Token)
		return
	}
	price, err := parseUSD(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	if req.SpreadBps != nil {
		if err := s.feed.SetSpread(cfg.Address, *req.SpreadBps); err != nil {
			respondError(w, http.StatusBadRequest, "invalid spread", err.Error())
			return
		}
	}
	if err := s.feed.SetPrice(cfg.Address, price); err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	s.log.Infow("price_set", "token", cfg.Symbol, "price", req.Price)
	respondJSON(w, tokenInfo(s.serial.Vault(), cfg))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps an error to an HTTP status by its vault kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, action.ErrInvalidSignature):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, action.ErrMalformedAction),
		errors.Is(err, action.ErrStaleNonce),
		errors.Is(err, action.ErrExpired):
		return http.StatusBadRequest, "input"
	}
	kind := vault.Classify(err)
	switch kind {
	case vault.KindInput:
		return http.StatusBadRequest, kind.String()
	case vault.KindSolvency:
		return http.StatusConflict, kind.String()
	case vault.KindHealth:
		return http.StatusUnprocessableEntity, kind.String()
	case vault.KindExternal:
		return http.StatusServiceUnavailable, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

func (s *Server) respondVaultError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= 500 {
		s.log.Errorw("request_failed", "kind", kind, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Kind: kind})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
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
