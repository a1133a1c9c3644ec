package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"
)

// StartHTTP starts the HTTP/JSON API (blocking). Query endpoints read from
// the projection tables; admin endpoints require a bearer token and inject
// events through the core's ingestion channel.
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := http.NewServeMux()

	if s.deps.HealthChecker != nil {
		mux.HandleFunc("GET /healthz", s.deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("GET /readyz", s.deps.HealthChecker.ReadinessHandler)
	}

	mux.HandleFunc("GET /v1/markets", s.handleListMarkets)
	mux.HandleFunc("GET /v1/markets/{id}", s.handleGetMarket)
	mux.HandleFunc("GET /v1/markets/{id}/accruals", s.handleAccrualHistory)
	mux.HandleFunc("GET /v1/accounts/{account}/positions", s.handleAccountPositions)
	mux.HandleFunc("GET /v1/accounts/{account}/liquidity", s.handleAccountLiquidity)
	mux.HandleFunc("GET /v1/accounts/{account}/liquidations", s.handleLiquidationHistory)
	mux.HandleFunc("GET /v1/events", s.handleEventHistory)

	mux.HandleFunc("POST /v1/admin/markets", s.requireAdmin(s.handleListMarket))
	mux.HandleFunc("POST /v1/admin/markets/{id}/collateral-factor", s.requireAdmin(s.handleSetCollateralFactor))
	mux.HandleFunc("POST /v1/admin/markets/{id}/reserve-factor", s.requireAdmin(s.handleSetReserveFactor))
	mux.HandleFunc("POST /v1/admin/markets/{id}/borrow-cap", s.requireAdmin(s.handleSetBorrowCap))
	mux.HandleFunc("POST /v1/admin/markets/{id}/pause", s.requireAdmin(s.handleSetPaused))
	mux.HandleFunc("POST /v1/admin/prices", s.requireAdmin(s.handleInjectPrice))
	mux.HandleFunc("GET /v1/admin/integrity", s.requireAdmin(s.handleVerifyIntegrity))
	mux.HandleFunc("GET /v1/admin/eventlog", s.requireAdmin(s.handleEventLogInfo))

	httpServer := &http.Server{
		Addr:    s.httpAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP API listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- query endpoints ---

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.deps.QueryService.ListMarkets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.deps.QueryService.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if market == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("market %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) handleAccountPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.deps.QueryService.GetAccountPositions(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *Server) handleAccountLiquidity(w http.ResponseWriter, r *http.Request) {
	liq, err := s.deps.QueryService.GetAccountLiquidity(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, liq)
}

func (s *Server) handleAccrualHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	accruals := s.deps.QueryService.GetAccrualHistory(r.PathValue("id"), limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"accruals": accruals})
}

func (s *Server) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	liquidations := s.deps.QueryService.GetLiquidationHistory(r.PathValue("account"), limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": liquidations})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	var marketID *string
	if v := r.URL.Query().Get("market_id"); v != "" {
		marketID = &v
	}

	var beforeSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before_sequence: %q", v))
			return
		}
		beforeSeq = &seq
	}

	events, err := s.deps.QueryService.GetEventHistory(r.Context(), marketID, queryInt(r, "limit", 100), beforeSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// --- admin endpoints ---

type listMarketRequest struct {
	Admin            string `json:"admin"`
	MarketID         string `json:"market_id"`
	Asset            string `json:"asset"`
	CollateralFactor string `json:"collateral_factor"`
	ReserveFactor    string `json:"reserve_factor"`
}

func (s *Server) handleListMarket(w http.ResponseWriter, r *http.Request) {
	var req listMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cf, err := parseWad(req.CollateralFactor, "collateral_factor")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rf, err := parseWad(req.ReserveFactor, "reserve_factor")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.IngestService.InjectListMarket(r.Context(), req.Admin, req.MarketID, req.Asset, cf, rf); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type factorRequest struct {
	Admin  string `json:"admin"`
	Factor string `json:"factor"`
}

func (s *Server) handleSetCollateralFactor(w http.ResponseWriter, r *http.Request) {
	s.handleFactorUpdate(w, r, s.deps.IngestService.InjectCollateralFactor)
}

func (s *Server) handleSetReserveFactor(w http.ResponseWriter, r *http.Request) {
	s.handleFactorUpdate(w, r, s.deps.IngestService.InjectReserveFactor)
}

func (s *Server) handleFactorUpdate(
	w http.ResponseWriter,
	r *http.Request,
	inject func(ctx context.Context, admin, marketID string, factor *big.Int) error,
) {
	var req factorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	factor, err := parseWad(req.Factor, "factor")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := inject(r.Context(), req.Admin, r.PathValue("id"), factor); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type borrowCapRequest struct {
	Admin string `json:"admin"`
	Cap   string `json:"cap"`
}

func (s *Server) handleSetBorrowCap(w http.ResponseWriter, r *http.Request) {
	var req borrowCapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cap, err := parseWad(req.Cap, "cap")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.IngestService.InjectBorrowCap(r.Context(), req.Admin, r.PathValue("id"), cap); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type pauseRequest struct {
	Admin        string `json:"admin"`
	SupplyPaused bool   `json:"supply_paused"`
	BorrowPaused bool   `json:"borrow_paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.IngestService.InjectPause(r.Context(), req.Admin, r.PathValue("id"), req.SupplyPaused, req.BorrowPaused); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type priceRequest struct {
	Asset    string `json:"asset"`
	Price    string `json:"price"`
	Sequence int64  `json:"sequence"`
}

func (s *Server) handleInjectPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := parseWad(req.Price, "price")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.IngestService.InjectPrice(r.Context(), req.Asset, price, req.Sequence); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEventLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence": latestSeq,
		"uptime":        time.Since(s.deps.StartTime).String(),
	})
}

// --- helpers ---

// requireAdmin gates a handler behind the bearer admin token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" {
			writeError(w, http.StatusForbidden, fmt.Errorf("admin API disabled: no admin token configured"))
			return
		}
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid admin token"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", false
	}
	return auth[len(prefix):], true
}

func parseWad(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
