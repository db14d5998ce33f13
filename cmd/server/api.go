package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/engine"
	"onchain-executor/internal/eventbus"
	"onchain-executor/internal/position"
	"onchain-executor/internal/storage"
)

// api is the trading HTTP surface.
type api struct {
	engine   *engine.Engine
	monitor  *position.Monitor
	bus      *eventbus.Bus
	accounts []string
	logger   *log.Logger
	started  time.Time
}

func newAPI(eng *engine.Engine, monitor *position.Monitor, bus *eventbus.Bus, accounts []string, logger *log.Logger) *api {
	return &api{
		engine:   eng,
		monitor:  monitor,
		bus:      bus,
		accounts: accounts,
		logger:   logger,
		started:  time.Now(),
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /api/accounts", a.handleAccounts)
	mux.HandleFunc("POST /api/buy", a.handleBuy)
	mux.HandleFunc("POST /api/sell", a.handleSell)
	mux.HandleFunc("GET /api/orders/{id}", a.handleGetOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", a.handleCancelOrder)
	mux.HandleFunc("GET /api/positions", a.handlePositions)
	mux.HandleFunc("GET /api/positions/{id}", a.handleGetPosition)
	mux.HandleFunc("POST /api/positions/{id}/exit", a.handleExitPosition)
	return mux
}

// tradeRequest is the JSON body shared by buy and sell.
type tradeRequest struct {
	AccountID   string  `json:"account_id"`
	SourceAsset string  `json:"source_asset"`
	TargetAsset string  `json:"target_asset"`
	AmountIn    float64 `json:"amount_in"`
	SlippagePct float64 `json:"slippage_pct"`
	DeadlineSec int     `json:"deadline_sec,omitempty"` // default 120
	MaxFee      float64 `json:"max_fee"`
	PriorityFee float64 `json:"priority_fee,omitempty"`
	Channel     string  `json:"channel,omitempty"` // default bundle
	SafetyCheck bool    `json:"safety_check,omitempty"`
	RetryBudget int     `json:"retry_budget,omitempty"` // default 2

	// Buy only: automatic management attached to the fill.
	Plan *engine.ManagePlan `json:"plan,omitempty"`
}

func (r *tradeRequest) toOrderRequest() domain.OrderRequest {
	deadline := 120 * time.Second
	if r.DeadlineSec > 0 {
		deadline = time.Duration(r.DeadlineSec) * time.Second
	}
	channel := domain.ChannelBundle
	if r.Channel != "" {
		channel = domain.SubmissionChannel(r.Channel)
	}
	budget := r.RetryBudget
	if budget < 1 {
		budget = 2
	}
	return domain.OrderRequest{
		AccountID:   r.AccountID,
		SourceAsset: r.SourceAsset,
		TargetAsset: r.TargetAsset,
		AmountIn:    r.AmountIn,
		SlippagePct: r.SlippagePct,
		Deadline:    time.Now().Add(deadline),
		MaxFee:      r.MaxFee,
		PriorityFee: r.PriorityFee,
		Channel:     channel,
		SafetyCheck: r.SafetyCheck,
		RetryBudget: budget,
	}
}

type tradeResponse struct {
	Order    *domain.Order    `json:"order"`
	Position *domain.Position `json:"position,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(a.started).String(),
	})
}

func (a *api) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"accounts": a.accounts})
}

func (a *api) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, pos, err := a.engine.Buy(r.Context(), req.toOrderRequest(), req.Plan)
	if err != nil && order == nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := tradeResponse{Order: order, Position: pos}
	status := http.StatusOK
	if err != nil {
		// The order exists but did not confirm; surface both.
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (a *api) handleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.engine.Sell(r.Context(), req.toOrderRequest())
	if err != nil && order == nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := tradeResponse{Order: order}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (a *api) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.engine.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *api) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	a.engine.CancelOrder(r.PathValue("id"))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

func (a *api) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := a.engine.Positions()
	if positions == nil {
		positions = []*domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (a *api) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := a.engine.Position(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type exitRequest struct {
	Fraction float64 `json:"fraction"` // (0,1], default full exit
}

func (a *api) handleExitPosition(w http.ResponseWriter, r *http.Request) {
	req := exitRequest{Fraction: 1}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	id := r.PathValue("id")
	if err := a.engine.ExitPosition(r.Context(), id, req.Fraction); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	pos, err := a.engine.Position(id)
	if err != nil {
		// Full exits leave the tracked set; report the close.
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
